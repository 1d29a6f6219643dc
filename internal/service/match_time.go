package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MatchAlert/internal/config"
	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/metrics"
	"MatchAlert/internal/model"
	"MatchAlert/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// guardedSource 数据源外包一层限流与熔断
type guardedSource struct {
	source  interfaces.MatchTimeSource
	breaker *gobreaker.CircuitBreaker[model.MatchTimes]
	limiter *rate.Limiter
}

func newGuardedSource(source interfaces.MatchTimeSource, cfg config.ProviderConfig, logger *logrus.Logger) *guardedSource {
	name := source.Name()
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return &guardedSource{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: gobreaker.NewCircuitBreaker[model.MatchTimes](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    10 * time.Minute,
			Timeout:     5 * time.Minute,
			// 连续 5 次失败后熔断
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"source": name,
					"from":   from.String(),
					"to":     to.String(),
				}).Warn("MatchTime: 熔断器状态变化")
				metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			},
		}),
	}
}

func (g *guardedSource) fetch(ctx context.Context, event *model.Event) (model.MatchTimes, error) {
	times, err := g.breaker.Execute(func() (model.MatchTimes, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return g.source.FetchMatchTimes(ctx, event)
	})
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(g.source.Name(), "error").Inc()
		return nil, err
	}
	metrics.UpstreamRequests.WithLabelValues(g.source.Name(), "ok").Inc()
	return times, nil
}

type cachedTimes struct {
	times     model.MatchTimes
	fetchedAt time.Time
}

// MatchTimeService 主备数据源组合；主源可用条数不足时用备源补齐（不覆盖主源已有条目）
type MatchTimeService struct {
	primary        *guardedSource
	secondary      *guardedSource
	eventRepo      repository.EventRepository
	matchRepo      repository.MatchRepository
	logger         *logrus.Logger
	minUsablePairs int
	cacheTTL       time.Duration
	activePast     time.Duration
	activeFuture   time.Duration
	now            func() time.Time

	mu    sync.Mutex
	cache map[uint64]cachedTimes
}

// NewMatchTimeService primary / secondary 均可为 nil
func NewMatchTimeService(
	primary, secondary interfaces.MatchTimeSource,
	providers map[string]config.ProviderConfig,
	mtCfg config.MatchTimeConfig,
	workerCfg config.WorkerConfig,
	eventRepo repository.EventRepository,
	matchRepo repository.MatchRepository,
	logger *logrus.Logger,
) *MatchTimeService {
	s := &MatchTimeService{
		eventRepo:      eventRepo,
		matchRepo:      matchRepo,
		logger:         logger,
		minUsablePairs: mtCfg.MinUsablePairs,
		cacheTTL:       mtCfg.CacheTTL,
		activePast:     orDefault(workerCfg.ActiveWindowPast, 24*time.Hour),
		activeFuture:   orDefault(workerCfg.ActiveWindowFuture, 168*time.Hour),
		now:            time.Now,
		cache:          make(map[uint64]cachedTimes),
	}
	if s.minUsablePairs <= 0 {
		s.minUsablePairs = 5
	}
	if primary != nil {
		s.primary = newGuardedSource(primary, providers[primary.Name()], logger)
	}
	if secondary != nil {
		s.secondary = newGuardedSource(secondary, providers[secondary.Name()], logger)
	}
	return s
}

// SetClock 测试用
func (s *MatchTimeService) SetClock(now func() time.Time) {
	s.now = now
}

// Fetch 优先返回未过期的缓存
func (s *MatchTimeService) Fetch(ctx context.Context, event *model.Event) (model.MatchTimes, error) {
	if s.cacheTTL > 0 {
		s.mu.Lock()
		c, ok := s.cache[event.ID]
		s.mu.Unlock()
		if ok && s.now().Sub(c.fetchedAt) < s.cacheTTL {
			return c.times, nil
		}
	}
	times, err := s.fetchUpstream(ctx, event)
	if err != nil {
		return nil, err
	}
	s.store(event.ID, times)
	return times, nil
}

func (s *MatchTimeService) store(eventID uint64, times model.MatchTimes) {
	s.mu.Lock()
	s.cache[eventID] = cachedTimes{times: times, fetchedAt: s.now()}
	s.mu.Unlock()
}

func (s *MatchTimeService) fetchUpstream(ctx context.Context, event *model.Event) (model.MatchTimes, error) {
	if s.primary == nil && s.secondary == nil {
		return nil, fmt.Errorf("%w: 未配置任何数据源", ErrUpstreamFetch)
	}

	times := make(model.MatchTimes)
	var primaryErr error
	if s.primary != nil {
		got, err := s.primary.fetch(ctx, event)
		if err != nil {
			primaryErr = err
			s.logger.WithError(err).WithFields(logrus.Fields{
				"event":  event.Code,
				"source": s.primary.source.Name(),
			}).Warn("MatchTime: 主数据源拉取失败")
		} else {
			times = got
		}
	}

	if times.UsableCount() >= s.minUsablePairs || s.secondary == nil {
		if primaryErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, primaryErr)
		}
		return times, nil
	}

	extra, err := s.secondary.fetch(ctx, event)
	if err != nil {
		if primaryErr != nil || s.primary == nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
		}
		s.logger.WithError(err).WithField("event", event.Code).Warn("MatchTime: 备用数据源拉取失败，仅使用主数据源")
		return times, nil
	}
	merged := make(model.MatchTimes, len(times)+len(extra))
	merged.Merge(times)
	added := merged.Merge(extra)
	s.logger.WithFields(logrus.Fields{
		"event":  event.Code,
		"added":  added,
		"usable": merged.UsableCount(),
	}).Debug("MatchTime: 已用备用数据源补充")
	return merged, nil
}

// RefreshReport 一次刷新的统计
type RefreshReport struct {
	Events  int
	Failed  int
	Updated int
}

// Refresh 对活跃赛事强制拉取上游数据并刷新缓存；上游计划时间变动的未来比赛回写 scheduled_time。单赛事失败不阻塞整次运行
func (s *MatchTimeService) Refresh(ctx context.Context) (RefreshReport, error) {
	var report RefreshReport
	now := s.now().UTC()
	events, err := s.eventRepo.ListActive(ctx, now.Add(-s.activePast), now.Add(s.activeFuture))
	if err != nil {
		return report, fmt.Errorf("查询活跃赛事失败: %w", err)
	}
	report.Events = len(events)

	for _, ev := range events {
		times, err := s.fetchUpstream(ctx, ev)
		if err != nil {
			report.Failed++
			s.logger.WithError(err).WithField("event", ev.Code).Warn("MatchTime: 刷新失败，跳过")
			continue
		}
		s.store(ev.ID, times)

		matches, err := s.matchRepo.ListFutureByEvent(ctx, ev.ID, now)
		if err != nil {
			report.Failed++
			s.logger.WithError(err).WithField("event", ev.Code).Warn("MatchTime: 查询未来比赛失败，跳过")
			continue
		}
		updates := make(map[uint64]time.Time)
		for _, m := range matches {
			pair, ok := times[m.Key()]
			if !ok || pair.Scheduled.IsZero() || !pair.Scheduled.After(now) {
				continue
			}
			if m.ScheduledTime == nil || !m.ScheduledTime.Equal(pair.Scheduled) {
				updates[m.ID] = pair.Scheduled
			}
		}
		n, err := s.matchRepo.UpdateScheduledTimes(ctx, updates)
		if err != nil {
			report.Failed++
			s.logger.WithError(err).WithField("event", ev.Code).Warn("MatchTime: 回写计划时间失败")
			continue
		}
		report.Updated += n
	}

	if report.Updated > 0 {
		s.logger.Infof("MatchTime: 刷新 %d 个赛事，更新 %d 场比赛计划时间", report.Events, report.Updated)
	}
	return report, nil
}
