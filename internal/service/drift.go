package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"MatchAlert/internal/config"
	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/metrics"
	"MatchAlert/internal/model"
	"MatchAlert/internal/repository"

	"github.com/sirupsen/logrus"
)

// DriftResult 单个赛事的漂移估计，纯计算结果
type DriftResult struct {
	OffsetMinutes       float64 // 全部样本平均延迟
	RecentOffsetMinutes float64 // 最近几场的平均延迟
	Confidence          float64 // 0~1
	SampleSize          int
}

// AdjustResult 修正步骤的结果；Applied=false 时 Reason 说明原因
type AdjustResult struct {
	Applied        bool
	Reason         string
	MatchesShifted int
	Offset         int
}

// DelaySample 一场比赛的实际开赛相对计划的延迟
type DelaySample struct {
	Key          model.MatchKey
	Actual       time.Time
	DelayMinutes float64
}

// DriftAnalyzer 比对上游实际开赛时间与库中计划时间，估计赛事整体偏移并修正未来比赛
type DriftAnalyzer struct {
	eventRepo repository.EventRepository
	matchRepo repository.MatchRepository
	provider  interfaces.MatchTimeProvider
	cfg       config.DriftConfig
	logger    *logrus.Logger
	now       func() time.Time
	// active 窗口
	activePast   time.Duration
	activeFuture time.Duration
}

func NewDriftAnalyzer(
	eventRepo repository.EventRepository,
	matchRepo repository.MatchRepository,
	provider interfaces.MatchTimeProvider,
	cfg config.DriftConfig,
	workerCfg config.WorkerConfig,
	logger *logrus.Logger,
) *DriftAnalyzer {
	return &DriftAnalyzer{
		eventRepo:    eventRepo,
		matchRepo:    matchRepo,
		provider:     provider,
		cfg:          withDriftDefaults(cfg),
		logger:       logger,
		now:          time.Now,
		activePast:   orDefault(workerCfg.ActiveWindowPast, 24*time.Hour),
		activeFuture: orDefault(workerCfg.ActiveWindowFuture, 168*time.Hour),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// withDriftDefaults 未配置的阈值取默认值
func withDriftDefaults(cfg config.DriftConfig) config.DriftConfig {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.3
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 3
	}
	if cfg.MinAdjustMinutes <= 0 {
		cfg.MinAdjustMinutes = 2
	}
	if cfg.RescheduleMinutes <= 0 {
		cfg.RescheduleMinutes = 5
	}
	if cfg.ReactorMinutes <= 0 {
		cfg.ReactorMinutes = 15
	}
	if cfg.MaxDelayMinutes <= 0 {
		cfg.MaxDelayMinutes = 1440
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 3
	}
	if cfg.StddevNormalizeMin <= 0 {
		cfg.StddevNormalizeMin = 30
	}
	return cfg
}

// SetClock 测试用
func (a *DriftAnalyzer) SetClock(now func() time.Time) {
	a.now = now
}

// Analyze 拉取上游时间对并与库中比赛按 (类型, 编号) join，计算偏移与置信度；不修改任何数据
func (a *DriftAnalyzer) Analyze(ctx context.Context, event *model.Event) (DriftResult, error) {
	matches, err := a.matchRepo.ListScheduledByEvent(ctx, event.ID, event.ScoutingTeamNumber)
	if err != nil {
		return DriftResult{}, fmt.Errorf("查询赛事比赛失败: %w", err)
	}
	if len(matches) == 0 {
		return DriftResult{}, nil
	}
	times, err := a.provider.Fetch(ctx, event)
	if err != nil {
		return DriftResult{}, err
	}
	return ComputeDrift(JoinSamples(matches, times, a.cfg.MaxDelayMinutes), a.cfg), nil
}

// JoinSamples 只保留计划与实际都存在、且 |延迟| 不超过 maxDelay 的样本，按实际开赛时间升序
func JoinSamples(matches []*model.Match, times model.MatchTimes, maxDelay float64) []DelaySample {
	if maxDelay <= 0 {
		maxDelay = 1440
	}
	var samples []DelaySample
	for _, m := range matches {
		key := m.Key()
		pair, ok := times[key]
		if !ok || pair.Actual == nil || pair.Scheduled.IsZero() {
			continue
		}
		delay := pair.Actual.Sub(pair.Scheduled).Minutes()
		if math.Abs(delay) > maxDelay {
			continue
		}
		samples = append(samples, DelaySample{Key: key, Actual: *pair.Actual, DelayMinutes: delay})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Actual.Before(samples[j].Actual)
	})
	return samples
}

// ComputeDrift offset 为全部样本均值，recent 为最近 recent_window 个样本均值；
// confidence = 0.6·min(n/10, 1) + 0.4·max(0, 1 − stddev/30)，stddev 为样本标准差
func ComputeDrift(samples []DelaySample, cfg config.DriftConfig) DriftResult {
	n := len(samples)
	if n == 0 {
		return DriftResult{}
	}
	window := cfg.RecentWindow
	if window <= 0 {
		window = 3
	}
	norm := cfg.StddevNormalizeMin
	if norm <= 0 {
		norm = 30
	}

	sum := 0.0
	for _, s := range samples {
		sum += s.DelayMinutes
	}
	mean := sum / float64(n)

	start := n - window
	if start < 0 {
		start = 0
	}
	recentSum := 0.0
	for _, s := range samples[start:] {
		recentSum += s.DelayMinutes
	}
	recent := recentSum / float64(n-start)

	stddev := 0.0
	if n >= 2 {
		sq := 0.0
		for _, s := range samples {
			d := s.DelayMinutes - mean
			sq += d * d
		}
		stddev = math.Sqrt(sq / float64(n-1))
	}

	sizeScore := math.Min(float64(n)/10, 1)
	spreadScore := math.Max(0, 1-stddev/norm)
	return DriftResult{
		OffsetMinutes:       mean,
		RecentOffsetMinutes: recent,
		Confidence:          0.6*sizeScore + 0.4*spreadScore,
		SampleSize:          n,
	}
}

// AdjustFutureMatchTimes 通过门槛时，把计划时间晚于 now 的比赛预测时间设为 计划+recent，并写入赛事偏移
func (a *DriftAnalyzer) AdjustFutureMatchTimes(ctx context.Context, event *model.Event, result DriftResult) (AdjustResult, error) {
	if reason := a.gate(result); reason != "" {
		return AdjustResult{Reason: reason}, nil
	}

	now := a.now().UTC()
	matches, err := a.matchRepo.ListFutureByEvent(ctx, event.ID, now)
	if err != nil {
		return AdjustResult{}, fmt.Errorf("查询未来比赛失败: %w", err)
	}
	shift := time.Duration(math.Round(result.RecentOffsetMinutes * float64(time.Minute)))
	predictions := make(map[uint64]time.Time, len(matches))
	for _, m := range matches {
		if m.ScheduledTime == nil || !m.ScheduledTime.After(now) {
			continue
		}
		predicted := m.ScheduledTime.Add(shift)
		if m.PredictedTime != nil && m.PredictedTime.Equal(predicted) {
			continue
		}
		predictions[m.ID] = predicted
	}

	offset := int(math.Round(result.RecentOffsetMinutes))
	if err := a.eventRepo.ApplyDrift(ctx, event.ID, predictions, offset); err != nil {
		return AdjustResult{}, err
	}
	event.ScheduleOffset = &offset
	return AdjustResult{Applied: true, MatchesShifted: len(predictions), Offset: offset}, nil
}

// gate 返回空字符串表示可以修正
func (a *DriftAnalyzer) gate(result DriftResult) string {
	if result.SampleSize < a.cfg.MinSamples {
		return fmt.Sprintf("样本不足: %d < %d", result.SampleSize, a.cfg.MinSamples)
	}
	if result.Confidence < a.cfg.MinConfidence {
		return fmt.Sprintf("置信度不足: %.2f < %.2f", result.Confidence, a.cfg.MinConfidence)
	}
	if math.Abs(result.RecentOffsetMinutes) < a.cfg.MinAdjustMinutes {
		return fmt.Sprintf("偏移过小: %.1f分钟", result.RecentOffsetMinutes)
	}
	return ""
}

// ShouldRescheduleNotifications 置信度达标、近期偏移 ≥ reschedule_minutes 且赛事已有持久化偏移
func (a *DriftAnalyzer) ShouldRescheduleNotifications(event *model.Event, result DriftResult) bool {
	return result.SampleSize >= a.cfg.MinSamples &&
		result.Confidence >= a.cfg.MinConfidence &&
		math.Abs(result.RecentOffsetMinutes) >= a.cfg.RescheduleMinutes &&
		event.ScheduleOffset != nil
}

// DriftReport 一轮分析的统计
type DriftReport struct {
	Events   int
	Adjusted int
	Skipped  int
	Failed   int
}

// Run 对所有活跃赛事做漂移分析与修正；上游失败的赛事本轮跳过，不写入任何数据
func (a *DriftAnalyzer) Run(ctx context.Context) (DriftReport, error) {
	var report DriftReport
	now := a.now().UTC()
	events, err := a.eventRepo.ListActive(ctx, now.Add(-a.activePast), now.Add(a.activeFuture))
	if err != nil {
		return report, fmt.Errorf("查询活跃赛事失败: %w", err)
	}
	report.Events = len(events)

	for _, ev := range events {
		result, err := a.Analyze(ctx, ev)
		if err != nil {
			report.Failed++
			a.logger.WithError(err).WithField("event", ev.Code).Warn("Drift: 分析失败，跳过")
			continue
		}
		metrics.EventScheduleOffset.WithLabelValues(ev.Code).Set(result.RecentOffsetMinutes)
		metrics.EventDriftConfidence.WithLabelValues(ev.Code).Set(result.Confidence)

		adj, err := a.AdjustFutureMatchTimes(ctx, ev, result)
		if err != nil {
			report.Failed++
			a.logger.WithError(err).WithField("event", ev.Code).Warn("Drift: 修正预测时间失败")
			continue
		}
		fields := logrus.Fields{
			"event":      ev.Code,
			"samples":    result.SampleSize,
			"offset":     fmt.Sprintf("%.1f", result.OffsetMinutes),
			"recent":     fmt.Sprintf("%.1f", result.RecentOffsetMinutes),
			"confidence": fmt.Sprintf("%.2f", result.Confidence),
		}
		if !adj.Applied {
			report.Skipped++
			a.logger.WithFields(fields).Debugf("Drift: 未修正（%s）", adj.Reason)
			continue
		}
		report.Adjusted++
		fields["shifted"] = adj.MatchesShifted
		fields["reschedule"] = a.ShouldRescheduleNotifications(ev, result)
		a.logger.WithFields(fields).Info("Drift: 已修正未来比赛预测时间")
	}
	return report, nil
}
