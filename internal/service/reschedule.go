package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MatchAlert/internal/model"
	"MatchAlert/internal/repository"

	"github.com/sirupsen/logrus"
)

// OffsetCache 每个 worker 进程内记录"已据此重排过的偏移"，不持久化；进程重启后清空
type OffsetCache struct {
	mu   sync.RWMutex
	seen map[uint64]int
}

func NewOffsetCache() *OffsetCache {
	return &OffsetCache{seen: make(map[uint64]int)}
}

func (c *OffsetCache) Get(eventID uint64) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.seen[eventID]
	return v, ok
}

func (c *OffsetCache) Set(eventID uint64, offset int) {
	c.mu.Lock()
	c.seen[eventID] = offset
	c.mu.Unlock()
}

// Snapshot 拷贝一份，供状态接口展示
func (c *OffsetCache) Snapshot() map[uint64]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint64]int, len(c.seen))
	for k, v := range c.seen {
		out[k] = v
	}
	return out
}

// RescheduleReport 一次重排的统计
type RescheduleReport struct {
	Drifted     int
	Rescheduled int
	Deleted     int64
	Created     int
	Failed      int
}

// RescheduleReactor 赛事偏移发生实质变化时，删除其未来比赛的 pending 条目并重新排程
type RescheduleReactor struct {
	eventRepo repository.EventRepository
	matchRepo repository.MatchRepository
	queueRepo repository.QueueRepository
	scheduler *NotificationScheduler
	threshold int
	logger    *logrus.Logger
	now       func() time.Time
}

func NewRescheduleReactor(
	eventRepo repository.EventRepository,
	matchRepo repository.MatchRepository,
	queueRepo repository.QueueRepository,
	scheduler *NotificationScheduler,
	thresholdMinutes int,
	logger *logrus.Logger,
) *RescheduleReactor {
	if thresholdMinutes <= 0 {
		thresholdMinutes = 15
	}
	return &RescheduleReactor{
		eventRepo: eventRepo,
		matchRepo: matchRepo,
		queueRepo: queueRepo,
		scheduler: scheduler,
		threshold: thresholdMinutes,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock 测试用
func (r *RescheduleReactor) SetClock(now func() time.Time) {
	r.now = now
}

// Run |schedule_offset| ≥ 阈值且与缓存不同（含首次出现）的赛事执行重排；成功后更新缓存
func (r *RescheduleReactor) Run(ctx context.Context, seen *OffsetCache) (RescheduleReport, error) {
	var report RescheduleReport
	events, err := r.eventRepo.ListDrifted(ctx, r.threshold)
	if err != nil {
		return report, fmt.Errorf("查询漂移赛事失败: %w", err)
	}
	report.Drifted = len(events)

	for _, ev := range events {
		offset := *ev.ScheduleOffset
		if last, ok := seen.Get(ev.ID); ok && last == offset {
			continue
		}
		deleted, created, err := r.rescheduleEvent(ctx, ev)
		report.Deleted += deleted
		report.Created += created
		if err != nil {
			report.Failed++
			r.logger.WithError(err).WithField("event", ev.Code).Warn("Reschedule: 重排失败，下轮重试")
			continue
		}
		seen.Set(ev.ID, offset)
		report.Rescheduled++
		r.logger.WithFields(logrus.Fields{
			"event":   ev.Code,
			"offset":  offset,
			"deleted": deleted,
			"created": created,
		}).Info("Reschedule: 赛事偏移变化，已重排通知")
	}
	return report, nil
}

func (r *RescheduleReactor) rescheduleEvent(ctx context.Context, ev *model.Event) (int64, int, error) {
	future, err := r.matchRepo.ListFutureByEvent(ctx, ev.ID, r.now().UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("查询未来比赛失败: %w", err)
	}
	if len(future) == 0 {
		return 0, 0, nil
	}
	ids := make([]uint64, 0, len(future))
	for _, m := range future {
		ids = append(ids, m.ID)
	}
	deleted, err := r.queueRepo.DeletePendingForMatches(ctx, ids)
	if err != nil {
		return 0, 0, fmt.Errorf("删除待发送条目失败: %w", err)
	}

	created := 0
	var firstErr error
	for _, m := range future {
		n, err := r.scheduler.ScheduleNotificationsForMatch(ctx, m)
		created += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return deleted, created, firstErr
}
