package worker

import (
	"context"

	"MatchAlert/internal/config"
	"MatchAlert/internal/service"
)

// 任务名，同时用作指标标签
const (
	TaskMatchRefresh = "match_refresh"
	TaskDrift        = "drift_analysis"
	TaskScheduling   = "scheduling"
	TaskDelivery     = "delivery"
	TaskCleanup      = "cleanup"
)

type matchRefresher interface {
	Refresh(ctx context.Context) (service.RefreshReport, error)
}

type driftRunner interface {
	Run(ctx context.Context) (service.DriftReport, error)
}

type passRunner interface {
	RunPass(ctx context.Context) (service.PassReport, error)
}

type rescheduler interface {
	Run(ctx context.Context, seen *service.OffsetCache) (service.RescheduleReport, error)
}

type deliverer interface {
	ProcessPendingNotifications(ctx context.Context) (service.DeliveryReport, error)
}

type cleaner interface {
	CleanupOldQueueEntries(ctx context.Context, days int) (int64, error)
}

// Services 循环驱动的各业务组件
type Services struct {
	MatchTimes matchRefresher
	Drift      driftRunner
	Scheduler  passRunner
	Reactor    rescheduler
	Delivery   deliverer
	Cleaner    cleaner
}

// BuildTasks 按固定顺序组装任务：刷新 → 漂移 → 排程+重排 → 投递（每轮）→ 清理
func BuildTasks(cfg *config.Config, svc Services, state *State) ([]Task, error) {
	refresh, err := ParseCadence(cfg.Worker.MatchRefresh)
	if err != nil {
		return nil, err
	}
	drift, err := ParseCadence(cfg.Worker.DriftAnalysis)
	if err != nil {
		return nil, err
	}
	scheduling, err := ParseCadence(cfg.Worker.Scheduling)
	if err != nil {
		return nil, err
	}
	cleanup, err := ParseCadence(cfg.Worker.Cleanup)
	if err != nil {
		return nil, err
	}
	retention := cfg.Delivery.RetentionDays

	return []Task{
		{
			Name:     TaskMatchRefresh,
			Schedule: refresh,
			Run: func(ctx context.Context) error {
				_, err := svc.MatchTimes.Refresh(ctx)
				return err
			},
		},
		{
			Name:     TaskDrift,
			Schedule: drift,
			Run: func(ctx context.Context) error {
				_, err := svc.Drift.Run(ctx)
				return err
			},
		},
		{
			Name:     TaskScheduling,
			Schedule: scheduling,
			Run: func(ctx context.Context) error {
				if _, err := svc.Scheduler.RunPass(ctx); err != nil {
					return err
				}
				_, err := svc.Reactor.Run(ctx, state.OffsetSeen)
				return err
			},
		},
		{
			Name: TaskDelivery,
			Run: func(ctx context.Context) error {
				_, err := svc.Delivery.ProcessPendingNotifications(ctx)
				return err
			},
		},
		{
			Name:     TaskCleanup,
			Schedule: cleanup,
			Run: func(ctx context.Context) error {
				_, err := svc.Cleaner.CleanupOldQueueEntries(ctx, retention)
				return err
			},
		},
	}, nil
}
