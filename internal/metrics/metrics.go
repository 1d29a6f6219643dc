// Package metrics 调度与投递的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsScheduled 排程新建的队列条目
	NotificationsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchalert_notifications_scheduled_total",
		Help: "Queue entries created by the scheduler",
	})

	// NotificationsRescheduled 已有 pending 条目的发送时间被改写
	NotificationsRescheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchalert_notifications_rescheduled_total",
		Help: "Pending queue entries whose send time was moved",
	})

	// DeliveryOutcomes 投递处理结果：sent/failed/cancelled/retry
	DeliveryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchalert_delivery_outcomes_total",
		Help: "Queue entry outcomes produced by the delivery processor",
	}, []string{"outcome"})

	// ChannelSends 各渠道发送结果
	ChannelSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchalert_channel_sends_total",
		Help: "Delivery channel sends by channel and result",
	}, []string{"channel", "result"})

	// EventScheduleOffset 最近一次分析得到的近期偏移（分钟）
	EventScheduleOffset = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchalert_event_schedule_offset_minutes",
		Help: "Recent schedule offset estimated for an event",
	}, []string{"event"})

	// EventDriftConfidence 最近一次分析的置信度
	EventDriftConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchalert_event_drift_confidence",
		Help: "Confidence of the latest drift estimate for an event",
	}, []string{"event"})

	// TaskDuration 各周期任务耗时
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchalert_task_duration_seconds",
		Help:    "Duration of worker loop tasks",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	// TaskFailures 任务失败或 panic 次数
	TaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchalert_task_failures_total",
		Help: "Worker loop task failures, panics included",
	}, []string{"task"})

	// UpstreamRequests 上游数据源请求结果
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchalert_upstream_requests_total",
		Help: "Upstream match-time requests by source and result",
	}, []string{"source", "result"})

	// BreakerState 上游熔断器状态：0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchalert_upstream_breaker_state",
		Help: "Circuit breaker state per upstream source",
	}, []string{"source"})

	// IsLeader 当前进程是否持有领导权
	IsLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchalert_worker_is_leader",
		Help: "1 when this process holds worker leadership",
	})
)
