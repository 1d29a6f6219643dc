package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Loop 周期调度循环；leader 为 nil 时视为始终持有领导权
type Loop struct {
	tasks   []Task
	state   *State
	leader  interfaces.LeaderElection
	logger  *logrus.Logger
	tick    time.Duration
	backoff time.Duration
	now     func() time.Time
}

func NewLoop(tasks []Task, state *State, leader interfaces.LeaderElection, tick, backoff time.Duration, logger *logrus.Logger) *Loop {
	if state == nil {
		state = NewState()
	}
	if tick <= 0 {
		tick = 60 * time.Second
	}
	if backoff <= 0 {
		backoff = 60 * time.Second
	}
	return &Loop{
		tasks:   tasks,
		state:   state,
		leader:  leader,
		logger:  logger,
		tick:    tick,
		backoff: backoff,
		now:     time.Now,
	}
}

// SetClock 测试用
func (l *Loop) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Loop) State() *State {
	return l.state
}

// Run 阻塞直到 ctx 取消；单轮内的异常不会让循环退出
func (l *Loop) Run(ctx context.Context) error {
	l.logger.WithFields(logrus.Fields{
		"tick":  l.tick.String(),
		"tasks": len(l.tasks),
	}).Info("Worker: 调度循环启动")

	wait := l.tick
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Worker: 收到退出信号，调度循环结束")
			return ctx.Err()
		case <-time.After(wait):
		}

		wait = l.tick
		if err := l.iterate(ctx); err != nil {
			l.logger.WithError(err).Error("Worker: 本轮异常，退避后继续")
			wait = l.backoff
		}
	}
}

// iterate 外层保护：选主或调度本身出现 panic 也只影响本轮
func (l *Loop) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("调度循环 panic: %v", r)
			l.logger.WithField("stack", string(debug.Stack())).Error("Worker: 调度循环 panic")
		}
	}()

	if err := l.ensureLeadership(ctx); err != nil {
		if errors.Is(err, interfaces.ErrLockContention) {
			l.logger.Debug("Worker: 未持有领导权，本轮空闲")
			return nil
		}
		return err
	}
	l.RunTick(ctx)
	return nil
}

// ensureLeadership 持有者续约，非持有者尝试获取；被他人持有时返回 ErrLockContention
func (l *Loop) ensureLeadership(ctx context.Context) error {
	if l.leader == nil {
		l.setLeader(true)
		return nil
	}

	if l.state.IsLeader() {
		err := l.leader.Heartbeat(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, interfaces.ErrLeadershipLost) {
			return fmt.Errorf("续约失败: %w", err)
		}
		l.logger.Warn("Worker: 领导权已丢失，重新竞选")
		l.setLeader(false)
	}

	ok, err := l.leader.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("竞选领导权失败: %w", err)
	}
	l.setLeader(ok)
	if !ok {
		return interfaces.ErrLockContention
	}
	l.logger.Info("Worker: 已获得领导权")
	return nil
}

func (l *Loop) setLeader(v bool) {
	l.state.SetLeader(v)
	if v {
		metrics.IsLeader.Set(1)
	} else {
		metrics.IsLeader.Set(0)
	}
}

// RunTick 按顺序执行所有到期任务
func (l *Loop) RunTick(ctx context.Context) {
	l.state.incTicks()
	for _, task := range l.tasks {
		if ctx.Err() != nil {
			return
		}
		now := l.now()
		if !l.state.IsDue(task, now) {
			continue
		}
		// 失败也记录运行时间，避免每轮重复冲击上游
		l.state.MarkRun(task, now)
		if err := l.safeRun(ctx, task); err != nil {
			l.logger.WithError(err).WithField("task", task.Name).Warn("Worker: 任务执行失败")
		}
	}
}

// safeRun 单个任务的错误/panic 边界
func (l *Loop) safeRun(ctx context.Context, task Task) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("任务 %s panic: %v", task.Name, r)
			l.logger.WithFields(logrus.Fields{
				"task":  task.Name,
				"stack": string(debug.Stack()),
			}).Error("Worker: 任务 panic")
		}
		metrics.TaskDuration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.TaskFailures.WithLabelValues(task.Name).Inc()
		}
	}()
	return task.Run(ctx)
}
