// Package worker 单进程周期调度循环：按各任务节奏依次执行，任务之间互相隔离
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Task 一个周期任务；Schedule 为 nil 表示每轮都执行
type Task struct {
	Name     string
	Schedule cron.Schedule
	Run      func(ctx context.Context) error
}

// ParseCadence 解析 "@every 10m" 或标准 5 段 cron 表达式；空字符串表示每轮执行
func ParseCadence(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("无效的任务节奏 %q: %w", spec, err)
	}
	return sched, nil
}

// Cadence 根据上次运行时间判断任务是否到期
type Cadence struct {
	schedule cron.Schedule
	lastRun  time.Time
}

func NewCadence(schedule cron.Schedule) *Cadence {
	return &Cadence{schedule: schedule}
}

// IsDue 从未运行过的任务立即到期
func (c *Cadence) IsDue(now time.Time) bool {
	if c.schedule == nil || c.lastRun.IsZero() {
		return true
	}
	return !c.schedule.Next(c.lastRun).After(now)
}

func (c *Cadence) MarkRun(now time.Time) {
	c.lastRun = now
}

func (c *Cadence) LastRun() time.Time {
	return c.lastRun
}
