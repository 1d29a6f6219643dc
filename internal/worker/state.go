package worker

import (
	"sync"
	"time"

	"MatchAlert/internal/service"

	"github.com/robfig/cron/v3"
)

// State 循环运行期状态，进程重启后清空
type State struct {
	mu       sync.Mutex
	cadences map[string]*Cadence
	isLeader bool
	ticks    int64

	// OffsetSeen 重排反应器记录的已处理偏移
	OffsetSeen *service.OffsetCache
}

// StateSnapshot 调试接口展示用
type StateSnapshot struct {
	IsLeader   bool                 `json:"is_leader"`
	Ticks      int64                `json:"ticks"`
	LastRun    map[string]time.Time `json:"last_run"`
	OffsetSeen map[uint64]int       `json:"offset_seen"`
}

func NewState() *State {
	return &State{
		cadences:   make(map[string]*Cadence),
		OffsetSeen: service.NewOffsetCache(),
	}
}

func (s *State) cadence(name string, schedule cron.Schedule) *Cadence {
	c, ok := s.cadences[name]
	if !ok {
		c = NewCadence(schedule)
		s.cadences[name] = c
	}
	return c
}

// IsDue 任务是否到期
func (s *State) IsDue(task Task, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cadence(task.Name, task.Schedule).IsDue(now)
}

// MarkRun 记录任务运行时间（无论成功失败）
func (s *State) MarkRun(task Task, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cadence(task.Name, task.Schedule).MarkRun(now)
}

func (s *State) SetLeader(v bool) {
	s.mu.Lock()
	s.isLeader = v
	s.mu.Unlock()
}

func (s *State) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLeader
}

func (s *State) incTicks() {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()
}

func (s *State) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := make(map[string]time.Time, len(s.cadences))
	for name, c := range s.cadences {
		if !c.LastRun().IsZero() {
			last[name] = c.LastRun()
		}
	}
	return StateSnapshot{
		IsLeader:   s.isLeader,
		Ticks:      s.ticks,
		LastRun:    last,
		OffsetSeen: s.OffsetSeen.Snapshot(),
	}
}
