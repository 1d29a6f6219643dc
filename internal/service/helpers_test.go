package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/model"
	"MatchAlert/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
)

func nullLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type repos struct {
	db     *gorm.DB
	events repository.EventRepository
	match  repository.MatchRepository
	subs   repository.SubscriptionRepository
	users  repository.UserRepository
	queue  repository.QueueRepository
	logs   repository.LogRepository
}

func newRepos(db *gorm.DB) repos {
	return repos{
		db:     db,
		events: repository.NewEventRepository(db),
		match:  repository.NewMatchRepository(db),
		subs:   repository.NewSubscriptionRepository(db),
		users:  repository.NewUserRepository(db),
		queue:  repository.NewQueueRepository(db),
		logs:   repository.NewLogRepository(db),
	}
}

// staticProvider 固定返回同一份时间对
type staticProvider struct {
	times model.MatchTimes
	err   error
	calls int
}

func (p *staticProvider) Fetch(ctx context.Context, event *model.Event) (model.MatchTimes, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.times, nil
}

// fakeSource 可计数的上游数据源
type fakeSource struct {
	name  string
	times model.MatchTimes
	err   error
	calls int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) FetchMatchTimes(ctx context.Context, event *model.Event) (model.MatchTimes, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.times, nil
}

// fakeChannels 记录每次发送；fail=true 时所有渠道都失败
type fakeChannels struct {
	mu     sync.Mutex
	fail   bool
	panics bool
	emails []string
	pushes []uint64
}

var _ interfaces.DeliveryChannels = (*fakeChannels)(nil)

func (c *fakeChannels) SendEmail(ctx context.Context, to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panics {
		panic("smtp exploded")
	}
	c.emails = append(c.emails, to)
	if c.fail {
		return errors.New("smtp unavailable")
	}
	return nil
}

func (c *fakeChannels) SendPush(ctx context.Context, userID uint64, title, message string, data map[string]string) interfaces.PushResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, userID)
	if c.fail {
		return interfaces.PushResult{FailedCount: 1, Errors: []string{"device unreachable"}}
	}
	return interfaces.PushResult{SuccessCount: 1}
}
