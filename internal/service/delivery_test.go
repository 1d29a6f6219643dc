package service

import (
	"context"
	"testing"
	"time"

	"MatchAlert/internal/config"
	"MatchAlert/internal/database/dbtest"
	"MatchAlert/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliveryFixture struct {
	r     repos
	sub   *model.NotificationSubscription
	match *model.Match
	item  *model.NotificationQueue
}

// newDeliveryFixture CALA 第 12 场 18:00 开赛，提前 20 分钟提醒 → 17:40 到期
func newDeliveryFixture(t *testing.T) deliveryFixture {
	t.Helper()
	r := newRepos(dbtest.New(t))
	ev := dbtest.SeedEvent(t, r.db, "CALA", nil)
	m := dbtest.SeedMatch(t, r.db, ev.ID, 12, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), "254,1678,971")
	sub := dbtest.SeedSubscription(t, r.db, 254, 20)

	s := newTestScheduler(r, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	_, err := s.ScheduleNotificationsForMatch(context.Background(), m)
	require.NoError(t, err)
	rows := pendingRows(t, r)
	require.Len(t, rows, 1)
	return deliveryFixture{r: r, sub: sub, match: m, item: &rows[0]}
}

func (f deliveryFixture) processor(channels *fakeChannels, cfg config.DeliveryConfig, workerID string) *DeliveryProcessor {
	return NewDeliveryProcessor(f.r.queue, f.r.subs, f.r.match, f.r.events, f.r.users, channels, nil, cfg, workerID, nullLogger())
}

func (f deliveryFixture) reload(t *testing.T) *model.NotificationQueue {
	t.Helper()
	item, err := f.r.queue.GetByID(context.Background(), f.item.ID)
	require.NoError(t, err)
	return item
}

func TestDelivery_NotDueYet(t *testing.T) {
	f := newDeliveryFixture(t)
	channels := &fakeChannels{}
	p := f.processor(channels, config.DeliveryConfig{}, "w1")
	p.SetClock(clockAt(time.Date(2025, 3, 10, 17, 39, 0, 0, time.UTC)))

	report, err := p.ProcessPendingNotifications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{}, report)
	assert.Empty(t, channels.emails)
}

func TestDelivery_SendsThroughAllChannels(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t)
	channels := &fakeChannels{}
	p := f.processor(channels, config.DeliveryConfig{}, "w1")
	p.SetClock(clockAt(time.Date(2025, 3, 10, 17, 40, 0, 0, time.UTC)))

	report, err := p.ProcessPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, []string{"scout@example.com"}, channels.emails)
	assert.Len(t, channels.pushes, 1)

	item := f.reload(t)
	assert.Equal(t, model.QueueStatusSent, item.Status)
	assert.Equal(t, 0, item.Attempts)
	assert.Nil(t, item.ClaimedBy)
	require.NotNil(t, item.LastAttempt)

	logs, err := f.r.logs.ListByQueueID(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.QueueStatusSent, logs[0].Status)
	assert.True(t, logs[0].EmailSent)
	assert.Equal(t, 1, logs[0].PushSentCount)
	assert.Contains(t, logs[0].Title, "[CALA] Team 254")
	assert.NotEmpty(t, logs[0].LogUUID)

	// 终态条目不再被处理
	report, err = p.ProcessPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{}, report)
}

func TestDelivery_RetriesAreBounded(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t)
	channels := &fakeChannels{fail: true}
	p := f.processor(channels, config.DeliveryConfig{MaxAttempts: 3}, "w1")
	start := time.Date(2025, 3, 10, 17, 40, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		p.SetClock(clockAt(start.Add(time.Duration(i) * time.Minute)))
		report, err := p.ProcessPendingNotifications(ctx)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, 1, report.Retried, "run %d", i)
			item := f.reload(t)
			assert.Equal(t, model.QueueStatusPending, item.Status)
			assert.Equal(t, i+1, item.Attempts)
			// 重试不改变计划发送时间
			assert.True(t, item.ScheduledFor.Equal(start))
		} else {
			assert.Equal(t, 1, report.Failed)
		}
	}

	item := f.reload(t)
	assert.Equal(t, model.QueueStatusFailed, item.Status)
	assert.Equal(t, 3, item.Attempts)
	require.NotNil(t, item.ErrorMessage)
	assert.Contains(t, *item.ErrorMessage, "smtp unavailable")

	logs, err := f.r.logs.ListByQueueID(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	p.SetClock(clockAt(start.Add(10 * time.Minute)))
	report, err := p.ProcessPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{}, report)
	assert.Len(t, channels.emails, 3)
}

func TestDelivery_RetryBackoff(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t)
	channels := &fakeChannels{fail: true}
	p := f.processor(channels, config.DeliveryConfig{RetryBackoff: 5 * time.Minute}, "w1")
	start := time.Date(2025, 3, 10, 17, 40, 0, 0, time.UTC)

	p.SetClock(clockAt(start))
	_, err := p.ProcessPendingNotifications(ctx)
	require.NoError(t, err)

	p.SetClock(clockAt(start.Add(2 * time.Minute)))
	report, err := p.ProcessPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, f.reload(t).Attempts)

	p.SetClock(clockAt(start.Add(6 * time.Minute)))
	report, err = p.ProcessPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 2, f.reload(t).Attempts)
}

func TestDelivery_InactiveSubscriptionCancels(t *testing.T) {
	f := newDeliveryFixture(t)
	require.NoError(t, f.r.db.Model(f.sub).Update("is_active", false).Error)
	channels := &fakeChannels{}
	p := f.processor(channels, config.DeliveryConfig{}, "w1")
	p.SetClock(clockAt(time.Date(2025, 3, 10, 17, 45, 0, 0, time.UTC)))

	report, err := p.ProcessPendingNotifications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cancelled)
	assert.Empty(t, channels.emails)

	item := f.reload(t)
	assert.Equal(t, model.QueueStatusCancelled, item.Status)
	assert.Equal(t, 0, item.Attempts)
}

func TestDelivery_MissingReferencesFailWithoutAttempt(t *testing.T) {
	cases := map[string]func(f deliveryFixture) error{
		"subscription": func(f deliveryFixture) error {
			return f.r.db.Delete(&model.NotificationSubscription{}, f.sub.ID).Error
		},
		"match": func(f deliveryFixture) error {
			return f.r.db.Delete(&model.Match{}, f.match.ID).Error
		},
		"user": func(f deliveryFixture) error {
			return f.r.db.Delete(&model.User{}, f.sub.UserID).Error
		},
	}
	for name, remove := range cases {
		t.Run(name, func(t *testing.T) {
			f := newDeliveryFixture(t)
			require.NoError(t, remove(f))
			channels := &fakeChannels{}
			p := f.processor(channels, config.DeliveryConfig{}, "w1")
			p.SetClock(clockAt(time.Date(2025, 3, 10, 17, 45, 0, 0, time.UTC)))

			report, err := p.ProcessPendingNotifications(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, report.Failed)
			assert.Empty(t, channels.emails)

			item := f.reload(t)
			assert.Equal(t, model.QueueStatusFailed, item.Status)
			assert.Equal(t, 0, item.Attempts)
			require.NotNil(t, item.ErrorMessage)
			assert.Contains(t, *item.ErrorMessage, ErrReferenceMissing.Error())
		})
	}
}

func TestDelivery_NoDeliverableChannelCountsAsAttempt(t *testing.T) {
	f := newDeliveryFixture(t)
	require.NoError(t, f.r.db.Model(f.sub).Updates(map[string]interface{}{
		"email_enabled": false,
		"push_enabled":  false,
	}).Error)
	p := f.processor(&fakeChannels{}, config.DeliveryConfig{}, "w1")
	p.SetClock(clockAt(time.Date(2025, 3, 10, 17, 45, 0, 0, time.UTC)))

	report, err := p.ProcessPendingNotifications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	item := f.reload(t)
	assert.Equal(t, 1, item.Attempts)
	require.NotNil(t, item.ErrorMessage)
	assert.Contains(t, *item.ErrorMessage, "no deliverable channel")
}

func TestDelivery_PanicIsIsolated(t *testing.T) {
	f := newDeliveryFixture(t)
	p := f.processor(&fakeChannels{panics: true}, config.DeliveryConfig{}, "w1")
	p.SetClock(clockAt(time.Date(2025, 3, 10, 17, 45, 0, 0, time.UTC)))

	report, err := p.ProcessPendingNotifications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	item := f.reload(t)
	assert.Equal(t, model.QueueStatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Nil(t, item.ClaimedBy)
}

func TestDelivery_ClaimedByAnotherWorkerIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t)
	now := time.Date(2025, 3, 10, 17, 45, 0, 0, time.UTC)

	ok, err := f.r.queue.Claim(ctx, f.item.ID, "other", now, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	channels := &fakeChannels{}
	p := f.processor(channels, config.DeliveryConfig{}, "w1")
	p.SetClock(clockAt(now))
	report, err := p.ProcessPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sent)
	assert.Empty(t, channels.emails)

	// 认领过期后可被接手
	p.SetClock(clockAt(now.Add(6 * time.Minute)))
	report, err = p.ProcessPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
}
