package service

import (
	"context"
	"testing"
	"time"

	"MatchAlert/internal/database/dbtest"
	"MatchAlert/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(r repos, now time.Time) *NotificationScheduler {
	s := NewNotificationScheduler(r.events, r.match, r.subs, r.queue, 48*time.Hour, nullLogger())
	s.SetClock(clockAt(now))
	return s
}

func pendingRows(t *testing.T, r repos) []model.NotificationQueue {
	t.Helper()
	var rows []model.NotificationQueue
	require.NoError(t, r.db.Where("status = ?", model.QueueStatusPending).Order("id").Find(&rows).Error)
	return rows
}

func TestScheduleNotificationsForMatch_CreatesOnceAtSendTime(t *testing.T) {
	ctx := context.Background()
	r := newRepos(dbtest.New(t))
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	matchAt := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

	ev := dbtest.SeedEvent(t, r.db, "CALA", nil)
	m := dbtest.SeedMatch(t, r.db, ev.ID, 12, matchAt, "254,1678,971")
	sub := dbtest.SeedSubscription(t, r.db, 254, 20)
	s := newTestScheduler(r, now)

	n, err := s.ScheduleNotificationsForMatch(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 再次调用不产生重复
	n, err = s.ScheduleNotificationsForMatch(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rows := pendingRows(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, sub.ID, rows[0].SubscriptionID)
	assert.Equal(t, m.ID, rows[0].MatchID)
	assert.Equal(t, 0, rows[0].Attempts)
	assert.True(t, rows[0].ScheduledFor.Equal(time.Date(2025, 3, 10, 17, 40, 0, 0, time.UTC)))
}

func TestScheduleNotificationsForMatch_Filters(t *testing.T) {
	ctx := context.Background()
	r := newRepos(dbtest.New(t))
	now := time.Date(2025, 3, 10, 17, 50, 0, 0, time.UTC)
	matchAt := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

	ev := dbtest.SeedEvent(t, r.db, "CALA", nil)
	m := dbtest.SeedMatch(t, r.db, ev.ID, 3, matchAt, "254,frc1678,971")

	// 发送时间已过
	dbtest.SeedSubscription(t, r.db, 254, 20)
	// 不参赛的队伍
	dbtest.SeedSubscription(t, r.db, 118, 5)
	// 赛事代码不分大小写匹配
	wanted := dbtest.SeedSubscription(t, r.db, 1678, 5)
	require.NoError(t, r.db.Model(wanted).Update("event_code", "cala").Error)
	// 其他赛事
	other := dbtest.SeedSubscription(t, r.db, 971, 5)
	require.NoError(t, r.db.Model(other).Update("event_code", "CASJ").Error)
	// 已停用
	inactive := dbtest.SeedSubscription(t, r.db, 971, 5)
	require.NoError(t, r.db.Model(inactive).Update("is_active", false).Error)

	n, err := newTestScheduler(r, now).ScheduleNotificationsForMatch(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows := pendingRows(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, wanted.ID, rows[0].SubscriptionID)
}

func TestScheduleNotificationsForMatch_UsesPredictedTimeAndUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	r := newRepos(dbtest.New(t))
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	matchAt := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

	ev := dbtest.SeedEvent(t, r.db, "CALA", nil)
	m := dbtest.SeedMatch(t, r.db, ev.ID, 12, matchAt, "254,1678,971")
	dbtest.SeedSubscription(t, r.db, 254, 20)
	s := newTestScheduler(r, now)

	_, err := s.ScheduleNotificationsForMatch(ctx, m)
	require.NoError(t, err)

	predicted := matchAt.Add(16 * time.Minute)
	m.PredictedTime = &predicted
	n, err := s.ScheduleNotificationsForMatch(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rows := pendingRows(t, r)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ScheduledFor.Equal(time.Date(2025, 3, 10, 17, 56, 0, 0, time.UTC)))
}

func TestScheduleNotificationsForMatch_ScopedSubscriptions(t *testing.T) {
	ctx := context.Background()
	r := newRepos(dbtest.New(t))
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	ev := dbtest.SeedEvent(t, r.db, "CALA", nil)
	m := dbtest.SeedMatch(t, r.db, ev.ID, 1, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), "254,1678,971")
	scope := 5026
	require.NoError(t, r.db.Model(m).Update("scouting_team_number", scope).Error)
	m.ScoutingTeamNumber = &scope

	unscoped := dbtest.SeedSubscription(t, r.db, 254, 10)
	scoped := dbtest.SeedSubscription(t, r.db, 254, 10)
	require.NoError(t, r.db.Model(scoped).Update("scouting_team_number", scope).Error)

	n, err := newTestScheduler(r, now).ScheduleNotificationsForMatch(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rows := pendingRows(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, scoped.ID, rows[0].SubscriptionID)
	assert.NotEqual(t, unscoped.ID, rows[0].SubscriptionID)
}

func TestRunPass_OnlyMatchesInLookahead(t *testing.T) {
	ctx := context.Background()
	r := newRepos(dbtest.New(t))
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	ev := dbtest.SeedEvent(t, r.db, "CALA", nil)
	dbtest.SeedMatch(t, r.db, ev.ID, 1, now.Add(2*time.Hour), "254,1678,971")
	dbtest.SeedMatch(t, r.db, ev.ID, 2, now.Add(72*time.Hour), "254,1678,971")
	dbtest.SeedMatch(t, r.db, ev.ID, 3, now.Add(-time.Hour), "254,1678,971")
	dbtest.SeedSubscription(t, r.db, 254, 15)

	report, err := newTestScheduler(r, now).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matches)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Failed)
}
