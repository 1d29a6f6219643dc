package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"MatchAlert/internal/config"
	"MatchAlert/internal/database/dbtest"
	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastProviders = map[string]config.ProviderConfig{
	"primary":   {RatePerSec: 1000, Burst: 100},
	"secondary": {RatePerSec: 1000, Burst: 100},
}

func qual(n int) model.MatchKey {
	return model.MatchKey{Type: model.MatchTypeQualification, Number: strconv.Itoa(n)}
}

// usableTimes 生成 from..to 场有实际时间的数据，延迟 delay
func usableTimes(from, to int, delay time.Duration) model.MatchTimes {
	base := time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC)
	out := make(model.MatchTimes)
	for i := from; i <= to; i++ {
		sched := base.Add(time.Duration(i) * 8 * time.Minute)
		actual := sched.Add(delay)
		out[qual(i)] = model.TimePair{Scheduled: sched, Actual: &actual}
	}
	return out
}

func newMatchTimeService(primary, secondary *fakeSource, r repos) *MatchTimeService {
	var p, s interfaces.MatchTimeSource
	if primary != nil {
		p = primary
	}
	if secondary != nil {
		s = secondary
	}
	return NewMatchTimeService(p, s, fastProviders, config.MatchTimeConfig{MinUsablePairs: 5, CacheTTL: 10 * time.Minute},
		config.WorkerConfig{}, r.events, r.match, nullLogger())
}

func TestMatchTimeFetch_PrimarySufficient(t *testing.T) {
	r := newRepos(dbtest.New(t))
	primary := &fakeSource{name: "primary", times: usableTimes(1, 6, 10*time.Minute)}
	secondary := &fakeSource{name: "secondary", times: usableTimes(1, 10, 0)}
	svc := newMatchTimeService(primary, secondary, r)

	times, err := svc.Fetch(context.Background(), &model.Event{ID: 1, Code: "CALA"})
	require.NoError(t, err)
	assert.Len(t, times, 6)
	assert.Equal(t, 0, secondary.calls)
}

func TestMatchTimeFetch_SecondaryFillsGapsWithoutOverwriting(t *testing.T) {
	r := newRepos(dbtest.New(t))
	primary := &fakeSource{name: "primary", times: usableTimes(1, 2, 10*time.Minute)}
	secondary := &fakeSource{name: "secondary", times: usableTimes(1, 6, 0)}
	svc := newMatchTimeService(primary, secondary, r)

	times, err := svc.Fetch(context.Background(), &model.Event{ID: 1, Code: "CALA"})
	require.NoError(t, err)
	assert.Len(t, times, 6)
	assert.Equal(t, 1, secondary.calls)

	q1 := times[qual(1)]
	require.NotNil(t, q1.Actual)
	assert.Equal(t, 10.0, q1.Actual.Sub(q1.Scheduled).Minutes(), "主源条目不被覆盖")
	q5 := times[qual(5)]
	require.NotNil(t, q5.Actual)
	assert.Equal(t, 0.0, q5.Actual.Sub(q5.Scheduled).Minutes())
}

func TestMatchTimeFetch_PrimaryFailureFallsBack(t *testing.T) {
	r := newRepos(dbtest.New(t))
	primary := &fakeSource{name: "primary", err: errors.New("503")}
	secondary := &fakeSource{name: "secondary", times: usableTimes(1, 3, 0)}
	svc := newMatchTimeService(primary, secondary, r)

	times, err := svc.Fetch(context.Background(), &model.Event{ID: 1, Code: "CALA"})
	require.NoError(t, err)
	assert.Len(t, times, 3)
}

func TestMatchTimeFetch_BothFail(t *testing.T) {
	r := newRepos(dbtest.New(t))
	primary := &fakeSource{name: "primary", err: errors.New("503")}
	secondary := &fakeSource{name: "secondary", err: errors.New("timeout")}
	svc := newMatchTimeService(primary, secondary, r)

	_, err := svc.Fetch(context.Background(), &model.Event{ID: 1, Code: "CALA"})
	assert.ErrorIs(t, err, ErrUpstreamFetch)

	_, err = newMatchTimeService(nil, nil, r).Fetch(context.Background(), &model.Event{ID: 1, Code: "CALA"})
	assert.ErrorIs(t, err, ErrUpstreamFetch)
}

func TestMatchTimeFetch_UsesCacheWithinTTL(t *testing.T) {
	r := newRepos(dbtest.New(t))
	primary := &fakeSource{name: "primary", times: usableTimes(1, 6, 0)}
	svc := newMatchTimeService(primary, nil, r)
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	svc.SetClock(clockAt(now))
	ev := &model.Event{ID: 1, Code: "CALA"}

	_, err := svc.Fetch(context.Background(), ev)
	require.NoError(t, err)
	_, err = svc.Fetch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)

	svc.SetClock(clockAt(now.Add(11 * time.Minute)))
	_, err = svc.Fetch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)
}

func TestMatchTimeRefresh_UpdatesFutureScheduledTimes(t *testing.T) {
	ctx := context.Background()
	r := newRepos(dbtest.New(t))
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	ev := dbtest.SeedEvent(t, r.db, "CALA", nil)
	past := dbtest.SeedMatch(t, r.db, ev.ID, 1, now.Add(-time.Hour), "254")
	future := dbtest.SeedMatch(t, r.db, ev.ID, 2, now.Add(time.Hour), "254")

	moved := now.Add(90 * time.Minute)
	primary := &fakeSource{name: "primary", times: model.MatchTimes{
		qual(1): {Scheduled: now.Add(-2 * time.Hour)},
		qual(2): {Scheduled: moved},
	}}
	svc := newMatchTimeService(primary, nil, r)
	svc.SetClock(clockAt(now))

	report, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Events)
	assert.Equal(t, 1, report.Updated)

	got, err := r.match.GetByID(ctx, future.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledTime.Equal(moved))
	got, err = r.match.GetByID(ctx, past.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledTime.Equal(now.Add(-time.Hour)), "已开赛比赛不改写")
}
