package tba

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"MatchAlert/internal/config"
	"MatchAlert/internal/model"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const matchesBody = `[
	{"key":"2025cala_qm1","comp_level":"qm","set_number":1,"match_number":1,"time":1741626000,"actual_time":1741626960},
	{"key":"2025cala_qm2","comp_level":"qm","set_number":1,"match_number":2,"time":1741626480,"actual_time":null},
	{"key":"2025cala_sf4m1","comp_level":"sf","set_number":4,"match_number":1,"time":1741723200,"actual_time":null},
	{"key":"2025cala_f1m2","comp_level":"f","set_number":1,"match_number":2,"time":1741730400,"actual_time":null},
	{"key":"2025cala_ef1m1","comp_level":"ef","set_number":1,"match_number":1,"time":1741730400,"actual_time":null},
	{"key":"2025cala_qm9","comp_level":"qm","set_number":1,"match_number":9,"time":null,"actual_time":null}
]`

func TestFetchMatchTimes_MapsCompLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/event/2025cala/matches/simple", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-TBA-Auth-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(matchesBody))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	src := NewTBAAdapter(&config.ProviderConfig{BaseURL: srv.URL, AuthKey: "key"}, logger)
	times, err := src.FetchMatchTimes(context.Background(), &model.Event{Code: "CALA", Year: 2025})
	require.NoError(t, err)
	require.Len(t, times, 4)

	q1 := times[model.MatchKey{Type: model.MatchTypeQualification, Number: "1"}]
	assert.Equal(t, time.Unix(1741626000, 0).UTC(), q1.Scheduled)
	require.NotNil(t, q1.Actual)
	assert.Equal(t, 16.0, q1.Actual.Sub(q1.Scheduled).Minutes())

	_, ok := times[model.MatchKey{Type: model.MatchTypePlayoff, Number: "4"}]
	assert.True(t, ok, "sf 按 set_number 编号")
	_, ok = times[model.MatchKey{Type: model.MatchTypeFinal, Number: "2"}]
	assert.True(t, ok, "f 按 match_number 编号")
	assert.Equal(t, 1, times.UsableCount())
}

func TestFetchMatchTimes_ConditionalRequestReusesLastResult(t *testing.T) {
	var full, notModified int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			atomic.AddInt32(&notModified, 1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		atomic.AddInt32(&full, 1)
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(matchesBody))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	src := NewTBAAdapter(&config.ProviderConfig{BaseURL: srv.URL}, logger)
	ev := &model.Event{Code: "CALA", Year: 2025}

	first, err := src.FetchMatchTimes(context.Background(), ev)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		again, err := src.FetchMatchTimes(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&full))
	assert.Equal(t, int32(2), atomic.LoadInt32(&notModified))

	// 其他赛事没有缓存，不带条件头
	_, err = src.FetchMatchTimes(context.Background(), &model.Event{Code: "CAFR", Year: 2025})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&full))
}

func TestFetchMatchTimes_NoETagAlwaysFetches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Empty(t, r.Header.Get("If-None-Match"))
		_, _ = w.Write([]byte(matchesBody))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	src := NewTBAAdapter(&config.ProviderConfig{BaseURL: srv.URL}, logger)
	ev := &model.Event{Code: "CALA", Year: 2025}
	for i := 0; i < 2; i++ {
		_, err := src.FetchMatchTimes(context.Background(), ev)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchMatchTimes_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	src := NewTBAAdapter(&config.ProviderConfig{BaseURL: srv.URL}, logger)
	_, err := src.FetchMatchTimes(context.Background(), &model.Event{Code: "CALA", Year: 2025})
	assert.Error(t, err)
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "2025cala", EventKey(&model.Event{Code: "CALA", Year: 2025}))
}
