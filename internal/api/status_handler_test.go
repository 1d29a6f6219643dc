package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"MatchAlert/internal/database/dbtest"
	"MatchAlert/internal/model"
	"MatchAlert/internal/repository"
	"MatchAlert/internal/worker"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, repository.QueueRepository) {
	t.Helper()
	db := dbtest.New(t)
	logger, _ := test.NewNullLogger()
	queueRepo := repository.NewQueueRepository(db)
	state := worker.NewState()
	state.SetLeader(true)
	h := NewStatusHandler(queueRepo, repository.NewLogRepository(db), state, logger)
	return NewRouter("test", h), queueRepo
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t)
	w := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatus_ReportsQueueAndWorker(t *testing.T) {
	h, queueRepo := newTestRouter(t)
	at := time.Date(2025, 3, 10, 17, 40, 0, 0, time.UTC)
	require.NoError(t, queueRepo.Create(context.Background(), &model.NotificationQueue{SubscriptionID: 1, MatchID: 1, ScheduledFor: at}))
	require.NoError(t, queueRepo.Create(context.Background(), &model.NotificationQueue{SubscriptionID: 2, MatchID: 1, ScheduledFor: at}))

	w := get(t, h, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Queue  map[string]int64     `json:"queue"`
		Worker worker.StateSnapshot `json:"worker"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Queue["pending"])
	assert.True(t, body.Worker.IsLeader)
}

func TestGetQueueEntry(t *testing.T) {
	h, queueRepo := newTestRouter(t)
	item := &model.NotificationQueue{SubscriptionID: 1, MatchID: 7, ScheduledFor: time.Date(2025, 3, 10, 17, 40, 0, 0, time.UTC)}
	require.NoError(t, queueRepo.Create(context.Background(), item))

	w := get(t, h, "/api/queue/"+strconv.FormatUint(item.ID, 10))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Entry model.NotificationQueue  `json:"entry"`
		Logs  []*model.NotificationLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, uint64(7), body.Entry.MatchID)
	assert.Empty(t, body.Logs)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/queue/999").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/queue/abc").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	w := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
