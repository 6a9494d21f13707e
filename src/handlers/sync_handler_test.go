package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prado2016/investra-ai-sub010/src/models"
	"github.com/prado2016/investra-ai-sub010/src/services"
)

type stubSyncService struct {
	summary *models.SyncRunSummary
	block   chan struct{}
}

func (s *stubSyncService) SyncAll(ctx context.Context, trigger string) *models.SyncRunSummary {
	if s.block != nil {
		<-s.block
	}
	sum := *s.summary
	sum.Trigger = trigger
	return &sum
}

func cleanSummary() *models.SyncRunSummary {
	return &models.SyncRunSummary{
		RunID:             "run-1",
		StartedAt:         time.Now().UTC(),
		FinishedAt:        time.Now().UTC(),
		TotalEmailsSynced: 2,
		Outcomes:          map[models.Outcome]int{models.OutcomeSuccess: 2},
	}
}

func TestHandleGetStatus_BeforeFirstRun(t *testing.T) {
	sched := services.NewScheduler(&stubSyncService{summary: cleanSummary()}, time.Hour, 5)
	h := NewSyncHandler(sched)

	rec := httptest.NewRecorder()
	h.HandleGetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Running     bool                     `json:"running"`
		LastSummary *models.SyncRunSummary   `json:"last_summary"`
		History     []*models.SyncRunSummary `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Running)
	assert.Nil(t, resp.LastSummary)
	assert.Empty(t, resp.History)
}

func TestHandleRunSync_ReturnsSummary(t *testing.T) {
	sched := services.NewScheduler(&stubSyncService{summary: cleanSummary()}, time.Hour, 5)
	h := NewSyncHandler(sched)

	rec := httptest.NewRecorder()
	h.HandleRunSync(rec, httptest.NewRequest(http.MethodPost, "/api/sync/run", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.SyncRunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "manual", summary.Trigger)
	assert.Equal(t, 2, summary.TotalEmailsSynced)

	// The run is now visible on the status endpoint.
	rec = httptest.NewRecorder()
	h.HandleGetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))
	var resp struct {
		LastSummary *models.SyncRunSummary `json:"last_summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.LastSummary)
	assert.Equal(t, "run-1", resp.LastSummary.RunID)
}

func TestHandleRunSync_PartialFailureIsMultiStatus(t *testing.T) {
	summary := cleanSummary()
	summary.Errors = []models.SyncError{{MailboxID: "primary", Stage: "fetch", Message: "connection reset"}}
	sched := services.NewScheduler(&stubSyncService{summary: summary}, time.Hour, 5)
	h := NewSyncHandler(sched)

	rec := httptest.NewRecorder()
	h.HandleRunSync(rec, httptest.NewRequest(http.MethodPost, "/api/sync/run", nil))
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
}

func TestHandleRunSync_ConflictWhileRunning(t *testing.T) {
	stub := &stubSyncService{summary: cleanSummary(), block: make(chan struct{})}
	sched := services.NewScheduler(stub, time.Hour, 5)
	h := NewSyncHandler(sched)

	started := make(chan struct{})
	go func() {
		close(started)
		rec := httptest.NewRecorder()
		h.HandleRunSync(rec, httptest.NewRequest(http.MethodPost, "/api/sync/run", nil))
	}()
	<-started
	// Wait for the in-flight cycle to take the single-flight slot.
	for i := 0; i < 100 && !sched.Running(); i++ {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, sched.Running())

	rec := httptest.NewRecorder()
	h.HandleRunSync(rec, httptest.NewRequest(http.MethodPost, "/api/sync/run", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(stub.block)
}
