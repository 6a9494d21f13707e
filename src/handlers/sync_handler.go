package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/services"
)

// SyncHandler exposes the run-control surface: a status snapshot of the last
// cycles and a manual trigger. Status is a snapshot, not a push stream; the
// UI polls it.
type SyncHandler struct {
	scheduler *services.Scheduler
}

func NewSyncHandler(scheduler *services.Scheduler) *SyncHandler {
	return &SyncHandler{scheduler: scheduler}
}

func (h *SyncHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"running":      h.scheduler.Running(),
		"last_summary": h.scheduler.LastSummary(),
		"history":      h.scheduler.History(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SyncHandler) HandleRunSync(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunOnce(r.Context(), "manual")
	if err != nil {
		if errors.Is(err, services.ErrCycleInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		logger.L.Error("Manual sync failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if summary.HasErrors() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("Failed to encode JSON response", "error", err)
	}
}
