package callqueue

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// CallHandler handles HTTP requests for incoming call queue operations
type CallHandler struct {
	mgr    *Manager
	logger zerolog.Logger
}

// NewCallHandler creates a new CallHandler
func NewCallHandler(mgr *Manager, logger zerolog.Logger) *CallHandler {
	return &CallHandler{
		mgr:    mgr,
		logger: logger,
	}
}

// HandleList returns the ringing calls
// GET /internal/calls
func (h *CallHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.mgr.Snapshot())
}

// HandleWipeAll handles DELETE /internal/calls/all
func (h *CallHandler) HandleWipeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count := h.mgr.WipeAllCalls()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "all calls wiped",
		"cleared": count,
	})
}

// HandleStats returns call queue statistics
// GET /internal/calls/stats
func (h *CallHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.mgr.Stats())
}
