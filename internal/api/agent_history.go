package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/history"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentHistoryHandler provides REST endpoints for recorded console sessions
type AgentHistoryHandler struct {
	store  history.Store
	logger zerolog.Logger
}

// NewAgentHistoryHandler creates a new AgentHistoryHandler
func NewAgentHistoryHandler(store history.Store, logger zerolog.Logger) *AgentHistoryHandler {
	return &AgentHistoryHandler{
		store:  store,
		logger: logger.With().Str("component", "agent_history_handler").Logger(),
	}
}

// GetSessions returns the finished sessions of an agent on a specific date
// GET /api/agents/{agentId}/sessions?date=YYYY-MM-DD
func (h *AgentHistoryHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date query parameter is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	records, err := h.store.GetAgentSessionsByDate(r.Context(), agentID, date)
	if err != nil {
		h.logger.Error().Err(err).
			Str("agent_id", agentID).
			Str("date", date).
			Msg("failed to get agent sessions")
		http.Error(w, "failed to retrieve sessions", http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []types.CallSessionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// GetPresence returns the recorded status transitions of an agent
// GET /api/agents/{agentId}/presence
func (h *AgentHistoryHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}

	records, err := h.store.GetPresence(r.Context(), agentID)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to get agent presence")
		http.Error(w, "failed to retrieve presence", http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []types.PresenceRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}
