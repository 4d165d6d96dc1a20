package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dennisdiepolder/dispatchdesk/internal/cache"
	"github.com/dennisdiepolder/dispatchdesk/internal/dispatch"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AdminIDResolver maps an agent uid to its admin id
type AdminIDResolver interface {
	Resolve(ctx context.Context, uid string) (int64, error)
}

// AgentActionsHandler provides the /agent endpoints of the console
type AgentActionsHandler struct {
	presence *cache.PresenceTracker
	admins   AdminIDResolver
	logger   zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler
func NewAgentActionsHandler(presence *cache.PresenceTracker, admins AdminIDResolver, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		presence: presence,
		admins:   admins,
		logger:   logger.With().Str("component", "agent_actions").Logger(),
	}
}

// SetStatus handles POST /agent/status {status}
func (h *AgentActionsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	a, err := actorFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req struct {
		Status types.PresenceStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !req.Status.Valid() {
		writeError(w, h.logger, fmt.Errorf("%w: unknown status %q", dispatch.ErrValidation, req.Status))
		return
	}

	prev, changed := h.presence.SetStatus(r.Context(), a.UID, req.Status)
	if changed {
		h.logger.Info().
			Str("agent_id", a.UID).
			Str("from", string(prev)).
			Str("to", string(req.Status)).
			Msg("agent status set via API")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agentId":  a.UID,
		"status":   req.Status,
		"previous": prev,
	})
}

// GetAdminID handles GET /agent/adminid/{firebaseUid}
func (h *AgentActionsHandler) GetAdminID(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "firebaseUid")
	if uid == "" {
		http.Error(w, "firebaseUid is required", http.StatusBadRequest)
		return
	}

	id, err := h.admins.Resolve(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"admin_id": id})
}

// GetPresence handles GET /agent/presence
func (h *AgentActionsHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	online, busy, offline := h.presence.GetPresenceStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":  h.presence.GetAll(),
		"online":  online,
		"busy":    busy,
		"offline": offline,
	})
}
