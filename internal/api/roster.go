package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dennisdiepolder/dispatchdesk/internal/dispatch"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

// AgentRegistry stores agent registrations
type AgentRegistry interface {
	RegisterAgent(ctx context.Context, agent types.Agent) error
}

// ResolutionCache drops stale uid -> admin id resolutions
type ResolutionCache interface {
	Forget(uid string)
}

// RosterHandler handles the agent registration endpoint
type RosterHandler struct {
	registry AgentRegistry
	cache    ResolutionCache
	logger   zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(registry AgentRegistry, cache ResolutionCache, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		registry: registry,
		cache:    cache,
		logger:   logger.With().Str("component", "roster").Logger(),
	}
}

// HandleRegister handles POST /agent/register {firebase_uid, email, agent_id, admin_id}
func (h *RosterHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var agent types.Agent
	if err := decodeBody(r, &agent); err != nil {
		writeError(w, h.logger, err)
		return
	}
	agent.FirebaseUID = strings.TrimSpace(agent.FirebaseUID)
	agent.AgentID = strings.TrimSpace(agent.AgentID)
	if agent.FirebaseUID == "" || agent.AgentID == "" || agent.AdminID <= 0 {
		writeError(w, h.logger, fmt.Errorf("%w: firebase_uid, agent_id and admin_id are required", dispatch.ErrValidation))
		return
	}
	agent.Status = types.PresenceOffline

	if err := h.registry.RegisterAgent(r.Context(), agent); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cache.Forget(agent.FirebaseUID)

	h.logger.Info().
		Str("firebase_uid", agent.FirebaseUID).
		Str("agent_id", agent.AgentID).
		Int64("admin_id", agent.AdminID).
		Msg("agent registered")

	writeJSON(w, http.StatusCreated, agent)
}
