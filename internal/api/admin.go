package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/auth"
	"github.com/dennisdiepolder/dispatchdesk/internal/cache"
	"github.com/dennisdiepolder/dispatchdesk/internal/callqueue"
	"github.com/dennisdiepolder/dispatchdesk/internal/history"
	"github.com/dennisdiepolder/dispatchdesk/internal/ingestion"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AdminHandler proxies simulator control to CallSim and handles local resets
type AdminHandler struct {
	simURL    string
	processor ingestion.EventProcessor
	calls     *callqueue.Manager
	events    *cache.EventCache
	history   history.Store
	logger    zerolog.Logger
	client    *http.Client
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(simURL string, processor ingestion.EventProcessor, calls *callqueue.Manager, events *cache.EventCache, store history.Store, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		simURL:    simURL,
		processor: processor,
		calls:     calls,
		events:    events,
		history:   store,
		logger:    logger.With().Str("component", "admin").Logger(),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// RequireAdmin middleware, only the admin role is allowed
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !auth.HasRole(claims, "admin") {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// proxyToSim forwards a request to CallSim and copies the response back
func (h *AdminHandler) proxyToSim(w http.ResponseWriter, r *http.Request, method, path string) {
	url := h.simURL + path

	var body io.Reader
	if r.Body != nil && (method == http.MethodPost || method == http.MethodPut) {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), method, url, body)
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("failed to create proxy request")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error().Err(err).Str("url", url).Msg("failed to reach CallSim")
		http.Error(w, `{"error":"CallSim unavailable"}`, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// GetSimStatus proxies GET /status to CallSim
func (h *AdminHandler) GetSimStatus(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodGet, "/status")
}

// StartSim proxies POST /start to CallSim
func (h *AdminHandler) StartSim(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodPost, "/start")
}

// StopSim proxies POST /stop to CallSim
func (h *AdminHandler) StopSim(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodPost, "/stop")
}

// GetCallConfig proxies GET /calls/config to CallSim
func (h *AdminHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodGet, "/calls/config")
}

// UpdateCallConfig proxies PUT /calls/config to CallSim
func (h *AdminHandler) UpdateCallConfig(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodPut, "/calls/config")
}

// InjectCalls announces calls directly to the local call queue
func (h *AdminHandler) InjectCalls(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count  int    `json:"count"`
		Caller string `json:"caller,omitempty"`
		Name   string `json:"name,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > 1000 {
		req.Count = 1000
	}

	injected := 0
	for i := 0; i < req.Count; i++ {
		caller := req.Caller
		if caller == "" {
			caller = fmt.Sprintf("+1555%07d", i)
		}
		ev := &types.IncomingCallEvent{
			Caller: caller,
			Name:   req.Name,
			CallID: uuid.NewString(),
		}
		if _, err := h.processor.ProcessIncomingCall(ev, ingestion.SourceHTTP); err == nil {
			injected++
		}
	}

	h.logger.Info().Int("injected", injected).Int("requested", req.Count).Msg("calls injected via admin")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  fmt.Sprintf("injected %d calls", injected),
		"injected": injected,
		"errors":   req.Count - injected,
	})
}

// WipeAllCalls clears the ringing call queue
func (h *AdminHandler) WipeAllCalls(w http.ResponseWriter, r *http.Request) {
	cleared := h.calls.WipeAllCalls()

	h.logger.Info().Int("cleared", cleared).Msg("all calls wiped via admin")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "all calls wiped",
		"cleared": cleared,
	})
}

// ResetMemory clears in-memory call state (ringing calls and the event log)
func (h *AdminHandler) ResetMemory(w http.ResponseWriter, r *http.Request) {
	callsCleared := h.calls.WipeAllCalls()
	eventsCleared := h.events.Clear()

	h.logger.Info().
		Int("calls", callsCleared).
		Int("events", eventsCleared).
		Msg("backend memory reset")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "backend memory reset",
		"callsCleared":  callsCleared,
		"eventsCleared": eventsCleared,
	})
}

// WipeHistory truncates the session and presence history tables
func (h *AdminHandler) WipeHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.history.TruncateAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate history tables")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to truncate: " + err.Error()})
		return
	}

	h.logger.Info().Msg("history tables truncated")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "history tables truncated",
	})
}
