package api

import (
	"net/http"

	"github.com/dennisdiepolder/dispatchdesk/internal/dispatch"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// DispatchHandler serves the raw dispatch record endpoints
type DispatchHandler struct {
	svc    *dispatch.Service
	logger zerolog.Logger
}

// NewDispatchHandler creates a new DispatchHandler
func NewDispatchHandler(svc *dispatch.Service, logger zerolog.Logger) *DispatchHandler {
	return &DispatchHandler{
		svc:    svc,
		logger: logger.With().Str("component", "dispatch_handler").Logger(),
	}
}

// SaveDispatch handles POST /call/dispatch
func (h *DispatchHandler) SaveDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.DispatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	ticketID, err := h.svc.SaveDispatch(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Str("order_id", req.OrderID).
		Str("status", string(req.OrderStatus)).
		Bool("update", req.IsScheduledUpdate).
		Msg("dispatch saved")
	writeJSON(w, http.StatusOK, map[string]string{"ticketId": ticketID})
}

// GetDetails handles GET /call/dispatch/details/{orderId}
func (h *DispatchHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.DispatchDetails(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
