package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dennisdiepolder/dispatchdesk/internal/callqueue"
	"github.com/dennisdiepolder/dispatchdesk/internal/dispatch"
	"github.com/dennisdiepolder/dispatchdesk/internal/session"
	"github.com/dennisdiepolder/dispatchdesk/internal/stepper"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// QueueReader builds an agent's work queue on demand
type QueueReader interface {
	Queue(ctx context.Context, adminID int64) types.WorkQueue
	Refresh(adminID int64)
}

// ConsoleHandler serves /api/console for one agent tab per request
type ConsoleHandler struct {
	queue    QueueReader
	admins   AdminIDResolver
	sessions *session.Manager
	workflow *dispatch.Service
	stepper  *stepper.Stepper
	calls    *callqueue.Manager
	logger   zerolog.Logger
}

// NewConsoleHandler creates a new ConsoleHandler
func NewConsoleHandler(
	queue QueueReader,
	admins AdminIDResolver,
	sessions *session.Manager,
	workflow *dispatch.Service,
	st *stepper.Stepper,
	calls *callqueue.Manager,
	logger zerolog.Logger,
) *ConsoleHandler {
	return &ConsoleHandler{
		queue:    queue,
		admins:   admins,
		sessions: sessions,
		workflow: workflow,
		stepper:  st,
		calls:    calls,
		logger:   logger.With().Str("component", "console").Logger(),
	}
}

// Routes mounts the console API
func (h *ConsoleHandler) Routes(r chi.Router) {
	r.Get("/queue", h.GetQueue)
	r.Post("/queue/refresh", h.RefreshQueue)
	r.Post("/calls/{callId}/reject", h.RejectCall)

	r.Get("/session", h.GetSession)
	r.Post("/session", h.StartSession)
	r.Post("/session/steps/{step}", h.UpdateStep)
	r.Post("/session/end", h.EndSession)

	r.Route("/workflow", func(r chi.Router) {
		r.Get("/", h.GetWorkflow)
		r.Post("/start/call", h.StartFromCall)
		r.Post("/start/placed", h.StartFromPlaced)
		r.Post("/start/scheduled", h.StartFromScheduled)
		r.Post("/start/redispatch", h.StartRedispatch)
		r.Post("/subscriber", h.SearchSubscriber)
		r.Post("/address", h.SelectAddress)
		r.Post("/services", h.SelectServices)
		r.Post("/dispatch/begin", h.BeginDispatch)
		r.Post("/schedule/begin", h.BeginScheduling)
		r.Post("/schedule/confirm", h.ConfirmSchedule)
		r.Get("/candidates", h.Candidates)
		r.Post("/dispatch", h.Dispatch)
	})

	r.Get("/stepper", h.GetStepper)
	r.Post("/stepper/navigate", h.Navigate)
}

// actorOrFail writes the error response when the request carries no identity
func (h *ConsoleHandler) actorOrFail(w http.ResponseWriter, r *http.Request) (dispatch.Actor, bool) {
	a, err := actorFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return dispatch.Actor{}, false
	}
	return a, true
}

// GetQueue handles GET /api/console/queue
func (h *ConsoleHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	adminID, err := h.admins.Resolve(r.Context(), a.UID)
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: %w", dispatch.ErrAdminIDUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, h.queue.Queue(r.Context(), adminID))
}

// RefreshQueue handles POST /api/console/queue/refresh
func (h *ConsoleHandler) RefreshQueue(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	adminID, err := h.admins.Resolve(r.Context(), a.UID)
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: %w", dispatch.ErrAdminIDUnavailable, err))
		return
	}
	h.queue.Refresh(adminID)
	w.WriteHeader(http.StatusAccepted)
}

// RejectCall handles POST /api/console/calls/{callId}/reject
func (h *ConsoleHandler) RejectCall(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	callID := chi.URLParam(r, "callId")
	if err := h.calls.Reject(callID, a.UID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "call rejected", "callId": callID})
}

// GetSession handles GET /api/console/session
func (h *ConsoleHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Get(r.Context(), a.UID, a.Tab).Snapshot())
}

// StartSession handles POST /api/console/session {initialData}
func (h *ConsoleHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	var req struct {
		InitialData session.StepData `json:"initialData"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.workflow.StartSession(r.Context(), a, req.InitialData))
}

// UpdateStep handles POST /api/console/session/steps/{step}
func (h *ConsoleHandler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	step, err := session.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var partial session.StepData
	if err := decodeBody(r, &partial); err != nil {
		writeError(w, h.logger, err)
		return
	}

	st := h.sessions.Get(r.Context(), a.UID, a.Tab)
	if err := st.UpdateStepData(r.Context(), step, partial); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Snapshot().Steps[step])
}

// EndSession handles POST /api/console/session/end {confirm}
func (h *ConsoleHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	redirect, err := h.stepper.EndSession(r.Context(), a, req.Confirm)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect": redirect})
}

// GetWorkflow handles GET /api/console/workflow
func (h *ConsoleHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	ws, err := h.workflow.Workflow(r.Context(), a)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow":    ws,
		"canDispatch": dispatch.CanDispatch(ws),
	})
}

// workflowStep runs one workflow operation and renders the resulting state
func (h *ConsoleHandler) workflowStep(w http.ResponseWriter, r *http.Request, body interface{}, op func(ctx context.Context, a dispatch.Actor) (types.WorkflowState, error)) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	if body != nil {
		if err := decodeBody(r, body); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	ws, err := op(r.Context(), a)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow":    ws,
		"canDispatch": dispatch.CanDispatch(&ws),
	})
}

// StartFromCall handles POST /api/console/workflow/start/call {callId}
func (h *ConsoleHandler) StartFromCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallID string `json:"callId"`
	}
	h.workflowStep(w, r, &req, func(ctx context.Context, a dispatch.Actor) (types.WorkflowState, error) {
		return h.workflow.StartFromCall(ctx, a, req.CallID)
	})
}

// StartFromPlaced handles POST /api/console/workflow/start/placed {orderId}
func (h *ConsoleHandler) StartFromPlaced(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	h.workflowStep(w, r, &req, func(ctx context.Context, a dispatch.Actor) (types.WorkflowState, error) {
		return h.workflow.StartFromPlacedOrder(ctx, a, req.OrderID)
	})
}

// StartFromScheduled handles POST /api/console/workflow/start/scheduled {orderId}
func (h *ConsoleHandler) StartFromScheduled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	h.workflowStep(w, r, &req, func(ctx context.Context, a dispatch.Actor) (types.WorkflowState, error) {
		return h.workflow.StartFromScheduledOrder(ctx, a, req.OrderID)
	})
}

// StartRedispatch handles POST /api/console/workflow/start/redispatch {previousOrderId, reason}
func (h *ConsoleHandler) StartRedispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PreviousOrderID string `json:"previousOrderId"`
		Reason          string `json:"reason"`
	}
	h.workflowStep(w, r, &req, func(ctx context.Context, a dispatch.Actor) (types.WorkflowState, error) {
		return h.workflow.StartRedispatch(ctx, a, req.PreviousOrderID, req.Reason)
	})
}

// SearchSubscriber handles POST /api/console/workflow/subscriber {phoneNumber}
func (h *ConsoleHandler) SearchSubscriber(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	var req struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sub, err := h.workflow.SearchSubscriber(r.Context(), a, req.PhoneNumber)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// SelectAddress handles POST /api/console/workflow/address {addressId}
func (h *ConsoleHandler) SelectAddress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AddressID string `json:"addressId"`
	}
	h.workflowStep(w, r, &req, func(ctx context.Context, a dispatch.Actor) (types.WorkflowState, error) {
		return h.workflow.SelectAddress(ctx, a, req.AddressID)
	})
}

// SelectServices handles POST /api/console/workflow/services {category, services, note}
func (h *ConsoleHandler) SelectServices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string              `json:"category"`
		Services map[string][]string `json:"services"`
		Note     string              `json:"note"`
	}
	h.workflowStep(w, r, &req, func(ctx context.Context, a dispatch.Actor) (types.WorkflowState, error) {
		return h.workflow.SelectServices(ctx, a, req.Category, req.Services, req.Note)
	})
}

// BeginDispatch handles POST /api/console/workflow/dispatch/begin
func (h *ConsoleHandler) BeginDispatch(w http.ResponseWriter, r *http.Request) {
	h.workflowStep(w, r, nil, h.workflow.BeginDispatch)
}

// BeginScheduling handles POST /api/console/workflow/schedule/begin
func (h *ConsoleHandler) BeginScheduling(w http.ResponseWriter, r *http.Request) {
	h.workflowStep(w, r, nil, h.workflow.BeginScheduling)
}

// ConfirmSchedule handles POST /api/console/workflow/schedule/confirm {date, time, details}
func (h *ConsoleHandler) ConfirmSchedule(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	var req struct {
		Date    string `json:"date"`
		Time    string `json:"time"`
		Details string `json:"details"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.workflow.ConfirmSchedule(r.Context(), a, req.Date, req.Time, req.Details)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Candidates handles GET /api/console/workflow/candidates
func (h *ConsoleHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	list, err := h.workflow.Candidates(r.Context(), a)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Dispatch handles POST /api/console/workflow/dispatch {servicemanId}
func (h *ConsoleHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	var req struct {
		ServicemanID string `json:"servicemanId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.workflow.Dispatch(r.Context(), a, req.ServicemanID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetStepper handles GET /api/console/stepper?route=
func (h *ConsoleHandler) GetStepper(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.stepper.View(r.Context(), a, r.URL.Query().Get("route")))
}

// Navigate handles POST /api/console/stepper/navigate {route, target}
func (h *ConsoleHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actorOrFail(w, r)
	if !ok {
		return
	}
	var req struct {
		Route  string `json:"route"`
		Target string `json:"target"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	path, err := h.stepper.Navigate(r.Context(), a, req.Route, session.StepName(req.Target))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}
