package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/geo"
	"github.com/dennisdiepolder/dispatchdesk/internal/history"
	"github.com/dennisdiepolder/dispatchdesk/internal/metrics"
	"github.com/dennisdiepolder/dispatchdesk/internal/session"
	"github.com/dennisdiepolder/dispatchdesk/internal/storage"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/dennisdiepolder/dispatchdesk/internal/workqueue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrAdminIDUnavailable = errors.New("admin id unavailable")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidTransition  = errors.New("invalid workflow transition")
	ErrNoWorkflow         = errors.New("no workflow in progress")
	ErrOrderUnavailable   = errors.New("order is no longer available")
	ErrDispatchInProgress = errors.New("dispatch already in progress")
)

// Outcomes recorded in call history
const (
	OutcomeDispatched = "dispatched"
	OutcomeScheduled  = "scheduled"
	OutcomeAbandoned  = "abandoned"
)

// Store is the slice of the record store the workflow writes
type Store interface {
	FindMemberByPhone(ctx context.Context, phone string) (*types.Member, error)
	ListAddresses(ctx context.Context, memberID string) ([]types.Address, error)
	GetAddress(ctx context.Context, addressID string) (*types.Address, error)
	ListAvailableServicemen(ctx context.Context, category string) ([]types.Serviceman, error)
	FindPlacedOrder(ctx context.Context, orderID string) (*types.PlacedOrderRow, error)
	SetPlacedOrderStatus(ctx context.Context, orderID string, status types.OrderStatus) error
	GetDispatchRecord(ctx context.Context, orderID string) (*types.DispatchRecord, error)
	InsertDispatchRecord(ctx context.Context, rec *types.DispatchRecord) error
	UpdateDispatchRecord(ctx context.Context, rec *types.DispatchRecord) error
	SetDispatchStatus(ctx context.Context, orderID string, status types.OrderStatus) error
}

// CallAccepter takes a ringing call off the shared queue
type CallAccepter interface {
	Accept(callID, agentID string) (*types.IncomingCall, error)
}

// PresenceSetter transitions agent presence
type PresenceSetter interface {
	SetStatus(ctx context.Context, agentID string, status types.PresenceStatus) (types.PresenceStatus, bool)
}

// AdminResolver maps an agent uid to its admin id
type AdminResolver interface {
	Resolve(ctx context.Context, uid string) (int64, error)
}

// PlacedResolver resolves customer and address details of a placed order
type PlacedResolver interface {
	ResolvePlaced(ctx context.Context, row types.PlacedOrderRow) types.PlacedOrder
}

// SessionRecorder appends finished sessions to history
type SessionRecorder interface {
	RecordSession(o history.SessionOutcome)
}

// Actor is the agent tab a workflow operation runs for
type Actor struct {
	UID string
	Tab string
}

// Subscriber is the result of a successful phone lookup
type Subscriber struct {
	Member    types.Member    `json:"member"`
	Addresses []types.Address `json:"addresses"`
}

// Result is returned by Dispatch and ConfirmSchedule
type Result struct {
	OrderID  string `json:"orderId"`
	TicketID string `json:"ticketId"`
	Redirect string `json:"redirect"`
}

// Service runs the dispatch workflow of every console tab
type Service struct {
	store    Store
	sessions *session.Manager
	calls    CallAccepter
	presence PresenceSetter
	admins   AdminResolver
	placed   PlacedResolver
	geocoder geo.Geocoder
	recorder SessionRecorder

	displayDelay time.Duration
	loc          *time.Location
	now          func() time.Time
	newOrderID   func() string

	// pending delayed session ends, keyed by tab
	pending map[string]*time.Timer
	mu      sync.Mutex

	logger zerolog.Logger
}

// Deps groups the collaborators of a Service
type Deps struct {
	Store    Store
	Sessions *session.Manager
	Calls    CallAccepter
	Presence PresenceSetter
	Admins   AdminResolver
	Placed   PlacedResolver
	Geocoder geo.Geocoder
	Recorder SessionRecorder
}

// NewService creates a new dispatch workflow service
func NewService(deps Deps, displayDelay time.Duration, logger zerolog.Logger) *Service {
	s := &Service{
		store:        deps.Store,
		sessions:     deps.Sessions,
		calls:        deps.Calls,
		presence:     deps.Presence,
		admins:       deps.Admins,
		placed:       deps.Placed,
		geocoder:     deps.Geocoder,
		recorder:     deps.Recorder,
		displayDelay: displayDelay,
		loc:          time.Local,
		now:          time.Now,
		pending:      make(map[string]*time.Timer),
		logger:       logger.With().Str("component", "dispatch").Logger(),
	}
	s.newOrderID = func() string { return NewOrderID(s.now()) }
	return s
}

func (s *Service) state(ctx context.Context, a Actor) *session.State {
	return s.sessions.Get(ctx, a.UID, a.Tab)
}

// Workflow returns the workflow state of the tab, if any
func (s *Service) Workflow(ctx context.Context, a Actor) (*types.WorkflowState, error) {
	ws := s.state(ctx, a).Workflow()
	if ws == nil {
		return nil, ErrNoWorkflow
	}
	return ws, nil
}

// CanDispatch reports whether both an address and services have been chosen
func CanDispatch(ws *types.WorkflowState) bool {
	return ws != nil && ws.AddressID != "" && len(ws.Services) > 0
}

func requireStage(ws *types.WorkflowState, stages ...types.WorkflowStage) error {
	for _, st := range stages {
		if ws.Stage == st {
			return nil
		}
	}
	if ws.Stage == "" {
		return ErrNoWorkflow
	}
	return fmt.Errorf("%w: stage %s", ErrInvalidTransition, ws.Stage)
}

// StartSession opens a plain call session on the tab. A workflow still held by
// the tab is abandoned first so its claimed order returns to the queue.
func (s *Service) StartSession(ctx context.Context, a Actor, initial session.StepData) types.CallSession {
	st := s.reset(ctx, a)
	return st.StartCallSession(ctx, initial)
}

// reset ends whatever session the tab still holds
func (s *Service) reset(ctx context.Context, a Actor) *session.State {
	st := s.state(ctx, a)
	s.cancelPending(st.Key())
	if st.Active() {
		s.finish(ctx, a, st, outcomeOf(st.Workflow()))
	}
	return st
}

// outcomeOf names how a session holding ws ended
func outcomeOf(ws *types.WorkflowState) string {
	if ws != nil {
		switch ws.Stage {
		case types.StageDispatched:
			return OutcomeDispatched
		case types.StageScheduled:
			return OutcomeScheduled
		}
	}
	return OutcomeAbandoned
}

// begin releases whatever the tab still holds, then starts a fresh session
func (s *Service) begin(ctx context.Context, a Actor, initial session.StepData, ws types.WorkflowState) (types.WorkflowState, error) {
	st := s.reset(ctx, a)
	st.StartCallSession(ctx, initial)
	out, err := st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		*w = ws
		return nil
	})
	if err != nil {
		return types.WorkflowState{}, err
	}
	s.presence.SetStatus(ctx, a.UID, types.PresenceBusy)
	return out, nil
}

// resolveAdmin fills in the admin id when it is not known yet
func (s *Service) resolveAdmin(ctx context.Context, a Actor, current int64) (int64, error) {
	if current > 0 {
		return current, nil
	}
	id, err := s.admins.Resolve(ctx, a.UID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAdminIDUnavailable, err)
	}
	return id, nil
}

// StartFromCall accepts a ringing call and opens a new-call workflow
func (s *Service) StartFromCall(ctx context.Context, a Actor, callID string) (types.WorkflowState, error) {
	call, err := s.calls.Accept(callID, a.UID)
	if err != nil {
		return types.WorkflowState{}, err
	}

	ticketID := uuid.New().String()
	initial := session.StepData{
		"ticketId":    ticketID,
		"callId":      call.ID,
		"phoneNumber": call.Caller,
		"callerName":  call.CallerName,
	}
	if call.DispatchDetailsRef != "" {
		initial["dispatchLink"] = call.DispatchDetailsRef
	}

	adminID, err := s.resolveAdmin(ctx, a, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("uid", a.UID).Msg("admin id not resolved at call start")
	}

	ws, err := s.begin(ctx, a, initial, types.WorkflowState{
		Stage:       types.StageSearchSubscriber,
		Path:        types.PathNewCall,
		CallID:      call.ID,
		TicketID:    ticketID,
		AdminID:     adminID,
		PhoneNumber: call.Caller,
	})
	if err != nil {
		return types.WorkflowState{}, err
	}

	s.logger.Info().Str("uid", a.UID).Str("call_id", call.ID).Str("ticket_id", ticketID).Msg("call accepted")
	return ws, nil
}

// SearchSubscriber looks up the membership for phone. A miss leaves the workflow
// where it was.
func (s *Service) SearchSubscriber(ctx context.Context, a Actor, phone string) (Subscriber, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Subscriber{}, fmt.Errorf("%w: phone number is required", ErrValidation)
	}
	st := s.state(ctx, a)
	ws := st.Workflow()
	if ws == nil {
		return Subscriber{}, ErrNoWorkflow
	}
	if err := requireStage(ws, types.StageSearchSubscriber, types.StageSelectAddress, types.StageSelectService); err != nil {
		return Subscriber{}, err
	}

	member, err := s.store.FindMemberByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Subscriber{}, fmt.Errorf("%w: %s", ErrSubscriberNotFound, phone)
		}
		return Subscriber{}, fmt.Errorf("lookup subscriber: %w", err)
	}
	addresses, err := s.store.ListAddresses(ctx, member.MemberID)
	if err != nil {
		return Subscriber{}, fmt.Errorf("list addresses: %w", err)
	}

	_, err = st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		if w.MemberID != member.MemberID {
			w.AddressID, w.Address = "", ""
		}
		w.MemberID = member.MemberID
		w.CustomerName = member.Name
		w.PhoneNumber = phone
		w.Stage = types.StageSelectAddress
		return nil
	})
	if err != nil {
		return Subscriber{}, err
	}
	if err := st.UpdateStepData(ctx, session.StepDashboard, session.StepData{
		"phoneNumber":  phone,
		"memberId":     member.MemberID,
		"customerName": member.Name,
	}); err != nil {
		return Subscriber{}, err
	}

	return Subscriber{Member: *member, Addresses: addresses}, nil
}

// SelectAddress records the request address
func (s *Service) SelectAddress(ctx context.Context, a Actor, addressID string) (types.WorkflowState, error) {
	st := s.state(ctx, a)
	ws := st.Workflow()
	if ws == nil {
		return types.WorkflowState{}, ErrNoWorkflow
	}
	if err := requireStage(ws, types.StageSelectAddress, types.StageSelectService); err != nil {
		return types.WorkflowState{}, err
	}

	addr, err := s.store.GetAddress(ctx, addressID)
	if err != nil {
		return types.WorkflowState{}, fmt.Errorf("address %s: %w", addressID, err)
	}
	if addr.MemberID != "" && ws.MemberID != "" && addr.MemberID != ws.MemberID {
		return types.WorkflowState{}, fmt.Errorf("%w: address belongs to another subscriber", ErrValidation)
	}

	out, err := st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		w.AddressID = addr.AddressID
		w.Address = addr.Line
		w.Stage = types.StageSelectService
		return nil
	})
	if err != nil {
		return types.WorkflowState{}, err
	}
	err = st.UpdateStepData(ctx, session.StepDashboard, session.StepData{
		"selectedAddressId": addr.AddressID,
		"address":           addr.Line,
	})
	return out, err
}

// SelectServices records the requested services grouped by category
func (s *Service) SelectServices(ctx context.Context, a Actor, category string, services map[string][]string, note string) (types.WorkflowState, error) {
	if len(services) == 0 {
		return types.WorkflowState{}, fmt.Errorf("%w: at least one service is required", ErrValidation)
	}
	if category == "" {
		if len(services) != 1 {
			return types.WorkflowState{}, fmt.Errorf("%w: category is required", ErrValidation)
		}
		for k := range services {
			category = k
		}
	}

	st := s.state(ctx, a)
	ws := st.Workflow()
	if ws == nil {
		return types.WorkflowState{}, ErrNoWorkflow
	}
	if err := requireStage(ws, types.StageSelectService); err != nil {
		return types.WorkflowState{}, err
	}

	out, err := st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		w.Category = category
		w.Services = services
		w.WorkNote = note
		return nil
	})
	if err != nil {
		return types.WorkflowState{}, err
	}
	err = st.UpdateStepData(ctx, session.StepServices, session.StepData{
		"selectedServices": services,
		"category":         category,
		"requestDetails":   note,
	})
	return out, err
}

// BeginDispatch moves a new-call workflow to serviceman selection with a fresh order id
func (s *Service) BeginDispatch(ctx context.Context, a Actor) (types.WorkflowState, error) {
	st := s.state(ctx, a)
	return st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		if err := requireStage(w, types.StageSelectService); err != nil {
			return err
		}
		if !CanDispatch(w) {
			return fmt.Errorf("%w: address and services must be chosen", ErrValidation)
		}
		w.OrderID = s.newOrderID()
		w.Stage = types.StageSelectServiceman
		return nil
	})
}

// BeginScheduling generates the order id and resolves the admin id and the
// customer name needed to confirm a schedule.
func (s *Service) BeginScheduling(ctx context.Context, a Actor) (types.WorkflowState, error) {
	st := s.state(ctx, a)
	ws := st.Workflow()
	if ws == nil {
		return types.WorkflowState{}, ErrNoWorkflow
	}
	if err := requireStage(ws, types.StageSelectService); err != nil {
		return types.WorkflowState{}, err
	}
	if !CanDispatch(ws) {
		return types.WorkflowState{}, fmt.Errorf("%w: address and services must be chosen", ErrValidation)
	}

	adminID, err := s.resolveAdmin(ctx, a, ws.AdminID)
	if err != nil {
		return types.WorkflowState{}, err
	}
	member, err := s.store.FindMemberByPhone(ctx, ws.PhoneNumber)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.WorkflowState{}, fmt.Errorf("%w: %s", ErrSubscriberNotFound, ws.PhoneNumber)
		}
		return types.WorkflowState{}, fmt.Errorf("lookup customer: %w", err)
	}

	return st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		w.AdminID = adminID
		w.CustomerName = member.Name
		w.OrderID = s.newOrderID()
		w.Stage = types.StageScheduling
		return nil
	})
}

// ConfirmSchedule stores the order as Scheduled without a serviceman and ends the session
func (s *Service) ConfirmSchedule(ctx context.Context, a Actor, date, clock, details string) (Result, error) {
	st := s.state(ctx, a)
	ws := st.Workflow()
	if ws == nil {
		return Result{}, ErrNoWorkflow
	}
	if err := requireStage(ws, types.StageScheduling); err != nil {
		return Result{}, err
	}
	if ws.AdminID == 0 || ws.CustomerName == "" || ws.OrderID == "" {
		return Result{}, fmt.Errorf("%w: admin id, customer and order id must be resolved", ErrValidation)
	}

	scheduled := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	if _, err := workqueue.ParseScheduledTime(scheduled, s.loc); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := st.UpdateStepData(ctx, session.StepScheduling, session.StepData{
		"selectedDate":   date,
		"selectedTime":   clock,
		"requestDetails": details,
	}); err != nil {
		return Result{}, err
	}

	note := ws.WorkNote
	if details != "" {
		note = details
	}
	rec := &types.DispatchRecord{
		OrderID:        ws.OrderID,
		TicketID:       ws.TicketID,
		AdminID:        ws.AdminID,
		Category:       ws.Category,
		RequestAddress: ws.Address,
		OrderRequest:   requestText(ws.Services, note),
		OrderStatus:    types.OrderScheduled,
		ScheduledTime:  &scheduled,
		CustomerName:   ws.CustomerName,
		PhoneNumber:    ws.PhoneNumber,
	}
	if err := s.store.InsertDispatchRecord(ctx, rec); err != nil {
		metrics.Get().RecordDispatchError("schedule")
		return Result{}, fmt.Errorf("schedule order %s: %w", ws.OrderID, err)
	}
	metrics.Get().RecordSchedule()

	if _, err := st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		w.ScheduledTime = scheduled
		w.Stage = types.StageScheduled
		return nil
	}); err != nil {
		return Result{}, err
	}
	s.finish(ctx, a, st, OutcomeScheduled)

	s.logger.Info().Str("order_id", ws.OrderID).Str("scheduled_time", scheduled).Msg("order scheduled")
	return Result{OrderID: ws.OrderID, TicketID: ws.TicketID, Redirect: "/"}, nil
}

// StartFromPlacedOrder claims an app-placed order (Placed -> Placing) and opens
// serviceman selection with a fresh order id.
func (s *Service) StartFromPlacedOrder(ctx context.Context, a Actor, orderID string) (types.WorkflowState, error) {
	row, err := s.store.FindPlacedOrder(ctx, orderID)
	if err != nil {
		return types.WorkflowState{}, fmt.Errorf("placed order %s: %w", orderID, err)
	}
	if row.Status != types.OrderPlaced {
		return types.WorkflowState{}, fmt.Errorf("%w: %s is %s", ErrOrderUnavailable, orderID, row.Status)
	}

	order := s.placed.ResolvePlaced(ctx, *row)
	if err := s.store.SetPlacedOrderStatus(ctx, orderID, types.OrderPlacing); err != nil {
		return types.WorkflowState{}, fmt.Errorf("claim placed order %s: %w", orderID, err)
	}

	services := map[string][]string{row.ServiceCategory: {}}
	ws, err := s.begin(ctx, a, session.StepData{
		"ticketId":     row.OrderID,
		"phoneNumber":  order.CustomerPhone,
		"customerName": order.CustomerName,
	}, types.WorkflowState{
		Stage:         types.StageSelectServiceman,
		Path:          types.PathPlacedOrder,
		TicketID:      row.OrderID,
		OrderID:       s.newOrderID(),
		SourceOrderID: row.OrderID,
		AdminID:       row.AdminID,
		CustomerName:  order.CustomerName,
		PhoneNumber:   order.CustomerPhone,
		Address:       order.Address,
		Category:      row.ServiceCategory,
		Services:      services,
		WorkNote:      row.WorkDescription,
		Claimed:       true,
	})
	if err != nil {
		s.release(ctx, types.WorkflowState{Path: types.PathPlacedOrder, SourceOrderID: orderID, Claimed: true})
		return types.WorkflowState{}, err
	}
	s.seedServices(ctx, a, services, row.ServiceCategory, row.WorkDescription)
	return ws, nil
}

// StartFromScheduledOrder claims a due scheduled order (Scheduled -> Scheduling)
// and reuses its order id.
func (s *Service) StartFromScheduledOrder(ctx context.Context, a Actor, orderID string) (types.WorkflowState, error) {
	rec, err := s.store.GetDispatchRecord(ctx, orderID)
	if err != nil {
		return types.WorkflowState{}, fmt.Errorf("scheduled order %s: %w", orderID, err)
	}
	if rec.OrderStatus != types.OrderScheduled {
		return types.WorkflowState{}, fmt.Errorf("%w: %s is %s", ErrOrderUnavailable, orderID, rec.OrderStatus)
	}
	if err := s.store.SetDispatchStatus(ctx, orderID, types.OrderScheduling); err != nil {
		return types.WorkflowState{}, fmt.Errorf("claim scheduled order %s: %w", orderID, err)
	}

	scheduled := ""
	if rec.ScheduledTime != nil {
		scheduled = *rec.ScheduledTime
	}
	services := map[string][]string{rec.Category: {}}
	ws, err := s.begin(ctx, a, session.StepData{
		"ticketId":     rec.TicketID,
		"phoneNumber":  rec.PhoneNumber,
		"customerName": rec.CustomerName,
	}, types.WorkflowState{
		Stage:             types.StageSelectServiceman,
		Path:              types.PathScheduledOrder,
		TicketID:          rec.TicketID,
		OrderID:           rec.OrderID,
		AdminID:           rec.AdminID,
		CustomerName:      rec.CustomerName,
		PhoneNumber:       rec.PhoneNumber,
		Address:           rec.RequestAddress,
		Category:          rec.Category,
		Services:          services,
		WorkNote:          rec.OrderRequest,
		ScheduledTime:     scheduled,
		IsScheduledUpdate: true,
		Claimed:           true,
	})
	if err != nil {
		s.release(ctx, types.WorkflowState{Path: types.PathScheduledOrder, OrderID: orderID, Claimed: true})
		return types.WorkflowState{}, err
	}
	s.seedServices(ctx, a, services, rec.Category, rec.OrderRequest)
	if scheduled != "" {
		if err := s.state(ctx, a).UpdateStepData(ctx, session.StepScheduling, session.StepData{"selectedDate": scheduled}); err != nil {
			s.logger.Error().Err(err).Msg("failed to seed scheduling step")
		}
	}
	return ws, nil
}

// StartRedispatch opens serviceman selection for a cancelled order, carrying its
// fields over under a new order id.
func (s *Service) StartRedispatch(ctx context.Context, a Actor, previousOrderID, reason string) (types.WorkflowState, error) {
	rec, err := s.store.GetDispatchRecord(ctx, previousOrderID)
	if err != nil {
		return types.WorkflowState{}, fmt.Errorf("previous order %s: %w", previousOrderID, err)
	}
	if rec.OrderStatus != types.OrderCancelled {
		return types.WorkflowState{}, fmt.Errorf("%w: %s is %s, not Cancelled", ErrOrderUnavailable, previousOrderID, rec.OrderStatus)
	}
	if reason == "" && rec.CancellationReason != nil {
		reason = *rec.CancellationReason
	}

	note := RedispatchNote(rec.OrderRequest, reason)
	services := map[string][]string{rec.Category: {}}
	ws, err := s.begin(ctx, a, session.StepData{
		"ticketId":        rec.TicketID,
		"phoneNumber":     rec.PhoneNumber,
		"customerName":    rec.CustomerName,
		"previousOrderId": previousOrderID,
	}, types.WorkflowState{
		Stage:              types.StageSelectServiceman,
		Path:               types.PathRedispatch,
		TicketID:           rec.TicketID,
		OrderID:            newOrderIDExcept(s.newOrderID, previousOrderID),
		AdminID:            rec.AdminID,
		CustomerName:       rec.CustomerName,
		PhoneNumber:        rec.PhoneNumber,
		Address:            rec.RequestAddress,
		Category:           rec.Category,
		Services:           services,
		WorkNote:           note,
		PreviousOrderID:    previousOrderID,
		CancellationReason: reason,
	})
	if err != nil {
		return types.WorkflowState{}, err
	}
	s.seedServices(ctx, a, services, rec.Category, note)
	return ws, nil
}

// RedispatchNote appends the cancellation reason to the previous work note
func RedispatchNote(previous, reason string) string {
	return previous + " (Re-dispatch Reason: " + reason + ")"
}

func (s *Service) seedServices(ctx context.Context, a Actor, services map[string][]string, category, note string) {
	if err := s.state(ctx, a).UpdateStepData(ctx, session.StepServices, session.StepData{
		"selectedServices": services,
		"category":         category,
		"requestDetails":   note,
	}); err != nil {
		s.logger.Error().Err(err).Msg("failed to seed services step")
	}
}

// Candidates ranks the available servicemen of the workflow's category by
// distance from the request address. Geocoding failures only drop the distances.
func (s *Service) Candidates(ctx context.Context, a Actor) ([]types.ServicemanCandidate, error) {
	ws := s.state(ctx, a).Workflow()
	if ws == nil {
		return nil, ErrNoWorkflow
	}
	if ws.Category == "" {
		return nil, fmt.Errorf("%w: no service category selected", ErrValidation)
	}

	servicemen, err := s.store.ListAvailableServicemen(ctx, ws.Category)
	if err != nil {
		return nil, fmt.Errorf("list servicemen: %w", err)
	}

	var origin *geo.Point
	if ws.Address != "" && s.geocoder != nil {
		p, err := s.geocoder.Geocode(ctx, ws.Address)
		if err != nil {
			s.logger.Warn().Err(err).Str("address", ws.Address).Msg("request address not geocoded")
		} else {
			origin = &p
		}
	}
	return RankCandidates(origin, servicemen), nil
}

// Dispatch assigns servicemanID to the workflow's order. All validation happens
// before the first write; on failure the stage is unchanged and the call can be retried.
func (s *Service) Dispatch(ctx context.Context, a Actor, servicemanID string) (Result, error) {
	st := s.state(ctx, a)
	servicemanID = strings.TrimSpace(servicemanID)

	// claim the submit slot so a second submit from the tab cannot write too
	ws, err := st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		if err := requireStage(w, types.StageSelectServiceman); err != nil {
			return err
		}
		if w.Submitting {
			return ErrDispatchInProgress
		}
		if servicemanID == "" {
			return fmt.Errorf("%w: no serviceman selected", ErrValidation)
		}
		if w.OrderID == "" {
			return fmt.Errorf("%w: no order id", ErrValidation)
		}
		w.Submitting = true
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	adminID, err := s.resolveAdmin(ctx, a, ws.AdminID)
	if err != nil {
		s.clearSubmitting(ctx, st)
		return Result{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	req := DispatchRequest{
		OrderID:            ws.OrderID,
		TicketID:           ws.TicketID,
		AdminID:            adminID,
		UserID:             &servicemanID,
		Category:           ws.Category,
		RequestAddress:     ws.Address,
		OrderRequest:       requestText(ws.Services, ws.WorkNote),
		OrderStatus:        types.OrderAssigned,
		CustomerName:       ws.CustomerName,
		PhoneNumber:        ws.PhoneNumber,
		IsScheduledUpdate:  ws.IsScheduledUpdate,
		PreviousOrderID:    optional(ws.PreviousOrderID),
		CancellationReason: optional(ws.CancellationReason),
		ScheduledTime:      optional(ws.ScheduledTime),
	}
	ticketID, err := s.SaveDispatch(ctx, req)
	if err != nil {
		s.clearSubmitting(ctx, st)
		metrics.Get().RecordDispatchError("dispatch")
		return Result{}, err
	}

	if ws.Path == types.PathPlacedOrder && ws.SourceOrderID != "" {
		if err := s.store.SetPlacedOrderStatus(ctx, ws.SourceOrderID, types.OrderAssigned); err != nil {
			// the dispatch record is already the source of truth for this order
			metrics.Get().RecordDispatchError("placed_status")
			s.logger.Error().Err(err).Str("order_id", ws.SourceOrderID).Msg("failed to mark placed order assigned")
		}
	}
	metrics.Get().RecordDispatch(string(ws.Path))

	if _, err := st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		if w.Stage == "" {
			return ErrNoWorkflow
		}
		w.AdminID = adminID
		w.TicketID = ticketID
		w.ServicemanID = servicemanID
		w.Stage = types.StageDispatched
		w.Claimed = false
		w.Submitting = false
		return nil
	}); err != nil {
		// the session was ended while the write was in flight
		s.logger.Warn().Str("order_id", ws.OrderID).Msg("session ended during dispatch")
	} else {
		if err := st.UpdateStepData(ctx, session.StepServiceman, session.StepData{"servicemanId": servicemanID}); err != nil {
			s.logger.Error().Err(err).Msg("failed to record serviceman step")
		}
		s.finishLater(a, st)
	}

	s.logger.Info().
		Str("order_id", ws.OrderID).
		Str("serviceman_id", servicemanID).
		Str("path", string(ws.Path)).
		Msg("order dispatched")
	return Result{OrderID: ws.OrderID, TicketID: ticketID, Redirect: "/"}, nil
}

var errNotSubmitting = errors.New("no dispatch in flight")

// clearSubmitting reopens the submit slot after a failed dispatch
func (s *Service) clearSubmitting(ctx context.Context, st *session.State) {
	st.UpdateWorkflow(ctx, func(w *types.WorkflowState) error {
		if !w.Submitting {
			return errNotSubmitting
		}
		w.Submitting = false
		return nil
	})
}

// EndSession closes the tab's session. An order claimed but never dispatched is
// released back to the queue.
func (s *Service) EndSession(ctx context.Context, a Actor) {
	st := s.state(ctx, a)
	s.cancelPending(st.Key())
	s.finish(ctx, a, st, outcomeOf(st.Workflow()))
}

func (s *Service) finishLater(a Actor, st *session.State) {
	snap := st.Snapshot()
	if snap.Session == nil {
		return
	}
	sessionID := snap.Session.SessionID

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[st.Key()]; ok {
		t.Stop()
	}
	s.pending[st.Key()] = time.AfterFunc(s.displayDelay, func() {
		s.mu.Lock()
		delete(s.pending, st.Key())
		s.mu.Unlock()

		// a new session may have started on the tab in the meantime
		cur := st.Snapshot()
		if cur.Session == nil || cur.Session.SessionID != sessionID {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.finish(ctx, a, st, OutcomeDispatched)
	})
}

func (s *Service) cancelPending(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[key]; ok {
		t.Stop()
		delete(s.pending, key)
	}
}

func (s *Service) finish(ctx context.Context, a Actor, st *session.State, outcome string) {
	ended := st.EndCallSession(ctx)
	if ended.Workflow != nil {
		s.release(ctx, *ended.Workflow)
	}
	s.presence.SetStatus(ctx, a.UID, types.PresenceOnline)

	if ended.Session == nil || s.recorder == nil {
		return
	}
	o := history.SessionOutcome{
		SessionID: ended.Session.SessionID,
		AgentID:   a.UID,
		Outcome:   outcome,
		Start:     ended.Session.StartTime,
		End:       s.now(),
	}
	if ws := ended.Workflow; ws != nil {
		o.AdminID = ws.AdminID
		o.TicketID = ws.TicketID
		o.OrderID = ws.OrderID
		o.Path = string(ws.Path)
	}
	s.recorder.RecordSession(o)
}

// release undoes an outstanding claim: Placing -> Placed, Scheduling -> Scheduled
func (s *Service) release(ctx context.Context, ws types.WorkflowState) {
	if !ws.Claimed || ws.Stage == types.StageDispatched {
		return
	}

	var err error
	var orderID string
	switch ws.Path {
	case types.PathPlacedOrder:
		orderID = ws.SourceOrderID
		err = s.store.SetPlacedOrderStatus(ctx, orderID, types.OrderPlaced)
	case types.PathScheduledOrder:
		orderID = ws.OrderID
		err = s.store.SetDispatchStatus(ctx, orderID, types.OrderScheduled)
	default:
		return
	}
	if err != nil {
		metrics.Get().RecordDispatchError("release")
		s.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to release claimed order")
		return
	}
	metrics.Get().RecordRelease()
	s.logger.Info().Str("order_id", orderID).Str("path", string(ws.Path)).Msg("claimed order released")
}

// requestText flattens the selected services and the note into the order request text
func requestText(services map[string][]string, note string) string {
	var parts []string
	for category, items := range services {
		if len(items) == 0 {
			continue
		}
		parts = append(parts, category+": "+strings.Join(items, ", "))
	}
	if len(parts) == 0 {
		return note
	}
	sort.Strings(parts)
	text := strings.Join(parts, "; ")
	if note != "" {
		text = note + " | " + text
	}
	return text
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
