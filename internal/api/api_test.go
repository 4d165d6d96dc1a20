package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/auth"
	"github.com/dennisdiepolder/dispatchdesk/internal/cache"
	"github.com/dennisdiepolder/dispatchdesk/internal/callqueue"
	"github.com/dennisdiepolder/dispatchdesk/internal/dispatch"
	"github.com/dennisdiepolder/dispatchdesk/internal/geo"
	"github.com/dennisdiepolder/dispatchdesk/internal/history"
	"github.com/dennisdiepolder/dispatchdesk/internal/ingestion"
	"github.com/dennisdiepolder/dispatchdesk/internal/session"
	"github.com/dennisdiepolder/dispatchdesk/internal/stepper"
	"github.com/dennisdiepolder/dispatchdesk/internal/storage"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/dennisdiepolder/dispatchdesk/internal/workqueue"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUIDHeader  = "X-Test-UID"
	testRoleHeader = "X-Test-Role"
)

type nopPusher struct{}

func (nopPusher) Broadcast([]byte) {}
func (nopPusher) SendToAdmin(int64, []byte) int { return 0 }

type originGeocoder struct{}

func (originGeocoder) Geocode(context.Context, string) (geo.Point, error) {
	return geo.Point{}, nil
}

type nopRecorder struct{}

func (nopRecorder) RecordSession(history.SessionOutcome) {}

// withTestClaims stands in for the JWT middleware
func withTestClaims(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(testUIDHeader)
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims := &auth.Claims{UID: uid, Role: r.Header.Get(testRoleHeader)}
		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

type apiFixture struct {
	store  *storage.MemoryStore
	calls  *callqueue.Manager
	router chi.Router
}

func fptr(v float64) *float64 { return &v }

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zerolog.Nop()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	require.NoError(t, store.RegisterAgent(ctx, types.Agent{FirebaseUID: "uid-1", Email: "a@x", AgentID: "A1", AdminID: 42}))
	store.AddMember(types.Member{MemberID: "m1", Name: "Grace Member"}, "+15550001")
	store.AddAddress(types.Address{AddressID: "a1", MemberID: "m1", Line: "1 Main St"})
	store.AddServiceman(types.Serviceman{UserID: "sm-near", FullName: "Near", CurrentLat: fptr(0), CurrentLng: fptr(0.1), Category: "Plumbing"}, true)

	calls := callqueue.NewManager(logger)
	events := cache.NewEventCache()
	presence := cache.NewPresenceTracker(store, nil, logger)
	sessions := session.NewManager(session.NewMemoryStorage(), logger)
	admins := auth.NewAdminResolver(store, logger)
	agg := workqueue.NewAggregator(store, calls, nopPusher{}, time.Hour, time.Minute, logger)

	svc := dispatch.NewService(dispatch.Deps{
		Store:    store,
		Sessions: sessions,
		Calls:    calls,
		Presence: presence,
		Admins:   admins,
		Placed:   agg,
		Geocoder: originGeocoder{},
		Recorder: nopRecorder{},
	}, time.Millisecond, logger)
	st := stepper.NewStepper(sessions, svc, logger)
	processor := ingestion.NewDefaultProcessor(calls, events, logger)

	r := chi.NewRouter()
	r.Use(withTestClaims)
	Mount(r, Handlers{
		Console:  NewConsoleHandler(agg, admins, sessions, svc, st, calls, logger),
		Lookup:   NewLookupHandler(store, logger),
		Dispatch: NewDispatchHandler(svc, logger),
		Agents:   NewAgentActionsHandler(presence, admins, logger),
		Roster:   NewRosterHandler(store, admins, logger),
		History:  NewAgentHistoryHandler(history.NewNoopStore(), logger),
		Admin:    NewAdminHandler("http://127.0.0.1:1", processor, calls, events, history.NewNoopStore(), logger),
	})

	return &apiFixture{store: store, calls: calls, router: r}
}

func (f *apiFixture) do(t *testing.T, method, path, uid string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TabHeader, "tab-1")
	if uid != "" {
		req.Header.Set(testUIDHeader, uid)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", dispatch.ErrValidation), http.StatusBadRequest},
		{session.ErrUnknownStep, http.StatusBadRequest},
		{stepper.ErrConfirmationRequired, http.StatusBadRequest},
		{fmt.Errorf("member: %w", storage.ErrNotFound), http.StatusNotFound},
		{dispatch.ErrSubscriberNotFound, http.StatusNotFound},
		{callqueue.ErrCallNotFound, http.StatusNotFound},
		{dispatch.ErrOrderUnavailable, http.StatusConflict},
		{dispatch.ErrDispatchInProgress, http.StatusConflict},
		{stepper.ErrNavigationBlocked, http.StatusConflict},
		{storage.ErrDuplicate, http.StatusConflict},
		{auth.ErrNoIdentity, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
		{fmt.Errorf("%w: %w", dispatch.ErrValidation, dispatch.ErrAdminIDUnavailable), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zerolog.Nop(), errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestConsoleCallDispatchFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.calls.Enqueue(types.IncomingCallEvent{Caller: "+15550001", Name: "Grace", CallID: "call-1"})

	rec := f.do(t, http.MethodGet, "/api/console/queue", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q types.WorkQueue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, int64(42), q.AdminID)
	require.Equal(t, 1, q.Count)
	assert.Equal(t, "call-1", q.Items[0].Call.ID)

	rec = f.do(t, http.MethodPost, "/api/console/workflow/start/call", "uid-1", map[string]string{"callId": "call-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/console/workflow/subscriber", "uid-1", map[string]string{"phoneNumber": "+15559999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/console/workflow/subscriber", "uid-1", map[string]string{"phoneNumber": "+15550001"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/console/workflow/address", "uid-1", map[string]string{"addressId": "a1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["canDispatch"])

	rec = f.do(t, http.MethodPost, "/api/console/workflow/dispatch", "uid-1", map[string]string{"servicemanId": "sm-near"})
	assert.Equal(t, http.StatusConflict, rec.Code, "dispatch before services is an invalid transition")

	rec = f.do(t, http.MethodPost, "/api/console/workflow/services", "uid-1", map[string]interface{}{
		"services": map[string][]string{"Plumbing": {"Leak"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["canDispatch"])

	rec = f.do(t, http.MethodPost, "/api/console/workflow/dispatch/begin", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/console/workflow/candidates", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var candidates []types.ServicemanCandidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &candidates))
	require.Len(t, candidates, 1)

	rec = f.do(t, http.MethodPost, "/api/console/workflow/dispatch", "uid-1", map[string]string{"servicemanId": "sm-near"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res dispatch.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Regexp(t, dispatch.OrderIDPattern, res.OrderID)
	assert.Equal(t, "/", res.Redirect)

	rec = f.do(t, http.MethodGet, "/call/dispatch/details/"+res.OrderID, "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stored types.DispatchRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, types.OrderAssigned, stored.OrderStatus)
}

func TestConsoleErrors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/console/workflow", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/console/workflow/start/call", "uid-1", map[string]string{"callId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/console/workflow", "uid-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/console/queue", "uid-unregistered", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/console/workflow/address", bytes.NewBufferString("{not json"))
	req.Header.Set(testUIDHeader, "uid-1")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rec = f.do(t, http.MethodPost, "/api/console/calls/nope/reject", "uid-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConsoleSessionAndStepper(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/console/session", "uid-1", map[string]interface{}{
		"initialData": map[string]string{"phoneNumber": "+15550001"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, decode(t, rec)["isActive"])

	rec = f.do(t, http.MethodPost, "/api/console/session/steps/billing", "uid-1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/console/stepper/navigate", "uid-1", map[string]string{
		"route": "/dashboard", "target": "scheduling",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "please complete the Services step")

	rec = f.do(t, http.MethodPost, "/api/console/session/steps/services", "uid-1", map[string]interface{}{
		"selectedServices": map[string][]string{"Plumbing": {"Leak"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/console/stepper/navigate", "uid-1", map[string]string{
		"route": "/dashboard", "target": "scheduling",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/scheduling", decode(t, rec)["path"])

	rec = f.do(t, http.MethodGet, "/api/console/stepper?route=/services", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view stepper.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Active)
	assert.Equal(t, session.StepServices, view.Current)

	rec = f.do(t, http.MethodPost, "/api/console/session/end", "uid-1", map[string]bool{"confirm": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/console/session/end", "uid-1", map[string]bool{"confirm": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", decode(t, rec)["redirect"])

	rec = f.do(t, http.MethodGet, "/api/console/session", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode(t, rec)
	assert.Nil(t, snap["session"])
}

func TestNewSessionReleasesClaimedOrder(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	member, addr := "m1", "a1"
	f.store.AddPlacedOrder(types.PlacedOrderRow{
		OrderID: "P-1", Status: types.OrderPlaced, AdminID: 42,
		MemberID: &member, AddressID: &addr, ServiceCategory: "Plumbing",
	})

	rec := f.do(t, http.MethodPost, "/api/console/workflow/start/placed", "uid-1", map[string]string{"orderId": "P-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	row, err := f.store.FindPlacedOrder(ctx, "P-1")
	require.NoError(t, err)
	require.Equal(t, types.OrderPlacing, row.Status)

	rec = f.do(t, http.MethodPost, "/api/console/session", "uid-1", map[string]interface{}{
		"initialData": map[string]string{"phoneNumber": "+15550001"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	row, err = f.store.FindPlacedOrder(ctx, "P-1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderPlaced, row.Status, "claim is released when the tab starts over")

	rec = f.do(t, http.MethodGet, "/api/console/queue", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/console/workflow", "uid-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLookups(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/call/memberid/lookup", "uid-1", map[string]string{"phoneNumber": "+15550001"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"member_id": "m1", "customer_name": "Grace Member"}, decode(t, rec))

	rec = f.do(t, http.MethodPost, "/call/memberid/lookup", "uid-1", map[string]string{"phoneNumber": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/call/memberid/lookup", "uid-1", map[string]string{"phoneNumber": "+1000"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/call/address/lookup/a1", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1 Main St", decode(t, rec)["address_line"])

	rec = f.do(t, http.MethodPost, "/call/address/lookup", "uid-1", map[string]string{"addressId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/call/servicemen/available", "uid-1", map[string]string{"service": "Plumbing"})
	require.Equal(t, http.StatusOK, rec.Code)
	var list []types.Serviceman
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = f.do(t, http.MethodPost, "/call/servicemen/available", "uid-1", map[string]string{"service": "Roofing"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestSaveDispatchEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/call/dispatch", "uid-1", map[string]interface{}{
		"order_id": "ORD-1", "admin_id": 42, "order_status": "Assigned",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "Assigned needs user_id")

	body := map[string]interface{}{
		"order_id": "ORD-1", "admin_id": 42, "order_status": "Scheduled", "scheduled_time": "2026-05-01 09:00 AM",
	}
	rec = f.do(t, http.MethodPost, "/call/dispatch", "uid-1", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["ticketId"])

	rec = f.do(t, http.MethodPost, "/call/dispatch", "uid-1", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/call/dispatch/details/ORD-404", "uid-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/agent/status", "uid-1", map[string]string{"status": "away"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/agent/status", "uid-1", map[string]string{"status": "online"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "online", decode(t, rec)["status"])
	status, ok := f.store.AgentStatus("uid-1")
	require.True(t, ok)
	assert.Equal(t, types.PresenceOnline, status)

	rec = f.do(t, http.MethodGet, "/agent/adminid/uid-1", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(42), decode(t, rec)["admin_id"])

	rec = f.do(t, http.MethodPost, "/agent/register", "uid-1", map[string]interface{}{"firebase_uid": "uid-2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/agent/register", "uid-1", map[string]interface{}{
		"firebase_uid": "uid-2", "email": "b@x", "agent_id": "A2", "admin_id": 7,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "offline", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/agent/adminid/uid-2", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decode(t, rec)["admin_id"])

	rec = f.do(t, http.MethodGet, "/agent/presence", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["online"])
}

func TestAgentHistory(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/agents/uid-1/sessions", "uid-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/agents/uid-1/sessions?date=05/01/2026", "uid-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/agents/uid-1/sessions?date=2026-05-01", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/agents/uid-1/presence", "uid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestAdminRoutes(t *testing.T) {
	f := newAPIFixture(t)

	admin := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set(testUIDHeader, "uid-admin")
		req.Header.Set(testRoleHeader, "admin")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	rec := f.do(t, http.MethodPost, "/api/admin/calls/inject", "uid-1", map[string]int{"count": 2})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin(http.MethodPost, "/api/admin/calls/inject", map[string]int{"count": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["injected"])
	assert.Len(t, f.calls.Snapshot(), 3)

	rec = admin(http.MethodDelete, "/api/admin/calls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["cleared"])
	assert.Empty(t, f.calls.Snapshot())

	rec = admin(http.MethodPost, "/api/admin/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["eventsCleared"])

	rec = admin(http.MethodDelete, "/api/admin/history", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = admin(http.MethodGet, "/api/admin/sim/status", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAdminProxiesToCallSim(t *testing.T) {
	sim := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q,"method":%q}`, r.URL.Path, r.Method)
	}))
	defer sim.Close()

	h := NewAdminHandler(sim.URL, nil, nil, nil, history.NewNoopStore(), zerolog.Nop())
	req := httptest.NewRequest(http.MethodPut, "/api/admin/sim/calls/config", bytes.NewBufferString(`{"callsPerMin":5}`))
	rec := httptest.NewRecorder()
	h.UpdateCallConfig(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"path":"/calls/config","method":"PUT"}`, rec.Body.String())
}
