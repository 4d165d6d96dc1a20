package session

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateStepData_Merges(t *testing.T) {
	ctx := context.Background()
	st := NewManager(NewMemoryStorage(), zerolog.Nop()).Get(ctx, "uid-1", "tab-a")

	require.NoError(t, st.UpdateStepData(ctx, StepServices, StepData{"selectedServices": map[string][]string{"x": {}}}))
	require.NoError(t, st.UpdateStepData(ctx, StepServices, StepData{"foo": 1}))

	services := st.Snapshot().Steps[StepServices]
	assert.Contains(t, services, "selectedServices")
	assert.Equal(t, 1, services["foo"])
}

func TestStartCallSession_SeedsDashboard(t *testing.T) {
	ctx := context.Background()
	st := NewManager(NewMemoryStorage(), zerolog.Nop()).Get(ctx, "uid-1", "tab-a")

	require.NoError(t, st.UpdateStepData(ctx, StepServices, StepData{"stale": true}))

	sess := st.StartCallSession(ctx, StepData{"ticketId": "T-1", "phoneNumber": "555"})
	require.NoError(t, st.UpdateStepData(ctx, StepDashboard, StepData{"phoneNumber": "777", "callerName": "Ada"}))

	snap := st.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, sess.SessionID, snap.Session.SessionID)
	assert.True(t, snap.Session.IsActive)
	assert.Equal(t, StepData{"ticketId": "T-1", "phoneNumber": "777", "callerName": "Ada"}, snap.Steps[StepDashboard])
	assert.Empty(t, snap.Steps[StepServices])
	assert.Nil(t, snap.Workflow)
}

func TestUpdateStepData_UnknownStep(t *testing.T) {
	ctx := context.Background()
	st := NewManager(NewMemoryStorage(), zerolog.Nop()).Get(ctx, "uid-1", "")

	err := st.UpdateStepData(ctx, StepName("billing"), StepData{"a": 1})
	assert.True(t, errors.Is(err, ErrUnknownStep))
}

func TestEndCallSession_ClearsAndRemoves(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	st := NewManager(storage, zerolog.Nop()).Get(ctx, "uid-1", "tab-a")

	st.StartCallSession(ctx, StepData{"ticketId": "T-1"})
	_, err := st.UpdateWorkflow(ctx, func(ws *types.WorkflowState) error {
		ws.Stage = types.StageSearchSubscriber
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, storage.Len())

	ended := st.EndCallSession(ctx)
	assert.Equal(t, "T-1", ended.Steps[StepDashboard]["ticketId"])
	require.NotNil(t, ended.Workflow)

	snap := st.Snapshot()
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Workflow)
	assert.Empty(t, snap.Steps[StepDashboard])
	assert.Equal(t, 0, storage.Len())
	assert.False(t, st.Active())
}

func TestSessionIDsAreMonotonic(t *testing.T) {
	prev := int64(0)
	for i := 0; i < 1000; i++ {
		id, err := strconv.ParseInt(nextSessionID(), 10, 64)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestUpdateWorkflow_ErrorLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	st := NewManager(NewMemoryStorage(), zerolog.Nop()).Get(ctx, "uid-1", "tab-a")

	_, err := st.UpdateWorkflow(ctx, func(ws *types.WorkflowState) error {
		ws.Stage = types.StageSelectAddress
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = st.UpdateWorkflow(ctx, func(ws *types.WorkflowState) error {
		ws.Stage = types.StageDispatched
		ws.Services = map[string][]string{"x": {"y"}}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ws := st.Workflow()
	require.NotNil(t, ws)
	assert.Equal(t, types.StageSelectAddress, ws.Stage)
	assert.Nil(t, ws.Services)
}

func TestManager_RestoresPersistedState(t *testing.T) {
	tests := []struct {
		name    string
		storage func(t *testing.T) Storage
	}{
		{"memory", func(t *testing.T) Storage { return NewMemoryStorage() }},
		{"sqlite", func(t *testing.T) Storage {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			storage := tt.storage(t)

			first := NewManager(storage, zerolog.Nop()).Get(ctx, "uid-1", "tab-a")
			sess := first.StartCallSession(ctx, StepData{"ticketId": "T-9"})
			require.NoError(t, first.UpdateStepData(ctx, StepScheduling, StepData{"selectedDate": "2026-10-17"}))
			_, err := first.UpdateWorkflow(ctx, func(ws *types.WorkflowState) error {
				ws.Stage = types.StageScheduling
				ws.OrderID = "ORD-261017-101010-1234"
				return nil
			})
			require.NoError(t, err)

			// a fresh manager simulates a reload
			restored := NewManager(storage, zerolog.Nop()).Get(ctx, "uid-1", "tab-a")
			snap := restored.Snapshot()
			require.NotNil(t, snap.Session)
			assert.Equal(t, sess.SessionID, snap.Session.SessionID)
			assert.Equal(t, "T-9", snap.Steps[StepDashboard]["ticketId"])
			assert.Equal(t, "2026-10-17", snap.Steps[StepScheduling]["selectedDate"])
			require.NotNil(t, snap.Workflow)
			assert.Equal(t, types.StageScheduling, snap.Workflow.Stage)
			assert.NotNil(t, snap.Steps[StepServiceman])

			// other tabs are independent
			other := NewManager(storage, zerolog.Nop()).Get(ctx, "uid-1", "tab-b")
			assert.Nil(t, other.Snapshot().Session)

			restored.EndCallSession(ctx)
			_, err = storage.Load(ctx, TabKey("uid-1", "tab-a"))
			assert.ErrorIs(t, err, ErrNotPersisted)
		})
	}
}

type failingStorage struct{ *MemoryStorage }

func (f *failingStorage) Save(context.Context, string, Snapshot) error {
	return errors.New("disk full")
}

func TestPersistFailureKeepsMutation(t *testing.T) {
	ctx := context.Background()
	st := NewManager(&failingStorage{MemoryStorage: NewMemoryStorage()}, zerolog.Nop()).Get(ctx, "uid-1", "tab-a")

	st.StartCallSession(ctx, StepData{"ticketId": "T-1"})
	require.NoError(t, st.UpdateStepData(ctx, StepDashboard, StepData{"phoneNumber": "555"}))

	assert.Equal(t, "555", st.Snapshot().Steps[StepDashboard]["phoneNumber"])
}

func TestParseStep(t *testing.T) {
	for _, s := range []string{"dashboard", "services", "scheduling", "serviceman"} {
		step, err := ParseStep(s)
		require.NoError(t, err)
		assert.Equal(t, StepName(s), step)
	}
	_, err := ParseStep("Dashboard")
	assert.ErrorIs(t, err, ErrUnknownStep)
}
