package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

type captureStore struct {
	NoopStore
	mu       sync.Mutex
	sessions []types.CallSessionRecord
	presence []types.PresenceRecord
}

func (c *captureStore) SaveSession(_ context.Context, r types.CallSessionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, r)
	return nil
}

func (c *captureStore) SavePresence(_ context.Context, r types.PresenceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = append(c.presence, r)
	return nil
}

func (c *captureStore) snapshot() ([]types.CallSessionRecord, []types.PresenceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.CallSessionRecord(nil), c.sessions...), append([]types.PresenceRecord(nil), c.presence...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestRecordSession(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(store, zerolog.Nop())

	start := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)
	rec.RecordSession(SessionOutcome{
		SessionID: "1700000000000",
		AgentID:   "uid-1",
		AdminID:   42,
		OrderID:   "ORD-260304-235900-0001",
		Path:      "new_call",
		Outcome:   "dispatched",
		Start:     start,
		End:       start.Add(90 * time.Second),
	})

	waitFor(t, func() bool { s, _ := store.snapshot(); return len(s) == 1 })
	sessions, _ := store.snapshot()
	got := sessions[0]

	if got.DateKey != "2026-03-04" {
		t.Errorf("DateKey = %q, want 2026-03-04", got.DateKey)
	}
	if got.DurationSecs != 90 {
		t.Errorf("DurationSecs = %v, want 90", got.DurationSecs)
	}
	if got.EndTime != "2026-03-05T00:00:30Z" {
		t.Errorf("EndTime = %q", got.EndTime)
	}
}

func TestRecordPresence(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(store, zerolog.Nop())

	rec.RecordPresence("uid-1", types.PresenceOnline, types.PresenceBusy, time.Now())

	waitFor(t, func() bool { _, p := store.snapshot(); return len(p) == 1 })
	_, presence := store.snapshot()
	if presence[0].Previous != "online" || presence[0].Status != "busy" {
		t.Errorf("unexpected presence record: %+v", presence[0])
	}
}

func TestLoadDynamoConfig(t *testing.T) {
	tests := []struct {
		name string
		mode string
		want DynamoMode
	}{
		{"default", "", DynamoModeNone},
		{"local", "local", DynamoModeLocal},
		{"aws", "aws", DynamoModeAWS},
		{"unknown falls back", "sqlite", DynamoModeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DYNAMO_MODE", tt.mode)
			cfg := LoadDynamoConfig()
			if cfg.Mode != tt.want {
				t.Errorf("Mode = %q, want %q", cfg.Mode, tt.want)
			}
			if cfg.SessionsTable == "" || cfg.PresenceTable == "" {
				t.Error("table names should have defaults")
			}
		})
	}
}
