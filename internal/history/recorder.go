package history

import (
	"context"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Recorder writes history entries without blocking the caller's request path
type Recorder struct {
	store  Store
	logger zerolog.Logger
}

// NewRecorder creates a history recorder
func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "history-recorder").Logger(),
	}
}

// Store returns the underlying history store
func (r *Recorder) Store() Store {
	return r.store
}

// RecordPresence appends one presence transition
func (r *Recorder) RecordPresence(agentID string, previous, status types.PresenceStatus, at time.Time) {
	record := types.PresenceRecord{
		AgentID:   agentID,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Previous:  string(previous),
		Status:    string(status),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.store.SavePresence(ctx, record); err != nil {
			r.logger.Error().Err(err).Str("agentId", agentID).Msg("Failed to save presence record")
		}
	}()
}

// SessionOutcome describes how a console session ended
type SessionOutcome struct {
	SessionID string
	AgentID   string
	AdminID   int64
	TicketID  string
	OrderID   string
	Path      string
	Outcome   string
	Start     time.Time
	End       time.Time
}

// RecordSession stores a finished session keyed by its start date
func (r *Recorder) RecordSession(o SessionOutcome) {
	record := types.CallSessionRecord{
		DateKey:      o.Start.UTC().Format("2006-01-02"),
		SessionID:    o.SessionID,
		AgentID:      o.AgentID,
		AdminID:      o.AdminID,
		TicketID:     o.TicketID,
		OrderID:      o.OrderID,
		Path:         o.Path,
		Outcome:      o.Outcome,
		StartTime:    o.Start.UTC().Format(time.RFC3339),
		EndTime:      o.End.UTC().Format(time.RFC3339),
		DurationSecs: o.End.Sub(o.Start).Seconds(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.store.SaveSession(ctx, record); err != nil {
			r.logger.Error().Err(err).Str("sessionId", o.SessionID).Msg("Failed to save session record")
		}
	}()
}
