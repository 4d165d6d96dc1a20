package callqueue

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrCallNotFound is returned when a call is no longer ringing
var ErrCallNotFound = errors.New("call not found")

// Removal reasons carried on ChangeEvent
const (
	ReasonAccepted = "accepted"
	ReasonRejected = "rejected"
	ReasonMissed   = "missed"
	ReasonWiped    = "wiped"
)

// ChangeEvent describes an addition to or removal from the queue
type ChangeEvent struct {
	Added   *types.IncomingCall
	Removed *types.IncomingCall
	Reason  string
	AgentID string
}

// Listener is notified after the queue changes, outside the manager lock
type Listener func(ev ChangeEvent)

// Manager owns the shared queue of ringing incoming calls
type Manager struct {
	queue     *Queue
	listeners []Listener
	mu        sync.RWMutex
	logger    zerolog.Logger
}

// NewManager creates a new incoming call manager
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		queue:  NewQueue(80, 20),
		logger: logger.With().Str("component", "callqueue").Logger(),
	}
}

// OnChange registers a listener; call before the manager is shared
func (m *Manager) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) emit(ev ChangeEvent) {
	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Enqueue records a call announced by the telephony source. Duplicate call ids are ignored.
func (m *Manager) Enqueue(ev types.IncomingCallEvent) (*types.IncomingCall, bool) {
	callID := strings.TrimSpace(ev.CallID)
	if callID == "" {
		callID = uuid.New().String()
	}

	call := &types.IncomingCall{
		ID:                 callID,
		Caller:             strings.TrimSpace(ev.Caller),
		CallerName:         strings.TrimSpace(ev.Name),
		DispatchDetailsRef: strings.TrimSpace(ev.DispatchLink),
		ReceivedAt:         time.Now(),
	}

	m.mu.Lock()
	added := m.queue.Enqueue(call)
	depth := len(m.queue.Waiting)
	m.mu.Unlock()

	if !added {
		m.logger.Debug().Str("call_id", callID).Msg("duplicate incoming call ignored")
		return call, false
	}

	m.logger.Debug().
		Str("call_id", callID).
		Str("caller", call.Caller).
		Int("queue_depth", depth).
		Msg("call enqueued")

	cp := *call
	m.emit(ChangeEvent{Added: &cp})
	return call, true
}

// Accept removes a ringing call on behalf of agentID
func (m *Manager) Accept(callID, agentID string) (*types.IncomingCall, error) {
	m.mu.Lock()
	call := m.queue.Take(callID)
	if call == nil {
		m.mu.Unlock()
		return nil, ErrCallNotFound
	}
	wait := time.Since(call.ReceivedAt).Seconds()
	m.queue.Accepted++
	m.queue.SL.RecordAnswer(wait)
	m.mu.Unlock()

	m.logger.Debug().
		Str("call_id", callID).
		Str("agent_id", agentID).
		Float64("wait_time", wait).
		Msg("call accepted")

	cp := *call
	m.emit(ChangeEvent{Removed: &cp, Reason: ReasonAccepted, AgentID: agentID})
	return call, nil
}

// Reject removes a ringing call without starting a session
func (m *Manager) Reject(callID, agentID string) error {
	m.mu.Lock()
	call := m.queue.Take(callID)
	if call == nil {
		m.mu.Unlock()
		return ErrCallNotFound
	}
	m.queue.Rejected++
	m.mu.Unlock()

	m.logger.Debug().Str("call_id", callID).Str("agent_id", agentID).Msg("call rejected")

	cp := *call
	m.emit(ChangeEvent{Removed: &cp, Reason: ReasonRejected, AgentID: agentID})
	return nil
}

// ExpireOlderThan drops calls ringing longer than maxRing
func (m *Manager) ExpireOlderThan(maxRing time.Duration) int {
	m.mu.Lock()
	expired := m.queue.Expire(time.Now(), maxRing)
	m.mu.Unlock()

	for _, call := range expired {
		m.logger.Debug().Str("call_id", call.ID).Msg("call missed")
		cp := *call
		m.emit(ChangeEvent{Removed: &cp, Reason: ReasonMissed})
	}
	return len(expired)
}

// Snapshot returns the ringing calls in arrival order
func (m *Manager) Snapshot() []types.IncomingCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.IncomingCall, 0, len(m.queue.Waiting))
	for _, call := range m.queue.Waiting {
		out = append(out, *call)
	}
	return out
}

// Stats returns the queue counters
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queue.Stats()
}

// WipeAllCalls clears every ringing call
func (m *Manager) WipeAllCalls() int {
	m.mu.Lock()
	wiped := append([]*types.IncomingCall(nil), m.queue.Waiting...)
	m.queue.Wipe()
	m.mu.Unlock()

	for _, call := range wiped {
		cp := *call
		m.emit(ChangeEvent{Removed: &cp, Reason: ReasonWiped})
	}

	m.logger.Info().Int("cleared", len(wiped)).Msg("wiped all incoming calls")
	return len(wiped)
}
