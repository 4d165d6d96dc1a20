package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/storage"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

// PresenceStore mirrors presence into the record store
type PresenceStore interface {
	SetAgentStatus(ctx context.Context, firebaseUID string, status types.PresenceStatus) error
}

// PresenceRecorder appends presence transitions to history
type PresenceRecorder interface {
	RecordPresence(agentID string, previous, status types.PresenceStatus, at time.Time)
}

type presenceEntry struct {
	presence    types.AgentPresence
	connections int
}

// PresenceTracker owns the presence of every agent seen by this process
type PresenceTracker struct {
	agents   map[string]*presenceEntry // firebase uid -> presence
	store    PresenceStore
	recorder PresenceRecorder
	mu       sync.RWMutex
	logger   zerolog.Logger
}

// NewPresenceTracker creates a new presence tracker
func NewPresenceTracker(store PresenceStore, recorder PresenceRecorder, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		agents:   make(map[string]*presenceEntry),
		store:    store,
		recorder: recorder,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// SetStatus transitions an agent and mirrors the change. It reports the previous
// status and whether anything changed.
func (t *PresenceTracker) SetStatus(ctx context.Context, agentID string, status types.PresenceStatus) (types.PresenceStatus, bool) {
	t.mu.Lock()
	entry, exists := t.agents[agentID]
	if !exists {
		entry = &presenceEntry{presence: types.AgentPresence{AgentID: agentID, Status: types.PresenceOffline}}
		t.agents[agentID] = entry
	}
	prev := entry.presence.Status
	if exists && prev == status {
		t.mu.Unlock()
		return prev, false
	}
	now := time.Now()
	entry.presence.Status = status
	entry.presence.UpdatedAt = now
	t.mu.Unlock()

	t.mirror(ctx, agentID, prev, status, now)
	return prev, true
}

func (t *PresenceTracker) mirror(ctx context.Context, agentID string, prev, status types.PresenceStatus, at time.Time) {
	if err := t.store.SetAgentStatus(ctx, agentID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			t.logger.Debug().Str("agent_id", agentID).Msg("presence not mirrored, agent not registered")
		} else {
			t.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to mirror presence")
		}
	}
	if t.recorder != nil {
		t.recorder.RecordPresence(agentID, prev, status, at)
	}

	t.logger.Debug().
		Str("agent_id", agentID).
		Str("from", string(prev)).
		Str("to", string(status)).
		Msg("presence changed")
}

// Connect registers a console socket; the first one brings an offline agent online
func (t *PresenceTracker) Connect(ctx context.Context, agentID string) {
	t.mu.Lock()
	entry, exists := t.agents[agentID]
	if !exists {
		entry = &presenceEntry{presence: types.AgentPresence{AgentID: agentID, Status: types.PresenceOffline}}
		t.agents[agentID] = entry
	}
	entry.connections++
	goOnline := entry.presence.Status == types.PresenceOffline
	t.mu.Unlock()

	if goOnline {
		t.SetStatus(ctx, agentID, types.PresenceOnline)
	}
}

// Identify records the admin id once a console socket's identity resolves.
// The socket is connected before its identity is known.
func (t *PresenceTracker) Identify(agentID string, adminID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.agents[agentID]; ok {
		entry.presence.AdminID = adminID
	}
}

// Disconnect unregisters a console socket; closing the last one sets the agent offline
func (t *PresenceTracker) Disconnect(ctx context.Context, agentID string) {
	t.mu.Lock()
	entry, exists := t.agents[agentID]
	if !exists {
		t.mu.Unlock()
		return
	}
	if entry.connections > 0 {
		entry.connections--
	}
	goOffline := entry.connections == 0 && entry.presence.Status != types.PresenceOffline
	t.mu.Unlock()

	if goOffline {
		t.SetStatus(ctx, agentID, types.PresenceOffline)
	}
}

// Get returns the presence of one agent
func (t *PresenceTracker) Get(agentID string) (types.AgentPresence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.agents[agentID]
	if !ok {
		return types.AgentPresence{}, false
	}
	return entry.presence, true
}

// GetAll returns all agents' current presence
func (t *PresenceTracker) GetAll() []types.AgentPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.AgentPresence, 0, len(t.agents))
	for _, entry := range t.agents {
		out = append(out, entry.presence)
	}
	return out
}

// RemoveOffline forgets agents that have been offline for longer than maxAge
func (t *PresenceTracker) RemoveOffline(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	threshold := time.Now().Add(-maxAge)
	removed := 0
	for id, entry := range t.agents {
		if entry.presence.Status == types.PresenceOffline &&
			entry.connections == 0 &&
			entry.presence.UpdatedAt.Before(threshold) {
			delete(t.agents, id)
			removed++
		}
	}
	return removed
}

// Count returns the total number of tracked agents
func (t *PresenceTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.agents)
}

// GetPresenceStats returns the number of agents per status
func (t *PresenceTracker) GetPresenceStats() (online, busy, offline int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, entry := range t.agents {
		switch entry.presence.Status {
		case types.PresenceOnline:
			online++
		case types.PresenceBusy:
			busy++
		case types.PresenceOffline:
			offline++
		}
	}
	return
}
