package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager owns the per-tab session states
type Manager struct {
	mu      sync.Mutex
	states  map[string]*State
	storage Storage
	logger  zerolog.Logger
}

// NewManager creates a session manager backed by storage
func NewManager(storage Storage, logger zerolog.Logger) *Manager {
	return &Manager{
		states:  make(map[string]*State),
		storage: storage,
		logger:  logger.With().Str("component", "session").Logger(),
	}
}

// TabKey builds the state key for one console tab of an agent
func TabKey(uid, tab string) string {
	if tab == "" {
		tab = "default"
	}
	return uid + ":" + tab
}

// Get returns the tab's state, restoring it from storage on first access
func (m *Manager) Get(ctx context.Context, uid, tab string) *State {
	key := TabKey(uid, tab)

	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[key]; ok {
		return st
	}

	st := newState(key, m.storage, m.logger)
	st.restore(ctx)
	m.states[key] = st
	return st
}

// Count returns the number of tab states held in memory
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
