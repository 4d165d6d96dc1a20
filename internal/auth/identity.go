package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// AdminLookup resolves the admin id registered for an agent uid
type AdminLookup interface {
	GetAdminID(ctx context.Context, firebaseUID string) (int64, error)
}

// AdminResolver caches uid -> admin id resolutions. Failures are not cached so
// the next caller retries against the store.
type AdminResolver struct {
	lookup AdminLookup
	cache  map[string]int64
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewAdminResolver creates a new AdminResolver
func NewAdminResolver(lookup AdminLookup, logger zerolog.Logger) *AdminResolver {
	return &AdminResolver{
		lookup: lookup,
		cache:  make(map[string]int64),
		logger: logger.With().Str("component", "admin_resolver").Logger(),
	}
}

// Resolve returns the admin id for uid
func (r *AdminResolver) Resolve(ctx context.Context, uid string) (int64, error) {
	r.mu.RLock()
	id, ok := r.cache[uid]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := r.lookup.GetAdminID(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("resolve admin id for %s: %w", uid, err)
	}

	r.mu.Lock()
	r.cache[uid] = id
	r.mu.Unlock()
	r.logger.Debug().Str("uid", uid).Int64("admin_id", id).Msg("admin id resolved")
	return id, nil
}

// Forget drops a cached resolution, e.g. after the agent re-registers
func (r *AdminResolver) Forget(uid string) {
	r.mu.Lock()
	delete(r.cache, uid)
	r.mu.Unlock()
}
