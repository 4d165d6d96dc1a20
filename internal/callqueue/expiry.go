package callqueue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxRing is how long a call may ring before it is considered missed
const DefaultMaxRing = 2 * time.Minute

// ExpiryLoop periodically drops calls that rang out
type ExpiryLoop struct {
	mgr     *Manager
	maxRing time.Duration
	logger  zerolog.Logger
}

// NewExpiryLoop creates a new ExpiryLoop
func NewExpiryLoop(mgr *Manager, maxRing time.Duration, logger zerolog.Logger) *ExpiryLoop {
	return &ExpiryLoop{
		mgr:     mgr,
		maxRing: maxRing,
		logger:  logger.With().Str("component", "call-expiry").Logger(),
	}
}

// Start ticks every second until the context is cancelled
func (el *ExpiryLoop) Start(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	el.logger.Info().Dur("max_ring", el.maxRing).Msg("call expiry loop started")

	for {
		select {
		case <-ctx.Done():
			el.logger.Info().Msg("call expiry loop stopped")
			return
		case <-ticker.C:
			if n := el.mgr.ExpireOlderThan(el.maxRing); n > 0 {
				el.logger.Info().Int("missed", n).Msg("expired ringing calls")
			}
		}
	}
}
