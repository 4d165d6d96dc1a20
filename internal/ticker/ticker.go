package ticker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

// Broadcaster fans a message out to every console
type Broadcaster interface {
	Broadcast(message []byte)
	ClientCount() int
}

// Ticker periodically broadcasts the console clock
type Ticker struct {
	hub      Broadcaster
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewTicker creates a new Ticker
func NewTicker(hub Broadcaster, interval time.Duration, logger zerolog.Logger) *Ticker {
	return &Ticker{
		hub:      hub,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "clock").Logger(),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("clock ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("clock ticker stopped")
			return
		case <-ticker.C:
			// nobody is listening
			if t.hub.ClientCount() == 0 {
				continue
			}
			data, err := json.Marshal(clockMessage(t.now()))
			if err != nil {
				t.logger.Error().Err(err).Msg("failed to marshal clock message")
				continue
			}
			t.hub.Broadcast(data)
		}
	}
}

func clockMessage(now time.Time) types.ClockMessage {
	return types.ClockMessage{
		Type:       "clock",
		Timestamp:  now.Format(time.RFC3339),
		ServerTime: now.UnixMilli(),
	}
}
