package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"
)

// StartPusher pushes the registry to a Pushgateway on every interval until ctx is done
func (m *Metrics) StartPusher(ctx context.Context, gatewayURL, job string, interval time.Duration, logger zerolog.Logger) {
	log := logger.With().Str("component", "metrics-pusher").Logger()
	pusher := push.New(gatewayURL, job).Gatherer(m.Registry)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Str("url", gatewayURL).Dur("interval", interval).Msg("metrics pusher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("metrics pusher stopped")
			return
		case <-ticker.C:
			if err := pusher.PushContext(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("failed to push metrics")
			}
		}
	}
}
