package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// notifier owns the single LISTEN connection and fans notifications out to subscribers
type notifier struct {
	listener *pq.Listener
	feed     *changeFeed
	done     chan struct{}
	logger   zerolog.Logger
}

type notifyPayload struct {
	Table   string `json:"table"`
	AdminID int64  `json:"admin_id"`
	OrderID string `json:"order_id"`
}

func newNotifier(dsn string, logger zerolog.Logger) (*notifier, error) {
	n := &notifier{
		feed:   newChangeFeed(),
		done:   make(chan struct{}),
		logger: logger,
	}

	n.listener = pq.NewListener(dsn, time.Second, 30*time.Second, n.onEvent)
	if err := n.listener.Listen(NotifyChannel); err != nil {
		n.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	go n.run()
	return n, nil
}

func (n *notifier) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		n.logger.Warn().Err(err).Msg("Change listener disconnected")
	case pq.ListenerEventReconnected:
		n.logger.Info().Msg("Change listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		n.logger.Error().Err(err).Msg("Change listener connection attempt failed")
	}
}

func (n *notifier) run() {
	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-n.done:
			return
		case msg, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			if msg == nil {
				// notifications may have been lost while reconnecting
				n.feed.resync()
				continue
			}
			n.dispatch(msg.Extra)
		case <-keepalive.C:
			if err := n.listener.Ping(); err != nil {
				n.logger.Warn().Err(err).Msg("Change listener ping failed")
			}
		}
	}
}

func (n *notifier) dispatch(raw string) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		n.logger.Error().Err(err).Str("payload", raw).Msg("Failed to decode change notification")
		return
	}
	n.feed.publish(types.ChangeEvent{
		Table:   types.Table(p.Table),
		AdminID: p.AdminID,
		OrderID: p.OrderID,
	})
}

// Close stops the listener loop
func (n *notifier) Close() {
	close(n.done)
	n.listener.Close()
}
