package callgen

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Broadcaster is the simulated telephony socket. Every connected client gets
// each incoming-call event wrapped in the {"event","data"} envelope.
type Broadcaster struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	subs     map[*subscriber]struct{}
	logger   zerolog.Logger
}

// NewBroadcaster creates a new Broadcaster
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs:   make(map[*subscriber]struct{}),
		logger: logger.With().Str("component", "telephony_ws").Logger(),
	}
}

// ServeHTTP upgrades a telephony client
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to upgrade telephony client")
		return
	}
	s := &subscriber{conn: conn}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	b.logger.Info().Str("remote", r.RemoteAddr).Msg("telephony client connected")

	// drain reads so close frames are noticed
	go func() {
		defer b.remove(s)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) remove(s *subscriber) {
	b.mu.Lock()
	_, ok := b.subs[s]
	delete(b.subs, s)
	b.mu.Unlock()
	if ok {
		s.conn.Close()
		b.logger.Info().Msg("telephony client disconnected")
	}
}

// Emit sends ev to every client and returns how many received it
func (b *Broadcaster) Emit(ev types.IncomingCallEvent) int {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal incoming call")
		return 0
	}
	frame, err := json.Marshal(types.TelephonyEvent{Event: "incoming-call", Data: data})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal telephony envelope")
		return 0
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	sent := 0
	for _, s := range subs {
		s.mu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := s.conn.WriteMessage(websocket.TextMessage, frame)
		s.mu.Unlock()
		if err != nil {
			b.logger.Warn().Err(err).Msg("dropping telephony client")
			b.remove(s)
			continue
		}
		sent++
	}
	return sent
}

// Clients returns the number of connected telephony clients
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
