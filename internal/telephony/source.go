package telephony

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/ingestion"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Reconnect backoff
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// Max silence before the connection is considered dead
	readTimeout = 90 * time.Second
)

// Source dials the telephony server and forwards its incoming-call events
type Source struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	reconnects int64
	received   int64

	// overridable in tests
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewSource creates a telephony source for a ws:// or http:// URL
func NewSource(url string, logger zerolog.Logger) *Source {
	// Convert http:// to ws:// or https:// to wss://
	if strings.HasPrefix(url, "http") {
		url = "ws" + url[4:]
	}
	return &Source{
		url:          url,
		dialer:       websocket.DefaultDialer,
		logger:       logger.With().Str("component", "telephony").Str("url", url).Logger(),
		initialDelay: initialReconnectDelay,
		maxDelay:     maxReconnectDelay,
	}
}

// Start maintains the connection until ctx is cancelled
func (s *Source) Start(ctx context.Context, processor ingestion.EventProcessor) error {
	reconnectDelay := s.initialDelay

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		default:
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Debug().Err(err).Dur("retry_in", reconnectDelay).Msg("telephony connection failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			// Exponential backoff
			reconnectDelay *= 2
			if reconnectDelay > s.maxDelay {
				reconnectDelay = s.maxDelay
			}
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			continue
		}

		// Reset backoff on successful connection
		reconnectDelay = s.initialDelay
		s.mu.Lock()
		s.conn = conn
		s.connected = true
		s.mu.Unlock()
		s.logger.Info().Msg("telephony connected")

		s.readLoop(ctx, conn, processor)

		// Connection lost, try to reconnect
		s.mu.Lock()
		s.connected = false
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		s.logger.Warn().Msg("telephony connection lost")
	}
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, processor ingestion.EventProcessor) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug().Err(err).Msg("telephony read error")
				}
				return
			}
			s.handleMessage(message, processor)
		}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		<-readDone
	case <-readDone:
	}
}

// handleMessage parses one telephony frame; anything but incoming-call is ignored
func (s *Source) handleMessage(message []byte, processor ingestion.EventProcessor) {
	var env types.TelephonyEvent
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse telephony message")
		return
	}
	if env.Event != "incoming-call" {
		return
	}

	var ev types.IncomingCallEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse incoming-call payload")
		return
	}

	s.mu.Lock()
	s.received++
	s.mu.Unlock()

	if _, err := processor.ProcessIncomingCall(&ev, ingestion.SourceTelephony); err != nil {
		s.logger.Warn().Err(err).Msg("incoming call rejected")
	}
}

// Connected reports whether the socket is up
func (s *Source) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Stats returns connection counters
func (s *Source) Stats() (received, reconnects int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.reconnects
}

// Close drops the current connection
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}
