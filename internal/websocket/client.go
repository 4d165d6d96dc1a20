package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/config"
	"github.com/dennisdiepolder/dispatchdesk/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a middleman between one console socket and the hub
type Client struct {
	id  string
	uid string
	tab string

	// written by the hub loop under hub.mu
	adminID int64

	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	config *config.Config
	logger zerolog.Logger
}

// NewClient creates a new Client for an authenticated agent tab
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, uid, tab string, logger zerolog.Logger) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:     clientID,
		uid:    uid,
		tab:    tab,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		config: cfg,
		logger: logger.With().Str("client_id", clientID).Str("uid", uid).Logger(),
	}
}

// Info returns the client's identity
func (c *Client) Info() ClientInfo {
	return ClientInfo{ID: c.id, UID: c.uid, Tab: c.tab, AdminID: c.adminID}
}

// readPump pumps messages from the websocket connection to the hub.
// At most one reader runs per connection.
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
				metrics.Get().RecordWebSocketError()
			}
			break
		}
		metrics.Get().RecordWebSocketMessage()
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var msgType struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msgType); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse message type")
		return
	}

	switch msgType.Type {
	case "refresh_queue":
		select {
		case c.hub.refresh <- c:
		default:
			c.logger.Debug().Msg("refresh already pending")
		}

	case "ping":
		c.safeSend([]byte(`{"type":"pong"}`))

	default:
		c.logger.Debug().Str("type", msgType.Type).Msg("unknown message type")
	}
}

// writePump pumps messages from the hub to the websocket connection.
// At most one writer runs per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the client's send channel (idempotent)
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// safeSend queues a message without blocking; it reports false when the buffer
// is full or the client is shutting down
func (c *Client) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
