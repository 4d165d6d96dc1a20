package websocket

import (
	"sync"

	"github.com/dennisdiepolder/dispatchdesk/internal/metrics"
	"github.com/rs/zerolog"
)

// ClientInfo identifies one console socket
type ClientInfo struct {
	ID      string
	UID     string
	Tab     string
	AdminID int64
}

// Hooks are invoked from the hub loop in registration order. AdminID is zero until
// the identity has been resolved.
type Hooks struct {
	OnConnect    func(ClientInfo)
	OnIdentify   func(ClientInfo)
	OnDisconnect func(ClientInfo)
	OnRefresh    func(ClientInfo)
}

type identification struct {
	client  *Client
	adminID int64
}

// Hub maintains the set of active console clients and routes messages to them
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	identify   chan identification
	refresh    chan *Client

	hooks Hooks

	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		identify:   make(chan identification, 64),
		refresh:    make(chan *Client, 64),
		clients:    make(map[*Client]bool),
		logger:     logger.With().Str("component", "console_hub").Logger(),
	}
}

// SetHooks installs lifecycle hooks. Call before Run.
func (h *Hub) SetHooks(hooks Hooks) {
	h.hooks = hooks
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	m := metrics.Get()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			m.RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Str("uid", client.uid).
				Str("tab", client.tab).
				Int("total_clients", total).
				Msg("client connected")
			if h.hooks.OnConnect != nil {
				h.hooks.OnConnect(client.Info())
			}

		case client := <-h.unregister:
			h.drop(client)

		case id := <-h.identify:
			h.mu.Lock()
			_, ok := h.clients[id.client]
			if ok {
				id.client.adminID = id.adminID
			}
			h.mu.Unlock()
			if !ok {
				continue
			}
			h.logger.Debug().
				Str("client_id", id.client.id).
				Int64("admin_id", id.adminID).
				Msg("client identified")
			if h.hooks.OnIdentify != nil {
				h.hooks.OnIdentify(id.client.Info())
			}

		case client := <-h.refresh:
			h.mu.RLock()
			_, ok := h.clients[client]
			h.mu.RUnlock()
			if ok && h.hooks.OnRefresh != nil {
				h.hooks.OnRefresh(client.Info())
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !client.safeSend(message) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range slow {
				h.logger.Warn().
					Str("client_id", client.id).
					Msg("client send buffer full, closing connection")
				h.drop(client)
			}
		}
	}
}

// drop removes a client and fires the disconnect hook once
func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}

	metrics.Get().RecordWebSocketDisconnect()
	h.logger.Info().
		Str("client_id", client.id).
		Str("uid", client.uid).
		Int("total_clients", total).
		Msg("client disconnected")
	if h.hooks.OnDisconnect != nil {
		h.hooks.OnDisconnect(client.Info())
	}
}

// Identify attaches a resolved admin id to a registered client
func (h *Hub) Identify(client *Client, adminID int64) {
	h.identify <- identification{client: client, adminID: adminID}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// SendToAdmin delivers a message to every client identified with adminID.
// It returns the number of clients that accepted the message.
func (h *Hub) SendToAdmin(adminID int64, message []byte) int {
	return h.sendWhere(message, func(c *Client) bool { return c.adminID == adminID })
}

// SendToUser delivers a message to every tab of one agent
func (h *Hub) SendToUser(uid string, message []byte) int {
	return h.sendWhere(message, func(c *Client) bool { return c.uid == uid })
}

func (h *Hub) sendWhere(message []byte, match func(*Client) bool) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		if !match(client) {
			continue
		}
		if client.safeSend(message) {
			sent++
		} else {
			h.logger.Warn().Str("client_id", client.id).Msg("dropped message for slow client")
		}
	}
	return sent
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AdminClientCount returns the number of clients identified with adminID
func (h *Hub) AdminClientCount(adminID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for client := range h.clients {
		if client.adminID == adminID {
			n++
		}
	}
	return n
}
