package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/auth"
	"github.com/dennisdiepolder/dispatchdesk/internal/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// AdminIDResolver maps an agent uid to its admin id
type AdminIDResolver interface {
	Resolve(ctx context.Context, uid string) (int64, error)
}

// Handler upgrades authenticated console requests to websockets
type Handler struct {
	hub      *Hub
	resolver AdminIDResolver
	upgrader websocket.Upgrader
	config   *config.Config
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, resolver AdminIDResolver, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:      hub,
		resolver: resolver,
		config:   cfg,
		logger:   logger.With().Str("component", "console_ws").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("rejected websocket origin")
	return false
}

// ServeHTTP handles WebSocket upgrade requests. The admin id is resolved after
// the socket is registered so a slow lookup never delays the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UID(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	tab := r.URL.Query().Get("tab")
	if tab == "" {
		tab = r.Header.Get("X-Console-Tab")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, uid, tab, h.logger)
	h.hub.register <- client
	client.Start()

	go h.identify(client)
}

func (h *Handler) identify(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adminID, err := h.resolver.Resolve(ctx, client.uid)
	if err != nil {
		h.logger.Warn().Err(err).Str("uid", client.uid).Msg("admin id unavailable, work queue disabled for socket")
		return
	}
	h.hub.Identify(client, adminID)
}
