package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/api"
	"github.com/dennisdiepolder/dispatchdesk/internal/auth"
	"github.com/dennisdiepolder/dispatchdesk/internal/cache"
	"github.com/dennisdiepolder/dispatchdesk/internal/callqueue"
	"github.com/dennisdiepolder/dispatchdesk/internal/config"
	"github.com/dennisdiepolder/dispatchdesk/internal/dispatch"
	"github.com/dennisdiepolder/dispatchdesk/internal/event"
	"github.com/dennisdiepolder/dispatchdesk/internal/geo"
	"github.com/dennisdiepolder/dispatchdesk/internal/history"
	"github.com/dennisdiepolder/dispatchdesk/internal/ingestion"
	"github.com/dennisdiepolder/dispatchdesk/internal/metrics"
	"github.com/dennisdiepolder/dispatchdesk/internal/session"
	"github.com/dennisdiepolder/dispatchdesk/internal/stepper"
	"github.com/dennisdiepolder/dispatchdesk/internal/storage"
	"github.com/dennisdiepolder/dispatchdesk/internal/telephony"
	"github.com/dennisdiepolder/dispatchdesk/internal/ticker"
	"github.com/dennisdiepolder/dispatchdesk/internal/websocket"
	"github.com/dennisdiepolder/dispatchdesk/internal/workqueue"
	"github.com/dennisdiepolder/dispatchdesk/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// offline agents without a socket are forgotten after this long
const presenceRetention = 30 * time.Minute

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Msg("starting dispatch console backend")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Record store (Postgres or in-memory)
	store, err := storage.NewStore(ctx, cfg.DatabaseURL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open record store")
	}
	defer store.Close()

	// Tab session state (sqlite file or in-memory)
	var sessionStorage session.Storage = session.NewMemoryStorage()
	if cfg.SessionDBPath != "" {
		sqliteStorage, err := session.OpenSQLite(ctx, cfg.SessionDBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SessionDBPath).Msg("failed to open session database")
		}
		defer sqliteStorage.Close()
		sessionStorage = sqliteStorage
	}
	sessions := session.NewManager(sessionStorage, log.Logger)

	// Session and presence history (DynamoDB or disabled)
	historyStore, err := history.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create history store")
	}
	recorder := history.NewRecorder(historyStore, log.Logger)

	// Metrics
	m := metrics.Get()
	if cfg.PushgatewayURL != "" {
		go m.StartPusher(ctx, cfg.PushgatewayURL, "dispatchdesk", cfg.MetricsPushInterval, log.Logger)
	}

	// Shared call queue
	callMgr := callqueue.NewManager(log.Logger)
	go callqueue.NewExpiryLoop(callMgr, cfg.CallMaxRing, log.Logger).Start(ctx)

	presence := cache.NewPresenceTracker(store, recorder, log.Logger)
	go sweepPresence(ctx, presence, m)

	admins := auth.NewAdminResolver(store, log.Logger)

	// Create WebSocket hub
	hub := websocket.NewHub(log.Logger)

	aggregator := workqueue.NewAggregator(store, callMgr, hub, cfg.ScheduleLead, cfg.QueueRecheckInterval, log.Logger)
	callMgr.OnChange(aggregator.OnCallChange)

	hub.SetHooks(websocket.Hooks{
		OnConnect: func(c websocket.ClientInfo) {
			presence.Connect(ctx, c.UID)
		},
		OnIdentify: func(c websocket.ClientInfo) {
			presence.Identify(c.UID, c.AdminID)
			aggregator.Watch(ctx, c.AdminID)
		},
		OnDisconnect: func(c websocket.ClientInfo) {
			presence.Disconnect(ctx, c.UID)
			if c.AdminID != 0 {
				aggregator.Unwatch(c.AdminID)
			}
		},
		OnRefresh: func(c websocket.ClientInfo) {
			if c.AdminID != 0 {
				aggregator.Refresh(c.AdminID)
			}
		},
	})
	go hub.Run()

	// Console clock
	go ticker.NewTicker(hub, cfg.ClockInterval, log.Logger).Start(ctx)

	// Create WebSocket handler
	wsHandler := websocket.NewHandler(hub, admins, cfg, log.Logger)

	// Incoming-call ingestion
	eventCache := cache.NewEventCache()
	processor := ingestion.NewDefaultProcessor(callMgr, eventCache, log.Logger)
	eventReceiver := event.NewReceiver(processor, eventCache, log.Logger)
	callHandler := callqueue.NewCallHandler(callMgr, log.Logger)

	var telephonySource *telephony.Source
	if cfg.TelephonyWSURL != "" {
		telephonySource = telephony.NewSource(cfg.TelephonyWSURL, log.Logger)
		go func() {
			if err := telephonySource.Start(ctx, processor); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("telephony source stopped")
			}
		}()
	} else {
		log.Info().Msg("telephony disabled (TELEPHONY_WS_URL not set), calls arrive via /internal/incoming-call only")
	}

	// Dispatch workflow
	workflow := dispatch.NewService(dispatch.Deps{
		Store:    store,
		Sessions: sessions,
		Calls:    callMgr,
		Presence: presence,
		Admins:   admins,
		Placed:   aggregator,
		Geocoder: geo.NewHTTPGeocoder(cfg.GeocoderURL, log.Logger),
		Recorder: recorder,
	}, cfg.DispatchDisplayDelay, log.Logger)
	steps := stepper.NewStepper(sessions, workflow, log.Logger)

	authenticator := auth.NewAuthenticator(log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Handle("/metrics", m.Handler())

	// Internal routes (no auth - for the telephony bridge and CallSim)
	r.Route("/internal", func(r chi.Router) {
		r.Post("/incoming-call", eventReceiver.HandleIncomingCall)
		r.Get("/events", eventReceiver.GetRecent)
		r.Get("/events/stats", eventReceiver.GetStats)
		r.Get("/calls", callHandler.HandleList)
		r.Get("/calls/stats", callHandler.HandleStats)
		r.Delete("/calls/all", callHandler.HandleWipeAll)
		r.Get("/telephony", func(w http.ResponseWriter, r *http.Request) {
			telephonyStatus(w, telephonySource)
		})
	})

	// Add auth middleware for protected routes
	r.Group(func(r chi.Router) {
		r.Use(authenticator.Middleware)
		r.Get("/ws", wsHandler.ServeHTTP)
		api.Mount(r, api.Handlers{
			Console:  api.NewConsoleHandler(aggregator, admins, sessions, workflow, steps, callMgr, log.Logger),
			Lookup:   api.NewLookupHandler(store, log.Logger),
			Dispatch: api.NewDispatchHandler(workflow, log.Logger),
			Agents:   api.NewAgentActionsHandler(presence, admins, log.Logger),
			Roster:   api.NewRosterHandler(store, admins, log.Logger),
			History:  api.NewAgentHistoryHandler(recorder.Store(), log.Logger),
			Admin:    api.NewAdminHandler(cfg.CallSimURL, processor, callMgr, eventCache, historyStore, log.Logger),
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop background loops
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// sweepPresence refreshes presence gauges and forgets long-offline agents
func sweepPresence(ctx context.Context, presence *cache.PresenceTracker, m *metrics.Metrics) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			presence.RemoveOffline(presenceRetention)
			m.UpdatePresenceStats(presence.GetPresenceStats())
		}
	}
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"dispatchdesk"}`)
}

// telephonyStatus reports the state of the telephony socket
func telephonyStatus(w http.ResponseWriter, src *telephony.Source) {
	w.Header().Set("Content-Type", "application/json")
	if src == nil {
		fmt.Fprint(w, `{"enabled":false}`)
		return
	}
	received, reconnects := src.Stats()
	fmt.Fprintf(w, `{"enabled":true,"connected":%t,"received":%d,"reconnects":%d}`, src.Connected(), received, reconnects)
}
