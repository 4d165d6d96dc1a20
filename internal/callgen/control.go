package callgen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Status is the simulator state reported by GET /status
type Status struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Clients   int        `json:"clients"`
}

// API provides the HTTP control interface of the call simulator
type API struct {
	gen         *Generator
	broadcaster *Broadcaster

	mu        sync.Mutex
	runCtx    context.Context
	cancelRun context.CancelFunc
	startedAt *time.Time

	logger zerolog.Logger
}

// NewAPI creates a new control API. Generation runs under ctx once started.
func NewAPI(ctx context.Context, gen *Generator, broadcaster *Broadcaster, logger zerolog.Logger) *API {
	return &API{
		gen:         gen,
		broadcaster: broadcaster,
		runCtx:      ctx,
		logger:      logger.With().Str("component", "control").Logger(),
	}
}

// SetupRoutes configures HTTP routes
func (api *API) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", api.healthHandler).Methods("GET")
	router.HandleFunc("/status", api.statusHandler).Methods("GET")
	router.HandleFunc("/start", api.startHandler).Methods("POST")
	router.HandleFunc("/stop", api.stopHandler).Methods("POST")

	// Call generation control
	router.HandleFunc("/calls/config", api.callsConfigHandler).Methods("GET", "PUT")
	router.HandleFunc("/calls/inject", api.callsInjectHandler).Methods("POST")
	router.HandleFunc("/calls/stats", api.callsStatsHandler).Methods("GET")

	// Telephony socket
	router.Handle("/ws", api.broadcaster)
}

// healthHandler returns service health
func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Status returns the current simulator status
func (api *API) Status() Status {
	api.mu.Lock()
	defer api.mu.Unlock()
	return Status{
		Running:   api.cancelRun != nil,
		StartedAt: api.startedAt,
		Clients:   api.broadcaster.Clients(),
	}
}

// statusHandler returns current simulation status
func (api *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.Status())
}

// Start begins generating calls; it fails if generation is already running
func (api *API) Start() error {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.cancelRun != nil {
		return fmt.Errorf("simulation already running")
	}
	ctx, cancel := context.WithCancel(api.runCtx)
	api.cancelRun = cancel
	now := time.Now()
	api.startedAt = &now
	go api.gen.Run(ctx)

	api.logger.Info().Float64("calls_per_min", api.gen.Config().CallsPerMin).Msg("call generation started")
	return nil
}

// Stop halts call generation; it fails if nothing is running
func (api *API) Stop() error {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.cancelRun == nil {
		return fmt.Errorf("simulation not running")
	}
	api.cancelRun()
	api.cancelRun = nil
	api.startedAt = nil

	api.logger.Info().Msg("call generation stopped")
	return nil
}

// startHandler starts the simulation
func (api *API) startHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "simulation started",
	})
}

// stopHandler stops the simulation
func (api *API) stopHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "simulation stopped",
	})
}

// callsConfigHandler gets or updates call generation config
func (api *API) callsConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == "GET" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.gen.Config())
		return
	}

	// PUT - update call generation config
	var req struct {
		CallsPerMin    *float64 `json:"callsPerMin,omitempty"`
		PeakHourFactor *float64 `json:"peakHourFactor,omitempty"`
		Callers        []Caller `json:"callers,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := api.gen.Update(req.CallsPerMin, req.PeakHourFactor, req.Callers); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "call config updated"})
}

// callsInjectHandler rings N calls immediately
func (api *API) callsInjectHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > 1000 {
		req.Count = 1000
	}

	ids := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		ids = append(ids, api.gen.Ring().CallID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  fmt.Sprintf("injected %d calls", req.Count),
		"injected": req.Count,
		"callIds":  ids,
		"clients":  api.broadcaster.Clients(),
	})
}

// callsStatsHandler returns call generation statistics
func (api *API) callsStatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.gen.Stats())
}

// Serve runs the HTTP server until ctx is cancelled
func (api *API) Serve(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	api.SetupRoutes(router)

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		api.logger.Info().Msg("shutting down control API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	api.logger.Info().Str("addr", addr).Msg("control API started")
	return server.ListenAndServe()
}
