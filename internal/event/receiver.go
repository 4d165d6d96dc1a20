package event

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/cache"
	"github.com/dennisdiepolder/dispatchdesk/internal/ingestion"
	"github.com/dennisdiepolder/dispatchdesk/internal/metrics"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

// Receiver handles incoming-call events injected over HTTP
type Receiver struct {
	processor      ingestion.EventProcessor
	cache          *cache.EventCache
	logger         zerolog.Logger
	eventsReceived int64
	lastReceived   time.Time
	mu             sync.RWMutex
}

// NewReceiver creates a new event receiver
func NewReceiver(processor ingestion.EventProcessor, cache *cache.EventCache, logger zerolog.Logger) *Receiver {
	return &Receiver{
		processor: processor,
		cache:     cache,
		logger:    logger.With().Str("component", "receiver").Logger(),
	}
}

// HandleIncomingCall accepts the same payload the telephony socket carries,
// either bare or wrapped in the {"event","data"} envelope.
// POST /internal/incoming-call
func (r *Receiver) HandleIncomingCall(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&raw); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode event")
		metrics.Get().RecordEventError()
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	ev, err := decodeIncomingCall(raw)
	if err != nil {
		metrics.Get().RecordEventError()
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	call, err := r.processor.ProcessIncomingCall(ev, ingestion.SourceHTTP)
	if err != nil {
		if errors.Is(err, ingestion.ErrMissingCaller) {
			http.Error(w, "caller is required", http.StatusBadRequest)
			return
		}
		r.logger.Error().Err(err).Msg("failed to process incoming call")
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	// Update stats
	count := atomic.AddInt64(&r.eventsReceived, 1)
	r.mu.Lock()
	r.lastReceived = time.Now()
	r.mu.Unlock()

	// Log periodically
	if count%100 == 0 {
		r.logger.Info().
			Int64("total_received", count).
			Int("cache_size", r.cache.Size()).
			Msg("events received")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"callId": call.ID})
}

func decodeIncomingCall(raw json.RawMessage) (*types.IncomingCallEvent, error) {
	var env types.TelephonyEvent
	if err := json.Unmarshal(raw, &env); err == nil && env.Event != "" {
		if env.Event != "incoming-call" {
			return nil, errors.New("unsupported event " + env.Event)
		}
		raw = env.Data
	}
	var ev types.IncomingCallEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetStats returns receiver statistics
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	lastReceived := r.lastReceived
	r.mu.RUnlock()

	stats := map[string]interface{}{
		"events_received": atomic.LoadInt64(&r.eventsReceived),
		"last_received":   lastReceived,
		"cache_size":      r.cache.Size(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetRecent returns the most recent events, newest first
// GET /internal/events?limit=n
func (r *Receiver) GetRecent(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(r.cache.Recent(limit))
}
