package callgen

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidRate rejects negative call rates and peak factors
var ErrInvalidRate = errors.New("rates must not be negative")

// Caller is one simulated subscriber line
type Caller struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// Config controls how often calls ring
type Config struct {
	CallsPerMin    float64  `json:"callsPerMin"`
	PeakHourFactor float64  `json:"peakHourFactor"`
	Callers        []Caller `json:"callers"`
}

// Emitter delivers incoming-call events to connected telephony clients
type Emitter interface {
	Emit(ev types.IncomingCallEvent) int
}

// DefaultCallers seeds the generator when no caller list is configured
var DefaultCallers = []Caller{
	{Phone: "+15550001", Name: "Grace Hopper"},
	{Phone: "+15550002", Name: "Alan Turing"},
	{Phone: "+15550003", Name: "Ada Lovelace"},
	{Phone: "+15550004", Name: "Edsger Dijkstra"},
	{Phone: "+15559999", Name: ""},
}

// Generator rings calls at a configurable rate until its context ends
type Generator struct {
	mu      sync.RWMutex
	cfg     Config
	emitter Emitter
	rng     *rand.Rand

	generated atomic.Int64
	delivered atomic.Int64

	logger zerolog.Logger
}

// NewGenerator creates a Generator with the given starting config
func NewGenerator(cfg Config, emitter Emitter, logger zerolog.Logger) *Generator {
	if len(cfg.Callers) == 0 {
		cfg.Callers = DefaultCallers
	}
	if cfg.PeakHourFactor == 0 {
		cfg.PeakHourFactor = 1.0
	}
	return &Generator{
		cfg:     cfg,
		emitter: emitter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  logger.With().Str("component", "callgen").Logger(),
	}
}

// Config returns a copy of the current config
func (g *Generator) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := g.cfg
	out.Callers = append([]Caller(nil), g.cfg.Callers...)
	return out
}

// Update applies non-nil fields of a config change
func (g *Generator) Update(callsPerMin, peakHourFactor *float64, callers []Caller) error {
	if (callsPerMin != nil && *callsPerMin < 0) || (peakHourFactor != nil && *peakHourFactor < 0) {
		return ErrInvalidRate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if callsPerMin != nil {
		g.cfg.CallsPerMin = *callsPerMin
	}
	if peakHourFactor != nil {
		g.cfg.PeakHourFactor = *peakHourFactor
	}
	if len(callers) > 0 {
		g.cfg.Callers = append([]Caller(nil), callers...)
	}
	return nil
}

// Run rings calls until ctx is cancelled
func (g *Generator) Run(ctx context.Context) {
	for {
		g.mu.RLock()
		rate := g.cfg.CallsPerMin * g.cfg.PeakHourFactor
		g.mu.RUnlock()

		if rate <= 0 {
			// No calls configured; sleep and re-check
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(g.interval(rate)):
		}

		g.Ring()
	}
}

// interval is the base spacing for rate with +/-25% jitter
func (g *Generator) interval(rate float64) time.Duration {
	base := time.Duration(float64(time.Minute) / rate)

	g.mu.Lock()
	jitter := time.Duration(float64(base) * (g.rng.Float64()*0.5 - 0.25))
	g.mu.Unlock()

	sleep := base + jitter
	if sleep < time.Millisecond {
		sleep = time.Millisecond
	}
	return sleep
}

// Ring emits one call from a random caller and returns it
func (g *Generator) Ring() types.IncomingCallEvent {
	g.mu.Lock()
	c := g.cfg.Callers[g.rng.Intn(len(g.cfg.Callers))]
	g.mu.Unlock()

	ev := types.IncomingCallEvent{
		Caller: c.Phone,
		Name:   c.Name,
		CallID: uuid.NewString(),
	}
	g.generated.Add(1)
	n := g.emitter.Emit(ev)
	g.delivered.Add(int64(n))

	g.logger.Debug().
		Str("call_id", ev.CallID).
		Str("caller", ev.Caller).
		Int("clients", n).
		Msg("call rang")
	return ev
}

// Stats returns generation counters
func (g *Generator) Stats() map[string]interface{} {
	cfg := g.Config()
	return map[string]interface{}{
		"generated":      g.generated.Load(),
		"delivered":      g.delivered.Load(),
		"callsPerMin":    cfg.CallsPerMin,
		"peakHourFactor": cfg.PeakHourFactor,
		"callers":        len(cfg.Callers),
	}
}
