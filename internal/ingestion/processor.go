package ingestion

import (
	"errors"
	"strings"

	"github.com/dennisdiepolder/dispatchdesk/internal/cache"
	"github.com/dennisdiepolder/dispatchdesk/internal/metrics"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

// ErrMissingCaller rejects incoming-call events without a caller number
var ErrMissingCaller = errors.New("incoming call has no caller")

// CallEnqueuer puts announced calls on the shared queue
type CallEnqueuer interface {
	Enqueue(ev types.IncomingCallEvent) (*types.IncomingCall, bool)
}

// DefaultProcessor implements EventProcessor by enqueueing into the call queue
type DefaultProcessor struct {
	calls  CallEnqueuer
	events *cache.EventCache
	logger zerolog.Logger
}

// NewDefaultProcessor creates a new DefaultProcessor
func NewDefaultProcessor(calls CallEnqueuer, events *cache.EventCache, logger zerolog.Logger) *DefaultProcessor {
	return &DefaultProcessor{
		calls:  calls,
		events: events,
		logger: logger.With().Str("component", "ingestion").Logger(),
	}
}

func (p *DefaultProcessor) ProcessIncomingCall(ev *types.IncomingCallEvent, source string) (*types.IncomingCall, error) {
	m := metrics.Get()
	m.RecordEventReceived(source)

	if strings.TrimSpace(ev.Caller) == "" {
		m.RecordEventError()
		return nil, ErrMissingCaller
	}

	if p.events != nil {
		p.events.Add(*ev, source)
	}
	call, added := p.calls.Enqueue(*ev)
	m.RecordEventProcessed()

	p.logger.Debug().
		Str("source", source).
		Str("call_id", call.ID).
		Str("caller", call.Caller).
		Bool("duplicate", !added).
		Msg("incoming call processed")
	return call, nil
}
