package ingestion

import (
	"context"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

// Event sources
const (
	SourceTelephony = "telephony"
	SourceHTTP      = "http"
)

// EventProcessor processes events from any source (telephony socket, HTTP injection, callsim)
type EventProcessor interface {
	ProcessIncomingCall(ev *types.IncomingCallEvent, source string) (*types.IncomingCall, error)
}

// EventSource represents a source of telephony events
type EventSource interface {
	// Start receives events and forwards them to the processor until ctx is done
	Start(ctx context.Context, processor EventProcessor) error

	// Connected reports whether the source currently has a live connection
	Connected() bool
}
