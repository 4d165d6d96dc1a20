package types

import "time"

// IncomingCall is an ephemeral call announced by the telephony event source
type IncomingCall struct {
	ID                 string    `json:"id"`
	Caller             string    `json:"caller"`
	CallerName         string    `json:"callerName,omitempty"`
	DispatchDetailsRef string    `json:"dispatchDetailsRef,omitempty"`
	ReceivedAt         time.Time `json:"receivedAt"`
}

// IncomingCallEvent is the raw "incoming-call" payload emitted by the telephony server
type IncomingCallEvent struct {
	Caller       string `json:"caller"`
	Name         string `json:"name,omitempty"`
	DispatchLink string `json:"dispatchLink,omitempty"`
	CallID       string `json:"callId,omitempty"`
}

// CallSession is the active call/order workflow session of one console tab
type CallSession struct {
	SessionID string    `json:"sessionId"`
	StartTime time.Time `json:"startTime"`
	IsActive  bool      `json:"isActive"`
}
