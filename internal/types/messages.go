package types

import (
	"encoding/json"
	"time"
)

// IncomingCallMessage is pushed to consoles when a call arrives
type IncomingCallMessage struct {
	Type string       `json:"type"` // "incoming-call"
	Call IncomingCall `json:"call"`
}

// CallRemovedMessage is pushed to consoles when a call is accepted or rejected
type CallRemovedMessage struct {
	Type   string `json:"type"` // "call-removed"
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

// ClockMessage is the periodic console clock tick
type ClockMessage struct {
	Type       string `json:"type"` // "clock"
	Timestamp  string `json:"timestamp"`
	ServerTime int64  `json:"serverTime"`
}

// SessionEndedMessage tells every tab of a session that it was closed
type SessionEndedMessage struct {
	Type      string    `json:"type"` // "session-ended"
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// TelephonyEvent is the envelope read from the telephony socket
type TelephonyEvent struct {
	Event string          `json:"event"` // "incoming-call"
	Data  json.RawMessage `json:"data"`
}
