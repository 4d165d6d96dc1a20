package types

import "time"

// PresenceStatus represents the availability of an agent at the console
type PresenceStatus string

const (
	PresenceOffline PresenceStatus = "offline"
	PresenceOnline  PresenceStatus = "online"
	PresenceBusy    PresenceStatus = "busy"
)

// Valid reports whether s is one of the known presence states
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOffline, PresenceOnline, PresenceBusy:
		return true
	}
	return false
}

// AgentPresence is the console-owned presence record of one agent
type AgentPresence struct {
	AgentID   string         `json:"agentId"`
	AdminID   int64          `json:"adminId,omitempty"`
	Status    PresenceStatus `json:"status"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Agent is the registration record linking an identity provider uid to an admin id
type Agent struct {
	FirebaseUID string         `json:"firebase_uid"`
	Email       string         `json:"email"`
	AgentID     string         `json:"agent_id"`
	AdminID     int64          `json:"admin_id"`
	Status      PresenceStatus `json:"status,omitempty"`
}

// Member is a subscriber account
type Member struct {
	MemberID string `json:"member_id"`
	Name     string `json:"customer_name"`
}

// User is a generic app user record
type User struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

// Address is a subscriber delivery address
type Address struct {
	AddressID string `json:"address_id"`
	MemberID  string `json:"member_id,omitempty"`
	Line      string `json:"address_line"`
}

// Serviceman is a field technician that can be assigned to an order
type Serviceman struct {
	UserID     string   `json:"user_id"`
	FullName   string   `json:"full_name"`
	CurrentLat *float64 `json:"current_lat"`
	CurrentLng *float64 `json:"current_lng"`
	Rating     float64  `json:"rating"`
	Vehicle    string   `json:"vehicle"`
	Category   string   `json:"category"`
}

// ServicemanCandidate is a serviceman annotated with the distance to the request address
type ServicemanCandidate struct {
	Serviceman
	DistanceKm *float64 `json:"distance_km"`
}
