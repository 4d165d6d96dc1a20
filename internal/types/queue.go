package types

import "time"

// ItemKind tags the variant of a work queue item
type ItemKind string

const (
	KindIncomingCall   ItemKind = "incoming_call"
	KindPlacedOrder    ItemKind = "placed_order"
	KindScheduledOrder ItemKind = "scheduled_order"
)

// PlacedOrder is an app-placed order waiting for dispatch
type PlacedOrder struct {
	OrderID         string    `json:"orderId"`
	CustomerName    string    `json:"customerName"`
	CustomerPhone   string    `json:"customerPhone"`
	Address         string    `json:"address"`
	ServiceCategory string    `json:"serviceCategory"`
	WorkDescription string    `json:"workDescription"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ScheduledOrder is a scheduled dispatch record that is due soon
type ScheduledOrder struct {
	OrderID       string    `json:"orderId"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone"`
	Address       string    `json:"address"`
	ScheduledTime string    `json:"scheduledTime"`
	DueAt         time.Time `json:"dueAt"`
	Category      string    `json:"category"`
}

// ItemKey identifies a queue item across refreshes
type ItemKey struct {
	Kind ItemKind
	ID   string
}

// AlertSeverity represents the severity of a queue item alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// QueueAlert annotates a work queue item that needs attention
type QueueAlert struct {
	Rule     string        `json:"rule"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// WorkQueueItem is a tagged variant; exactly one of Call, Placed, Scheduled is set
type WorkQueueItem struct {
	Kind      ItemKind        `json:"kind"`
	Call      *IncomingCall   `json:"call,omitempty"`
	Placed    *PlacedOrder    `json:"placed,omitempty"`
	Scheduled *ScheduledOrder `json:"scheduled,omitempty"`
	Alerts    []QueueAlert    `json:"alerts,omitempty"`
}

// Key returns the identity key of the item
func (i WorkQueueItem) Key() ItemKey {
	switch i.Kind {
	case KindIncomingCall:
		if i.Call != nil {
			return ItemKey{Kind: i.Kind, ID: i.Call.ID}
		}
	case KindPlacedOrder:
		if i.Placed != nil {
			return ItemKey{Kind: i.Kind, ID: i.Placed.OrderID}
		}
	case KindScheduledOrder:
		if i.Scheduled != nil {
			return ItemKey{Kind: i.Kind, ID: i.Scheduled.OrderID}
		}
	}
	return ItemKey{Kind: i.Kind}
}

// QueueCounts breaks the queue size down by variant
type QueueCounts struct {
	Calls     int `json:"calls"`
	Placed    int `json:"placed"`
	Scheduled int `json:"scheduled"`
}

// WorkQueue is the ordered, de-duplicated view pushed to an agent's console
type WorkQueue struct {
	Type      string          `json:"type"` // always "work_queue"
	AdminID   int64           `json:"adminId"`
	Timestamp time.Time       `json:"timestamp"`
	Count     int             `json:"count"`
	Counts    QueueCounts     `json:"counts"`
	Items     []WorkQueueItem `json:"items"`
}
