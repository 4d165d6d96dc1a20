package types

import "time"

// OrderStatus is the lifecycle status of a placed order or dispatch record
type OrderStatus string

const (
	OrderPlaced     OrderStatus = "Placed"
	OrderPlacing    OrderStatus = "Placing"
	OrderScheduled  OrderStatus = "Scheduled"
	OrderScheduling OrderStatus = "Scheduling"
	OrderAssigned   OrderStatus = "Assigned"
	OrderCancelled  OrderStatus = "Cancelled"
)

// Table names a logical record store table
type Table string

const (
	TablePlacedOrders Table = "placed_orders"
	TableDispatch     Table = "dispatch"
)

// PlacedOrderRow is a raw row of the placed orders table
type PlacedOrderRow struct {
	OrderID         string      `json:"order_id"`
	Status          OrderStatus `json:"status"`
	AdminID         int64       `json:"admin_id"`
	MemberID        *string     `json:"member_id,omitempty"`
	UserID          *string     `json:"user_id,omitempty"`
	AddressID       *string     `json:"address_id,omitempty"`
	ServiceCategory string      `json:"service_category"`
	WorkDescription string      `json:"work_description"`
	CreatedAt       time.Time   `json:"created_at"`
}

// DispatchRecord is the durable record of one service request lifecycle
type DispatchRecord struct {
	OrderID            string      `json:"order_id"`
	TicketID           string      `json:"ticket_id"`
	AdminID            int64       `json:"admin_id"`
	UserID             *string     `json:"user_id"`
	Category           string      `json:"category"`
	RequestAddress     string      `json:"request_address"`
	OrderRequest       string      `json:"order_request"`
	OrderStatus        OrderStatus `json:"order_status"`
	ScheduledTime      *string     `json:"scheduled_time,omitempty"`
	PreviousOrderID    *string     `json:"previous_order_id,omitempty"`
	CancellationReason *string     `json:"cancellation_reason,omitempty"`
	CustomerName       string      `json:"customer_name"`
	PhoneNumber        string      `json:"phone_number"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// ChangeEvent is a record store change notification for one table and admin
type ChangeEvent struct {
	Table   Table  `json:"table"`
	AdminID int64  `json:"admin_id"`
	OrderID string `json:"order_id,omitempty"`
}
