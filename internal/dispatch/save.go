package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dennisdiepolder/dispatchdesk/internal/storage"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/google/uuid"
)

// DispatchRequest is the body of POST /call/dispatch. IsScheduledUpdate selects
// an update of the existing record instead of an insert.
type DispatchRequest struct {
	OrderID            string            `json:"order_id"`
	TicketID           string            `json:"ticket_id"`
	AdminID            int64             `json:"admin_id"`
	UserID             *string           `json:"user_id"`
	Category           string            `json:"category"`
	RequestAddress     string            `json:"request_address"`
	OrderRequest       string            `json:"order_request"`
	OrderStatus        types.OrderStatus `json:"order_status"`
	ScheduledTime      *string           `json:"scheduled_time,omitempty"`
	PreviousOrderID    *string           `json:"previous_order_id,omitempty"`
	CancellationReason *string           `json:"cancellation_reason,omitempty"`
	CustomerName       string            `json:"customer_name"`
	PhoneNumber        string            `json:"phone_number"`
	IsScheduledUpdate  bool              `json:"isScheduledUpdate"`
}

func (r DispatchRequest) validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", ErrValidation)
	}
	if r.AdminID <= 0 {
		return fmt.Errorf("%w: admin_id is required", ErrValidation)
	}
	switch r.OrderStatus {
	case types.OrderAssigned:
		if r.UserID == nil || *r.UserID == "" {
			return fmt.Errorf("%w: user_id is required for Assigned", ErrValidation)
		}
	case types.OrderScheduled:
		if r.ScheduledTime == nil || *r.ScheduledTime == "" {
			return fmt.Errorf("%w: scheduled_time is required for Scheduled", ErrValidation)
		}
	case "":
		return fmt.Errorf("%w: order_status is required", ErrValidation)
	}
	return nil
}

// SaveDispatch inserts or updates a dispatch record and returns its ticket id
func (s *Service) SaveDispatch(ctx context.Context, req DispatchRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	if req.TicketID == "" {
		req.TicketID = uuid.New().String()
	}

	rec := &types.DispatchRecord{
		OrderID:            req.OrderID,
		TicketID:           req.TicketID,
		AdminID:            req.AdminID,
		UserID:             req.UserID,
		Category:           req.Category,
		RequestAddress:     req.RequestAddress,
		OrderRequest:       req.OrderRequest,
		OrderStatus:        req.OrderStatus,
		ScheduledTime:      req.ScheduledTime,
		PreviousOrderID:    req.PreviousOrderID,
		CancellationReason: req.CancellationReason,
		CustomerName:       req.CustomerName,
		PhoneNumber:        req.PhoneNumber,
	}

	if !req.IsScheduledUpdate {
		if err := s.store.InsertDispatchRecord(ctx, rec); err != nil {
			return "", fmt.Errorf("insert dispatch %s: %w", req.OrderID, err)
		}
		return rec.TicketID, nil
	}

	existing, err := s.store.GetDispatchRecord(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("scheduled order %s: %w", req.OrderID, err)
		}
		return "", fmt.Errorf("load dispatch %s: %w", req.OrderID, err)
	}
	// the scheduled record keeps its ticket and schedule unless overridden
	if req.TicketID != existing.TicketID && existing.TicketID != "" {
		rec.TicketID = existing.TicketID
	}
	if rec.ScheduledTime == nil {
		rec.ScheduledTime = existing.ScheduledTime
	}
	rec.CreatedAt = existing.CreatedAt
	if err := s.store.UpdateDispatchRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("update dispatch %s: %w", req.OrderID, err)
	}
	return rec.TicketID, nil
}

// DispatchDetails returns the stored record of an order
func (s *Service) DispatchDetails(ctx context.Context, orderID string) (*types.DispatchRecord, error) {
	rec, err := s.store.GetDispatchRecord(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("dispatch details %s: %w", orderID, err)
	}
	return rec, nil
}
