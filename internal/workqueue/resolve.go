package workqueue

import (
	"context"
	"errors"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/storage"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

const (
	UnknownCustomer   = "Unknown Customer"
	UnknownPhone      = "N/A"
	NoAddressProvided = "No address provided"
	AddressNotFound   = "Address not found"
)

// ResolvePlaced turns a raw placed order row into a queue entry. When both a
// membership and a user resolve, the membership wins.
func (a *Aggregator) ResolvePlaced(ctx context.Context, row types.PlacedOrderRow) types.PlacedOrder {
	order := types.PlacedOrder{
		OrderID:         row.OrderID,
		CustomerName:    UnknownCustomer,
		CustomerPhone:   UnknownPhone,
		ServiceCategory: row.ServiceCategory,
		WorkDescription: row.WorkDescription,
		CreatedAt:       row.CreatedAt,
	}

	if !a.resolveMember(ctx, row, &order) {
		a.resolveUser(ctx, row, &order)
	}
	order.Address = a.resolveAddress(ctx, row)
	return order
}

func (a *Aggregator) resolveMember(ctx context.Context, row types.PlacedOrderRow, order *types.PlacedOrder) bool {
	if row.MemberID == nil || *row.MemberID == "" {
		return false
	}
	member, err := a.store.GetMember(ctx, *row.MemberID)
	if err != nil {
		a.logLookup(err, "member", *row.MemberID, row.OrderID)
		return false
	}
	if member.Name != "" {
		order.CustomerName = member.Name
	}
	phone, err := a.store.GetAllowedNumber(ctx, *row.MemberID)
	if err != nil {
		a.logLookup(err, "allowed_number", *row.MemberID, row.OrderID)
	} else if phone != "" {
		order.CustomerPhone = phone
	}
	return true
}

func (a *Aggregator) resolveUser(ctx context.Context, row types.PlacedOrderRow, order *types.PlacedOrder) {
	if row.UserID == nil || *row.UserID == "" {
		return
	}
	user, err := a.store.GetUser(ctx, *row.UserID)
	if err != nil {
		a.logLookup(err, "user", *row.UserID, row.OrderID)
		return
	}
	if user.FullName != "" {
		order.CustomerName = user.FullName
	}
	if user.Phone != "" {
		order.CustomerPhone = user.Phone
	}
}

func (a *Aggregator) resolveAddress(ctx context.Context, row types.PlacedOrderRow) string {
	if row.AddressID == nil || *row.AddressID == "" {
		return NoAddressProvided
	}
	addr, err := a.store.GetAddress(ctx, *row.AddressID)
	if err != nil {
		a.logLookup(err, "address", *row.AddressID, row.OrderID)
		return AddressNotFound
	}
	return addr.Line
}

func (a *Aggregator) logLookup(err error, kind, id, orderID string) {
	if errors.Is(err, storage.ErrNotFound) {
		a.logger.Debug().Str("lookup", kind).Str("id", id).Str("order_id", orderID).Msg("lookup miss")
		return
	}
	a.logger.Warn().Err(err).Str("lookup", kind).Str("id", id).Str("order_id", orderID).Msg("lookup failed")
}

// toScheduled parses a dispatch record into a scheduled queue entry. Records
// without a parseable time are skipped.
func (a *Aggregator) toScheduled(rec types.DispatchRecord) (types.ScheduledOrder, bool) {
	if rec.ScheduledTime == nil || *rec.ScheduledTime == "" {
		a.logger.Warn().Str("order_id", rec.OrderID).Msg("scheduled order without scheduled time")
		return types.ScheduledOrder{}, false
	}
	due, err := ParseScheduledTime(*rec.ScheduledTime, a.loc)
	if err != nil {
		a.logger.Warn().Err(err).Str("order_id", rec.OrderID).Msg("unparseable scheduled time")
		return types.ScheduledOrder{}, false
	}
	return types.ScheduledOrder{
		OrderID:       rec.OrderID,
		CustomerName:  rec.CustomerName,
		CustomerPhone: rec.PhoneNumber,
		Address:       rec.RequestAddress,
		ScheduledTime: *rec.ScheduledTime,
		DueAt:         due,
		Category:      rec.Category,
	}, true
}

// Build assembles the ordered, de-duplicated queue: calls, then placed orders,
// then scheduled orders inside the lead window.
func Build(adminID int64, calls []types.IncomingCall, placed []types.PlacedOrder, scheduled []types.ScheduledOrder, now time.Time, lead time.Duration) types.WorkQueue {
	q := types.WorkQueue{
		Type:      "work_queue",
		AdminID:   adminID,
		Timestamp: now,
		Items:     make([]types.WorkQueueItem, 0, len(calls)+len(placed)+len(scheduled)),
	}
	seen := make(map[types.ItemKey]bool)
	add := func(item types.WorkQueueItem) bool {
		key := item.Key()
		if seen[key] {
			return false
		}
		seen[key] = true
		q.Items = append(q.Items, item)
		return true
	}

	for i := range calls {
		c := calls[i]
		if add(types.WorkQueueItem{Kind: types.KindIncomingCall, Call: &c}) {
			q.Counts.Calls++
		}
	}
	for i := range placed {
		p := placed[i]
		if add(types.WorkQueueItem{Kind: types.KindPlacedOrder, Placed: &p}) {
			q.Counts.Placed++
		}
	}
	for i := range scheduled {
		s := scheduled[i]
		if !Visible(s.DueAt, now, lead) {
			continue
		}
		if add(types.WorkQueueItem{Kind: types.KindScheduledOrder, Scheduled: &s}) {
			q.Counts.Scheduled++
		}
	}

	q.Count = len(q.Items)
	return q
}
