package workqueue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/alerts"
	"github.com/dennisdiepolder/dispatchdesk/internal/callqueue"
	"github.com/dennisdiepolder/dispatchdesk/internal/metrics"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

// Store is the slice of the record store the aggregator reads
type Store interface {
	ListPlacedOrders(ctx context.Context, adminID int64, status types.OrderStatus) ([]types.PlacedOrderRow, error)
	ListDispatchRecords(ctx context.Context, adminID int64, status types.OrderStatus) ([]types.DispatchRecord, error)
	Subscribe(ctx context.Context, table types.Table, adminID int64) (<-chan types.ChangeEvent, error)
	GetMember(ctx context.Context, memberID string) (*types.Member, error)
	GetAllowedNumber(ctx context.Context, memberID string) (string, error)
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetAddress(ctx context.Context, addressID string) (*types.Address, error)
}

// CallSource lists the ringing incoming calls
type CallSource interface {
	Snapshot() []types.IncomingCall
}

// Pusher delivers messages to console sockets
type Pusher interface {
	Broadcast(message []byte)
	SendToAdmin(adminID int64, message []byte) int
}

// Aggregator keeps one live work queue feed per watched admin id
type Aggregator struct {
	store   Store
	calls   CallSource
	pusher  Pusher
	lead    time.Duration
	recheck time.Duration
	loc     *time.Location
	now     func() time.Time

	feeds map[int64]*feed
	mu    sync.Mutex

	logger zerolog.Logger
}

// NewAggregator creates a new work queue aggregator
func NewAggregator(store Store, calls CallSource, pusher Pusher, lead, recheck time.Duration, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:   store,
		calls:   calls,
		pusher:  pusher,
		lead:    lead,
		recheck: recheck,
		loc:     time.Local,
		now:     time.Now,
		feeds:   make(map[int64]*feed),
		logger:  logger.With().Str("component", "workqueue").Logger(),
	}
}

// Watch starts the feed for adminID, or adds a reference to a running one.
// The feed lives until the matching number of Unwatch calls or until ctx ends.
func (a *Aggregator) Watch(ctx context.Context, adminID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f, ok := a.feeds[adminID]; ok {
		f.refs++
		f.kick(kickPush)
		return
	}

	feedCtx, cancel := context.WithCancel(ctx)
	f := newFeed(a, adminID, cancel)
	a.feeds[adminID] = f
	metrics.Get().SetQueueFeeds(len(a.feeds))
	go f.run(feedCtx)

	a.logger.Info().Int64("admin_id", adminID).Msg("work queue feed started")
}

// Unwatch drops one reference; the last one tears the feed down
func (a *Aggregator) Unwatch(adminID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.feeds[adminID]
	if !ok {
		return
	}
	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	delete(a.feeds, adminID)
	metrics.Get().SetQueueFeeds(len(a.feeds))

	a.logger.Info().Int64("admin_id", adminID).Msg("work queue feed stopped")
}

// Refresh re-fetches both tables of a watched feed and pushes the result
func (a *Aggregator) Refresh(adminID int64) {
	a.mu.Lock()
	f, ok := a.feeds[adminID]
	a.mu.Unlock()
	if ok {
		f.kick(kickRefresh)
	}
}

// Feeds returns the number of running feeds
func (a *Aggregator) Feeds() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.feeds)
}

// Queue returns the current work queue of adminID. Unwatched admins are
// fetched on demand.
func (a *Aggregator) Queue(ctx context.Context, adminID int64) types.WorkQueue {
	a.mu.Lock()
	f, ok := a.feeds[adminID]
	a.mu.Unlock()

	var placed []types.PlacedOrder
	var scheduled []types.ScheduledOrder
	if ok {
		placed, scheduled = f.slices()
	} else {
		placed = a.fetchPlaced(ctx, adminID)
		scheduled = a.fetchScheduled(ctx, adminID)
	}
	return a.build(adminID, placed, scheduled)
}

func (a *Aggregator) build(adminID int64, placed []types.PlacedOrder, scheduled []types.ScheduledOrder) types.WorkQueue {
	now := a.now()
	q := Build(adminID, a.calls.Snapshot(), placed, scheduled, now, a.lead)
	alerts.CheckQueueAlerts(q.Items, now)
	return q
}

// OnCallChange pushes incoming-call and call-removed messages to every console
// and refreshes the queue of every running feed.
func (a *Aggregator) OnCallChange(ev callqueue.ChangeEvent) {
	var msg any
	switch {
	case ev.Added != nil:
		msg = types.IncomingCallMessage{Type: "incoming-call", Call: *ev.Added}
	case ev.Removed != nil:
		msg = types.CallRemovedMessage{Type: "call-removed", CallID: ev.Removed.ID, Reason: ev.Reason}
	}
	if msg != nil {
		if data, err := json.Marshal(msg); err == nil {
			a.pusher.Broadcast(data)
		} else {
			a.logger.Error().Err(err).Msg("failed to marshal call message")
		}
	}

	a.mu.Lock()
	for _, f := range a.feeds {
		f.kick(kickPush)
	}
	a.mu.Unlock()
}

func (a *Aggregator) fetchPlaced(ctx context.Context, adminID int64) []types.PlacedOrder {
	start := time.Now()
	rows, err := a.store.ListPlacedOrders(ctx, adminID, types.OrderPlaced)
	metrics.Get().RecordQueueRefresh(string(types.TablePlacedOrders), time.Since(start), err)
	if err != nil {
		a.logger.Error().Err(err).Int64("admin_id", adminID).Msg("failed to fetch placed orders")
		return nil
	}

	out := make([]types.PlacedOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, a.ResolvePlaced(ctx, row))
	}
	return out
}

func (a *Aggregator) fetchScheduled(ctx context.Context, adminID int64) []types.ScheduledOrder {
	start := time.Now()
	recs, err := a.store.ListDispatchRecords(ctx, adminID, types.OrderScheduled)
	metrics.Get().RecordQueueRefresh(string(types.TableDispatch), time.Since(start), err)
	if err != nil {
		a.logger.Error().Err(err).Int64("admin_id", adminID).Msg("failed to fetch scheduled orders")
		return nil
	}

	out := make([]types.ScheduledOrder, 0, len(recs))
	for _, rec := range recs {
		if s, ok := a.toScheduled(rec); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a *Aggregator) push(adminID int64, q types.WorkQueue) {
	data, err := json.Marshal(q)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal work queue")
		return
	}
	n := a.pusher.SendToAdmin(adminID, data)
	metrics.Get().RecordQueueBroadcast()

	a.logger.Debug().
		Int64("admin_id", adminID).
		Int("items", q.Count).
		Int("clients", n).
		Msg("work queue pushed")
}
