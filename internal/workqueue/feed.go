package workqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

type kickKind int

const (
	kickPush kickKind = iota + 1
	kickRefresh
)

// feed is the live queue of one admin id. Every fetch replaces its slice
// wholesale, so the last write wins.
type feed struct {
	agg     *Aggregator
	adminID int64
	refs    int
	cancel  context.CancelFunc

	// wake coalesces kicks; refresh survives coalescing so it is never lost
	wake    chan struct{}
	refresh atomic.Bool

	mu        sync.Mutex
	placed    []types.PlacedOrder
	scheduled []types.ScheduledOrder
}

func newFeed(agg *Aggregator, adminID int64, cancel context.CancelFunc) *feed {
	return &feed{
		agg:     agg,
		adminID: adminID,
		refs:    1,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
	}
}

func (f *feed) kick(k kickKind) {
	if k == kickRefresh {
		f.refresh.Store(true)
	}
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) slices() ([]types.PlacedOrder, []types.ScheduledOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.PlacedOrder(nil), f.placed...), append([]types.ScheduledOrder(nil), f.scheduled...)
}

func (f *feed) refreshPlaced(ctx context.Context) {
	placed := f.agg.fetchPlaced(ctx, f.adminID)
	f.mu.Lock()
	f.placed = placed
	f.mu.Unlock()
}

func (f *feed) refreshScheduled(ctx context.Context) {
	scheduled := f.agg.fetchScheduled(ctx, f.adminID)
	f.mu.Lock()
	f.scheduled = scheduled
	f.mu.Unlock()
}

func (f *feed) push() {
	placed, scheduled := f.slices()
	f.agg.push(f.adminID, f.agg.build(f.adminID, placed, scheduled))
}

func (f *feed) subscribe(ctx context.Context, table types.Table) <-chan types.ChangeEvent {
	ch, err := f.agg.store.Subscribe(ctx, table, f.adminID)
	if err != nil {
		f.agg.logger.Error().Err(err).
			Str("table", string(table)).
			Int64("admin_id", f.adminID).
			Msg("change subscription failed, relying on interval refresh")
		return nil
	}
	return ch
}

func (f *feed) run(ctx context.Context) {
	logger := f.agg.logger.With().Int64("admin_id", f.adminID).Logger()

	placedCh := f.subscribe(ctx, types.TablePlacedOrders)
	dispatchCh := f.subscribe(ctx, types.TableDispatch)

	f.refreshPlaced(ctx)
	f.refreshScheduled(ctx)
	f.push()

	ticker := time.NewTicker(f.agg.recheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("feed loop exiting")
			return

		case _, ok := <-placedCh:
			if !ok {
				placedCh = nil
				continue
			}
			f.refreshPlaced(ctx)
			f.push()

		case _, ok := <-dispatchCh:
			if !ok {
				dispatchCh = nil
				continue
			}
			f.refreshScheduled(ctx)
			f.push()

		case <-ticker.C:
			f.refreshScheduled(ctx)
			if placedCh == nil {
				f.refreshPlaced(ctx)
			}
			f.push()

		case <-f.wake:
			if f.refresh.Swap(false) {
				f.refreshPlaced(ctx)
				f.refreshScheduled(ctx)
			}
			f.push()
		}
	}
}
