package storage

import (
	"context"
	"sync"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

// subscriberBuffer is the per-subscriber backlog. Every notification triggers a
// full re-fetch on the consumer side, so a pending event already covers later ones.
const subscriberBuffer = 1

type subscription struct {
	table   types.Table
	adminID int64
	ch      chan types.ChangeEvent
}

// changeFeed fans change events out to subscribers filtered by table and admin id
type changeFeed struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

func newChangeFeed() *changeFeed {
	return &changeFeed{subs: make(map[int]*subscription)}
}

// subscribe registers a subscriber; the channel is closed once ctx is done
func (f *changeFeed) subscribe(ctx context.Context, table types.Table, adminID int64) <-chan types.ChangeEvent {
	sub := &subscription{
		table:   table,
		adminID: adminID,
		ch:      make(chan types.ChangeEvent, subscriberBuffer),
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = sub
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(sub.ch)
		f.mu.Unlock()
	}()

	return sub.ch
}

// publish delivers an event to matching subscribers without blocking
func (f *changeFeed) publish(event types.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		if sub.table != event.Table || sub.adminID != event.AdminID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// a refresh is already pending for this subscriber
		}
	}
}

// resync notifies every subscriber, used after a lost listener connection
func (f *changeFeed) resync() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		select {
		case sub.ch <- types.ChangeEvent{Table: sub.table, AdminID: sub.adminID}:
		default:
		}
	}
}

// count returns the number of live subscribers
func (f *changeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
