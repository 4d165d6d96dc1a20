package cache

import (
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

const eventCacheCapacity = 200

// ReceivedEvent is a telephony event with its arrival time
type ReceivedEvent struct {
	Event      types.IncomingCallEvent `json:"event"`
	Source     string                  `json:"source"`
	ReceivedAt time.Time               `json:"receivedAt"`
}

// EventCache keeps the most recent telephony events for inspection
type EventCache struct {
	events []ReceivedEvent
	mu     sync.RWMutex
}

// NewEventCache creates a new event cache
func NewEventCache() *EventCache {
	return &EventCache{
		events: make([]ReceivedEvent, 0, eventCacheCapacity),
	}
}

// Add appends an event, dropping the oldest once full
func (c *EventCache) Add(event types.IncomingCallEvent, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) == eventCacheCapacity {
		copy(c.events, c.events[1:])
		c.events = c.events[:eventCacheCapacity-1]
	}
	c.events = append(c.events, ReceivedEvent{Event: event, Source: source, ReceivedAt: time.Now()})
}

// Recent returns up to n events, newest first
func (c *EventCache) Recent(n int) []ReceivedEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > len(c.events) {
		n = len(c.events)
	}
	out := make([]ReceivedEvent, 0, n)
	for i := len(c.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, c.events[i])
	}
	return out
}

// Clear drops all cached events
func (c *EventCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.events)
	c.events = make([]ReceivedEvent, 0, eventCacheCapacity)
	return n
}

// Size returns the current number of cached events
func (c *EventCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}
