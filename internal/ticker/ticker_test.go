package ticker

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

type fakeHub struct {
	mu       sync.Mutex
	messages [][]byte
	clients  int
}

func (f *fakeHub) Broadcast(message []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeHub) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients
}

func (f *fakeHub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestNewTicker(t *testing.T) {
	hub := &fakeHub{}
	interval := 100 * time.Millisecond

	ticker := NewTicker(hub, interval, zerolog.New(&bytes.Buffer{}))

	if ticker == nil {
		t.Fatal("expected ticker to be created")
	}
	if ticker.interval != interval {
		t.Errorf("expected interval %v, got %v", interval, ticker.interval)
	}
}

func TestTickerBroadcastsClockMessages(t *testing.T) {
	hub := &fakeHub{clients: 1}
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ticker := NewTicker(hub, 10*time.Millisecond, zerolog.Nop())
	ticker.now = func() time.Time { return fixed }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ticker.Start(ctx)

	if hub.count() == 0 {
		t.Fatal("expected at least one clock broadcast")
	}

	var msg types.ClockMessage
	if err := json.Unmarshal(hub.messages[0], &msg); err != nil {
		t.Fatalf("failed to unmarshal clock message: %v", err)
	}
	if msg.Type != "clock" {
		t.Errorf("expected type clock, got %s", msg.Type)
	}
	if msg.Timestamp != "2026-03-14T09:26:53Z" {
		t.Errorf("unexpected timestamp %s", msg.Timestamp)
	}
	if msg.ServerTime != fixed.UnixMilli() {
		t.Errorf("expected server time %d, got %d", fixed.UnixMilli(), msg.ServerTime)
	}
}

func TestTickerSkipsWithoutClients(t *testing.T) {
	hub := &fakeHub{}
	ticker := NewTicker(hub, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	ticker.Start(ctx)

	if hub.count() != 0 {
		t.Errorf("expected no broadcasts without clients, got %d", hub.count())
	}
}

func TestTickerStopsOnContextCancel(t *testing.T) {
	ticker := NewTicker(&fakeHub{clients: 1}, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		ticker.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("ticker did not stop after context cancel")
	}
}
