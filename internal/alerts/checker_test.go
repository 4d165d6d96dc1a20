package alerts

import (
	"testing"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

func TestCheckQueueAlerts(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		item     types.WorkQueueItem
		wantRule string
		wantSev  types.AlertSeverity
	}{
		{
			name: "scheduled order not yet due",
			item: types.WorkQueueItem{Kind: types.KindScheduledOrder, Scheduled: &types.ScheduledOrder{DueAt: now.Add(30 * time.Minute)}},
		},
		{
			name:     "scheduled order overdue",
			item:     types.WorkQueueItem{Kind: types.KindScheduledOrder, Scheduled: &types.ScheduledOrder{DueAt: now.Add(-10 * time.Minute)}},
			wantRule: "overdue",
			wantSev:  types.SeverityWarning,
		},
		{
			name:     "scheduled order long overdue",
			item:     types.WorkQueueItem{Kind: types.KindScheduledOrder, Scheduled: &types.ScheduledOrder{DueAt: now.Add(-45 * time.Minute)}},
			wantRule: "overdue",
			wantSev:  types.SeverityCritical,
		},
		{
			name: "fresh placed order",
			item: types.WorkQueueItem{Kind: types.KindPlacedOrder, Placed: &types.PlacedOrder{CreatedAt: now.Add(-5 * time.Minute)}},
		},
		{
			name:     "aging placed order",
			item:     types.WorkQueueItem{Kind: types.KindPlacedOrder, Placed: &types.PlacedOrder{CreatedAt: now.Add(-20 * time.Minute)}},
			wantRule: "aging",
			wantSev:  types.SeverityWarning,
		},
		{
			name:     "call ringing long",
			item:     types.WorkQueueItem{Kind: types.KindIncomingCall, Call: &types.IncomingCall{ReceivedAt: now.Add(-45 * time.Second)}},
			wantRule: "ringing_long",
			wantSev:  types.SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := []types.WorkQueueItem{tt.item}
			CheckQueueAlerts(items, now)

			if tt.wantRule == "" {
				if len(items[0].Alerts) != 0 {
					t.Errorf("expected no alerts, got %+v", items[0].Alerts)
				}
				return
			}
			if len(items[0].Alerts) != 1 {
				t.Fatalf("expected 1 alert, got %d", len(items[0].Alerts))
			}
			if items[0].Alerts[0].Rule != tt.wantRule || items[0].Alerts[0].Severity != tt.wantSev {
				t.Errorf("got %+v, want %s/%s", items[0].Alerts[0], tt.wantRule, tt.wantSev)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Second, "1m30s"},
		{75 * time.Minute, "1h15m"},
		{0, "0m0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
