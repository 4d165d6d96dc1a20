package alerts

import (
	"fmt"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

const (
	placedAgingAfter     = 15 * time.Minute
	overdueCriticalAfter = 30 * time.Minute
	ringingLongAfter     = 30 * time.Second
)

// CheckQueueAlerts evaluates alert rules for queue items,
// mutating each item's Alerts field in place.
func CheckQueueAlerts(items []types.WorkQueueItem, now time.Time) {
	for i := range items {
		items[i].Alerts = nil

		switch items[i].Kind {
		case types.KindIncomingCall:
			if items[i].Call == nil {
				continue
			}
			dur := now.Sub(items[i].Call.ReceivedAt)
			if dur > ringingLongAfter {
				items[i].Alerts = append(items[i].Alerts, types.QueueAlert{
					Rule:     "ringing_long",
					Severity: types.SeverityWarning,
					Message:  fmt.Sprintf("Ringing for %s", formatDuration(dur)),
				})
			}

		case types.KindPlacedOrder:
			if items[i].Placed == nil {
				continue
			}
			dur := now.Sub(items[i].Placed.CreatedAt)
			if dur > placedAgingAfter {
				items[i].Alerts = append(items[i].Alerts, types.QueueAlert{
					Rule:     "aging",
					Severity: types.SeverityWarning,
					Message:  fmt.Sprintf("Waiting for %s", formatDuration(dur)),
				})
			}

		case types.KindScheduledOrder:
			if items[i].Scheduled == nil {
				continue
			}
			dur := now.Sub(items[i].Scheduled.DueAt)
			if dur <= 0 {
				continue
			}
			severity := types.SeverityWarning
			if dur > overdueCriticalAfter {
				severity = types.SeverityCritical
			}
			items[i].Alerts = append(items[i].Alerts, types.QueueAlert{
				Rule:     "overdue",
				Severity: severity,
				Message:  fmt.Sprintf("Overdue by %s", formatDuration(dur)),
			})
		}
	}
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
