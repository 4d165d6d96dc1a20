package workqueue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScheduledTimeLayout documents the stored scheduled time format, e.g. "2026-05-01 02:30 PM"
const ScheduledTimeLayout = "2006-01-02 03:04 PM"

// To24Hour converts a 12-hour clock hour and meridiem to a 24-hour hour:
// 12 AM is 0, 12 PM is 12, h AM is h and h PM is h+12.
func To24Hour(hour int, meridiem string) (int, error) {
	if hour < 1 || hour > 12 {
		return 0, fmt.Errorf("hour %d out of range", hour)
	}
	switch strings.ToUpper(meridiem) {
	case "AM":
		if hour == 12 {
			return 0, nil
		}
		return hour, nil
	case "PM":
		if hour == 12 {
			return 12, nil
		}
		return hour + 12, nil
	}
	return 0, fmt.Errorf("invalid meridiem %q", meridiem)
}

// ParseScheduledTime parses "YYYY-MM-DD HH:MM AM|PM" in loc
func ParseScheduledTime(s string, loc *time.Location) (time.Time, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("scheduled time %q: expected date, time and meridiem", s)
	}

	date, err := time.ParseInLocation("2006-01-02", parts[0], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduled time %q: %w", s, err)
	}

	hh, mm, ok := strings.Cut(parts[1], ":")
	if !ok {
		return time.Time{}, fmt.Errorf("scheduled time %q: missing minutes", s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduled time %q: invalid hour: %w", s, err)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || len(mm) != 2 {
		return time.Time{}, fmt.Errorf("scheduled time %q: invalid minute", s)
	}

	hour24, err := To24Hour(hour, parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduled time %q: %w", s, err)
	}

	return time.Date(date.Year(), date.Month(), date.Day(), hour24, minute, 0, 0, loc), nil
}

// Visible reports whether an order due at due is inside the lead window at now
func Visible(due, now time.Time, lead time.Duration) bool {
	return !now.Before(due.Add(-lead))
}
