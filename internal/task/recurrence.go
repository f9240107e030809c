package task

import (
	"fmt"
	"time"
)

// NextOccurrence computes the next run of a recurring task after now.
// timeOfDay is "HH:MM" in the location of now. The result is always
// strictly in the future relative to now.
func NextOccurrence(cfg *RecurringConfig, now time.Time) (time.Time, error) {
	var hours, minutes int
	if _, err := fmt.Sscanf(cfg.TimeOfDay, "%d:%d", &hours, &minutes); err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", cfg.TimeOfDay, err)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day %q", cfg.TimeOfDay)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hours, minutes, 0, 0, now.Location())

	switch cfg.Frequency {
	case FreqDaily:
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
	case FreqWeekly:
		next = next.AddDate(0, 0, daysUntil(next.Weekday(), cfg.DayOfWeek))
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
	case FreqBiweekly:
		next = next.AddDate(0, 0, daysUntil(next.Weekday(), cfg.DayOfWeek))
		if !next.After(now) {
			next = next.AddDate(0, 0, 14)
		}
	case FreqMonthly:
		next = next.AddDate(0, 1, 0)
		if !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", cfg.Frequency)
	}

	return next, nil
}

func daysUntil(from time.Weekday, to int) int {
	return (7 + to - int(from)) % 7
}
