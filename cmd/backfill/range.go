package main

import (
	"fmt"
	"time"
)

// parseRange resolves the backfill window from flags. An explicit start wins
// over days; end defaults to now.
func parseRange(startFlag, endFlag string, days int, now time.Time) (time.Time, time.Time, error) {
	end := now
	if endFlag != "" {
		parsed, err := time.Parse(time.RFC3339, endFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
		}
		end = parsed.UTC()
	}

	var start time.Time
	switch {
	case startFlag != "":
		parsed, err := time.Parse(time.RFC3339, startFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
		}
		start = parsed.UTC()
	case days > 0:
		start = end.AddDate(0, 0, -days)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("-days must be positive when -start is not set")
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}
