// Package dateparse turns the date shorthands accepted on the command line
// into ISO 8601 (YYYY-MM-DD) session dates.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const layout = "2006-01-02"

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseDate resolves input against the current local date.
//
// Supported formats:
//   - Exact dates: "2026-03-01"
//   - Keywords: "today", "yesterday"
//   - Offsets into the past: "-3d", "-2w", "-1m"
//   - Day names: "saturday" (most recent, today excluded)
func ParseDate(input string) (string, error) {
	return ParseDateFrom(input, time.Now())
}

// ParseDateFrom is ParseDate with a fixed reference time.
func ParseDateFrom(input string, now time.Time) (string, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return "", fmt.Errorf("empty date input")
	}

	if t, err := time.Parse(layout, input); err == nil {
		return t.Format(layout), nil
	}

	switch input {
	case "today":
		return now.Format(layout), nil
	case "yesterday":
		return now.AddDate(0, 0, -1).Format(layout), nil
	}

	if rest, ok := strings.CutPrefix(input, "-"); ok && len(rest) >= 2 {
		unit := rest[len(rest)-1]
		n, err := strconv.Atoi(rest[:len(rest)-1])
		if err != nil || n < 0 {
			return "", fmt.Errorf("bad offset %q", input)
		}
		switch unit {
		case 'd':
			return now.AddDate(0, 0, -n).Format(layout), nil
		case 'w':
			return now.AddDate(0, 0, -7*n).Format(layout), nil
		case 'm':
			return now.AddDate(0, -n, 0).Format(layout), nil
		default:
			return "", fmt.Errorf("unknown offset unit %q in %q (use d, w, or m)", string(unit), input)
		}
	}

	if target, ok := weekdays[strings.TrimPrefix(input, "last-")]; ok {
		back := (int(now.Weekday()) - int(target) + 7) % 7
		if back == 0 {
			back = 7
		}
		return now.AddDate(0, 0, -back).Format(layout), nil
	}

	return "", fmt.Errorf("unrecognized date format: %q", input)
}
