// Package timefmt parses the ISO-8601 style timestamps found in ERCOT archive metadata and CSV payloads.
package timefmt

import (
	"strings"
	"time"
)

var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseISO parses an ISO-8601 timestamp. A trailing "Z" is read as UTC.
// Values without an offset come back in UTC with their wall clock untouched.
func ParseISO(value string) (time.Time, bool) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(candidate, "Z") || strings.HasSuffix(candidate, "z") {
		candidate = candidate[:len(candidate)-1] + "+00:00"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseISOUTC is ParseISO with offset-bearing values converted to UTC.
func ParseISOUTC(value string) (time.Time, bool) {
	t, ok := ParseISO(value)
	if !ok {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// DayStart renders a date as the inclusive lower bound accepted by the archive endpoint.
func DayStart(day time.Time) string {
	return day.Format("2006-01-02") + "T00:00:00"
}

// DayEnd renders a date as the inclusive upper bound accepted by the archive endpoint.
func DayEnd(day time.Time) string {
	return day.Format("2006-01-02") + "T23:59:59"
}

// ParseDate parses a YYYY-MM-DD calendar date at UTC midnight.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(time.DateOnly, strings.TrimSpace(value))
}

// MonthStart truncates t to the first day of its month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
