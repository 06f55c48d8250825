package sortengine

import (
	"strings"
	"time"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/timefmt"
)

var (
	dateLayouts     = []string{"2006-1-2", "1/2/2006", "1/2/06"}
	datetimeLayouts = []string{
		"2006-1-2 15:04:05",
		"2006-1-2 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"2006-1-2T15:04:05",
		"2006-1-2T15:04",
	}

	timestampColumns = []string{
		"scedtimestamp", "scedtimestamputc", "deliveryinterval", "intervalending",
		"intervalend", "intervaltime", "datetime", "timestamp", "postingtime",
		"postdatetime", "hourendingdatetime", "deliverydatetime",
	}
	timestampPairs = [][2]string{
		{"deliverydate", "hourending"},
		{"delivery_date", "hour_ending"},
		{"operday", "hourending"},
		{"deliverydate", "deliveryhour"},
	}

	targetColumns = []string{
		"deliveryinterval", "intervalending", "intervalend", "intervaltime",
		"hourendingdatetime", "deliverydatetime", "scedtimestamp", "scedtimestamputc",
		"datetime", "timestamp",
	}
	targetPairs = [][2]string{
		{"deliverydate", "hourending"},
		{"delivery_date", "hour_ending"},
		{"deliverydate", "deliveryhour"},
		{"operday", "hourending"},
		{"operatingday", "hourending"},
		{"marketday", "hourending"},
		{"date", "hourending"},
	}

	issueColumns = []string{
		"postingtime", "postdatetime", "publishdatetime", "issuetime", "issue_datetime",
		"forecastissuedatetime", "createdatetime", "createdat",
	}
	issueDateColumns = []string{"postingdate", "publishdate", "issuedate", "issue_date"}

	targetHints = []string{
		"deliveryinterval", "intervalending", "intervalend", "intervaltime",
		"hourendingdatetime", "deliverydatetime", "deliverydate", "delivery_date",
		"operday", "operatingday", "marketday", "hourending", "hour_ending", "deliveryhour",
	}
	issueHints = append(append([]string{}, issueColumns...), issueDateColumns...)
)

// columns resolves lower-cased header names to positions; later duplicates win.
type columns map[string]int

func newColumns(header []string) columns {
	c := make(columns, len(header))
	for i, name := range header {
		c[strings.ToLower(name)] = i
	}
	return c
}

func (c columns) has(name string) bool {
	_, ok := c[name]
	return ok
}

func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// ParseDatetime reads a combined date-time cell. Values without ":" never match.
// Offset-bearing ISO values are converted to UTC; all results carry UTC wall clocks.
func ParseDatetime(value string) (time.Time, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" || !strings.Contains(raw, ":") {
		return time.Time{}, false
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return timefmt.ParseISOUTC(strings.ReplaceAll(raw, "Z", "+00:00"))
}

// ParseDate reads a date-only cell.
func ParseDate(value string) (time.Time, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return timefmt.ParseISOUTC(raw)
}

// ParseHourEnding reads an hour-ending cell such as "14", "HE14" or "24:00".
// Hour 24 maps to 23:59 of the same day.
func ParseHourEnding(value string) (hour, minute int, ok bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, 0, false
	}
	if before, _, found := strings.Cut(raw, ":"); found {
		raw = before
	}
	digits := 0
	seen := false
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits = digits*10 + int(r-'0')
			seen = true
			if digits > 24 {
				return 0, 0, false
			}
		}
	}
	if !seen {
		return 0, 0, false
	}
	if digits == 24 {
		return 23, 59, true
	}
	return digits, 0, true
}

func firstDatetime(cols columns, row []string, names []string) (time.Time, bool) {
	for _, name := range names {
		if t, ok := ParseDatetime(cols.get(row, name)); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstPair(cols columns, row []string, pairs [][2]string) (time.Time, bool) {
	for _, pair := range pairs {
		day, ok := ParseDate(cols.get(row, pair[0]))
		if !ok {
			continue
		}
		hour, minute, ok := ParseHourEnding(cols.get(row, pair[1]))
		if !ok {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func rowTimestamp(cols columns, row []string) (time.Time, bool) {
	if t, ok := firstDatetime(cols, row, timestampColumns); ok {
		return t, true
	}
	if t, ok := ParseDatetime(cols.get(row, "hour_ending")); ok {
		return t, true
	}
	return firstPair(cols, row, timestampPairs)
}

func rowTarget(cols columns, row []string) (time.Time, bool) {
	if t, ok := firstDatetime(cols, row, targetColumns); ok {
		return t, true
	}
	return firstPair(cols, row, targetPairs)
}

func rowIssue(cols columns, row []string) (time.Time, bool) {
	if t, ok := firstDatetime(cols, row, issueColumns); ok {
		return t, true
	}
	for _, name := range issueDateColumns {
		if t, ok := ParseDate(cols.get(row, name)); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// key is compared element-wise; every key produced for one file has the same length.
type key []time.Time

func (k key) compare(o key) int {
	for i := range k {
		if c := k[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	return 0
}

func rowKey(cols columns, row []string, strategy Strategy) (key, bool) {
	switch strategy {
	case StrategyPostDatetime:
		if t, ok := rowIssue(cols, row); ok {
			return key{t}, true
		}
		if t, ok := rowTimestamp(cols, row); ok {
			return key{t}, true
		}
		return nil, false
	case StrategyForecastAware:
		target, hasTarget := rowTarget(cols, row)
		issue, hasIssue := rowIssue(cols, row)
		switch {
		case !hasTarget && !hasIssue:
			t, ok := rowTimestamp(cols, row)
			if !ok {
				return nil, false
			}
			return key{t, t}, true
		case !hasTarget:
			target = issue
		case !hasIssue:
			issue = target
		}
		return key{target, issue}, true
	default:
		if t, ok := rowTimestamp(cols, row); ok {
			return key{t}, true
		}
		return nil, false
	}
}

func resolveStrategy(strategy Strategy, cols columns) Strategy {
	if strategy != StrategyAuto {
		return strategy
	}
	if anyColumn(cols, targetHints) && anyColumn(cols, issueHints) {
		return StrategyForecastAware
	}
	return StrategyTimestamp
}

func anyColumn(cols columns, names []string) bool {
	for _, n := range names {
		if cols.has(n) {
			return true
		}
	}
	return false
}
