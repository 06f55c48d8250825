package archive

import (
	"context"
	"time"
)

// Granularity tells how precisely an earliest-availability result was located.
type Granularity string

// Granularity values.
const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// Earliest is the outcome of an earliest-availability search.
type Earliest struct {
	Found bool
	Date  time.Time
	// Granularity is "day" for an exact hit. "month" and "year" mean a coarse probe
	// found documents but no finer one did, and Date is the start of that span.
	Granularity Granularity
}

// Exact reports whether a day-level probe confirmed Date.
func (e Earliest) Exact() bool {
	return e.Found && e.Granularity == GranularityDay
}

// FindEarliest locates the first day in [from, to] with archive items by probing
// years, then months of the first hit year, then days of the first hit month.
func (l *Lister) FindEarliest(ctx context.Context, dataset, archiveURL string, from, to time.Time) (Earliest, error) {
	from, to = dateOnly(from), dateOnly(to)
	if from.After(to) {
		return Earliest{}, nil
	}
	probe := func(a, b time.Time) (bool, error) {
		return l.HasItems(ctx, dataset, archiveURL, a, b)
	}

	for year := from.Year(); year <= to.Year(); year++ {
		yearStart := maxDate(from, time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
		yearEnd := minDate(to, time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC))
		if yearStart.After(yearEnd) {
			continue
		}
		hit, err := probe(yearStart, yearEnd)
		if err != nil {
			return Earliest{}, err
		}
		if !hit {
			continue
		}

		for month := yearStart.Month(); month <= yearEnd.Month(); month++ {
			first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
			monthStart := maxDate(yearStart, first)
			monthEnd := minDate(yearEnd, first.AddDate(0, 1, -1))
			if monthStart.After(monthEnd) {
				continue
			}
			hit, err := probe(monthStart, monthEnd)
			if err != nil {
				return Earliest{}, err
			}
			if !hit {
				continue
			}
			for day := monthStart; !day.After(monthEnd); day = day.AddDate(0, 0, 1) {
				hit, err := probe(day, day)
				if err != nil {
					return Earliest{}, err
				}
				if hit {
					return Earliest{Found: true, Date: day, Granularity: GranularityDay}, nil
				}
			}
			return Earliest{Found: true, Date: monthStart, Granularity: GranularityMonth}, nil
		}
		return Earliest{Found: true, Date: yearStart, Granularity: GranularityYear}, nil
	}
	return Earliest{}, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func maxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
