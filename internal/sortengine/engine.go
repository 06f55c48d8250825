// Package sortengine reorders consolidated period files chronologically, keeping
// a signature cache so unchanged files are not re-read.
package sortengine

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
)

// Order is the direction rows are sorted in.
type Order string

// Sort orders.
const (
	Ascending  Order = "ascending"
	Descending Order = "descending"
)

// Strategy picks how a row's sort key is derived.
type Strategy string

// Strategies.
const (
	StrategyAuto          Strategy = "auto"
	StrategyTimestamp     Strategy = "timestamp"
	StrategyPostDatetime  Strategy = "postdatetime"
	StrategyForecastAware Strategy = "forecast-aware"
)

// Sort option values accepted by ResolveOrder.
const (
	OptionNone               = "none"
	OptionMatchDownloadOrder = "match-download-order"
)

// Result is the outcome of SortPeriodFile.
type Result string

// Results.
const (
	Already Result = "already"
	Sorted  Result = "sorted"
	Skipped Result = "skipped"
)

// ValidStrategy reports whether s names a known strategy.
func ValidStrategy(s string) bool {
	switch Strategy(s) {
	case StrategyAuto, StrategyTimestamp, StrategyPostDatetime, StrategyForecastAware:
		return true
	}
	return false
}

// ResolveOrder maps a sort option to an Order. "none" yields ok=false.
// match-download-order sorts descending only for newest-first downloads.
func ResolveOrder(option, downloadOrder string) (Order, bool, error) {
	switch option {
	case OptionNone:
		return "", false, nil
	case string(Ascending):
		return Ascending, true, nil
	case string(Descending):
		return Descending, true, nil
	case OptionMatchDownloadOrder:
		if downloadOrder == "newest-first" {
			return Descending, true, nil
		}
		return Ascending, true, nil
	}
	return "", false, fmt.Errorf("unknown sort option %q", option)
}

// Clock stamps cache records.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Engine sorts period files.
type Engine struct {
	clock  Clock
	logger *zap.Logger
}

// New constructs an Engine. clock and logger may be nil.
func New(clock Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{clock: clock, logger: logger}
}

type parsedRow struct {
	key key
	row []string
}

// SortPeriodFile sorts path in place. Rows without a derivable key go after all
// keyed rows in their original order. A file whose keyed rows are already in
// order, with no unkeyed row ahead of a keyed one, is left untouched.
func (e *Engine) SortPeriodFile(path string, order Order, strategy Strategy) (Result, error) {
	if order != Ascending && order != Descending {
		return "", fmt.Errorf("unknown sort order %q", order)
	}
	if !ValidStrategy(string(strategy)) {
		return "", fmt.Errorf("unknown sort strategy %q", strategy)
	}
	switch Lookup(path, order, strategy) {
	case ClassSorted:
		return Already, nil
	case ClassSkipped:
		return Skipped, nil
	}

	table, err := consolidate.ReadTable(path)
	if err != nil {
		return "", err
	}
	if len(table.Header) == 0 {
		return Skipped, e.cache(path, order, strategy, ClassSkipped)
	}
	cols := newColumns(table.Header)
	effective := resolveStrategy(strategy, cols)

	var (
		parsed       []parsedRow
		unparsed     [][]string
		sawUnparsed  bool
		alreadyInOrd = true
		prev         key
	)
	for _, row := range table.Rows {
		k, ok := rowKey(cols, row, effective)
		if !ok {
			sawUnparsed = true
			unparsed = append(unparsed, row)
			continue
		}
		if sawUnparsed {
			alreadyInOrd = false
		}
		if prev != nil {
			c := k.compare(prev)
			if (order == Ascending && c < 0) || (order == Descending && c > 0) {
				alreadyInOrd = false
			}
		}
		prev = k
		parsed = append(parsed, parsedRow{key: k, row: row})
	}

	switch {
	case len(table.Rows) == 0:
		return Already, e.cache(path, order, strategy, ClassSorted)
	case len(parsed) == 0:
		return Skipped, e.cache(path, order, strategy, ClassSkipped)
	case alreadyInOrd:
		return Already, e.cache(path, order, strategy, ClassSorted)
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		c := parsed[i].key.compare(parsed[j].key)
		if order == Descending {
			return c > 0
		}
		return c < 0
	})
	rows := make([][]string, 0, len(table.Rows))
	for _, p := range parsed {
		rows = append(rows, fit(p.row, len(table.Header)))
	}
	for _, row := range unparsed {
		rows = append(rows, fit(row, len(table.Header)))
	}
	if err := consolidate.WriteTable(path, consolidate.Table{Header: table.Header, Rows: rows}); err != nil {
		return "", err
	}
	e.logger.Debug("period file sorted",
		zap.String("file", path), zap.String("order", string(order)),
		zap.String("strategy", string(effective)), zap.Int("unparsed", len(unparsed)))
	return Sorted, e.cache(path, order, strategy, ClassSorted)
}

// MarkSorted records path as sorted under the given order and strategy at its current signature.
func (e *Engine) MarkSorted(path string, order Order, strategy Strategy) error {
	return e.cache(path, order, strategy, ClassSorted)
}

func (e *Engine) cache(path string, order Order, strategy Strategy, class string) error {
	if err := WriteCache(path, order, strategy, class, e.clock.Now()); err != nil {
		e.logger.Warn("sort cache not written", zap.String("file", path), zap.Error(err))
	}
	return nil
}

func fit(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
