package backfill

import (
	"sort"
	"strings"
	"time"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/sortengine"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/timefmt"
)

// OrderNone leaves rows in their current order.
const OrderNone = "none"

var (
	postingFields = []string{"postDateTime", "postDatetime", "PostingTime", "post_datetime"}
	dateFields    = []string{"Date", "DeliveryDate", "OperDay", "OperatingDay", "MarketDay"}
	hourFields    = []string{"HourEnding", "Hour_Ending", "DeliveryHour", "HE"}
)

type rowKey struct {
	post    time.Time
	hasPost bool
	date    time.Time
	hasDate bool
	minute  int
	hasHour bool
}

func firstValue(lookup map[string]int, row []string, names []string) string {
	for _, name := range names {
		pos, ok := lookup[strings.ToLower(name)]
		if !ok {
			continue
		}
		if v := strings.TrimSpace(consolidate.Value(row, pos)); v != "" {
			return v
		}
	}
	return ""
}

func keyFor(lookup map[string]int, row []string) rowKey {
	var k rowKey
	k.post, k.hasPost = timefmt.ParseISOUTC(firstValue(lookup, row, postingFields))
	k.date, k.hasDate = sortengine.ParseDate(firstValue(lookup, row, dateFields))
	if h, m, ok := sortengine.ParseHourEnding(firstValue(lookup, row, hourFields)); ok {
		k.minute, k.hasHour = h*60+m, true
	}
	return k
}

// compareOptional orders present values by dir and puts absent values last.
func compareOptional(aok, bok bool, cmp int, desc bool) int {
	switch {
	case aok && bok:
		if desc {
			return -cmp
		}
		return cmp
	case aok:
		return -1
	case bok:
		return 1
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func (k rowKey) compare(o rowKey, desc bool) int {
	if c := compareOptional(k.hasPost, o.hasPost, compareTime(k.post, o.post), desc); c != 0 {
		return c
	}
	if c := compareOptional(k.hasDate, o.hasDate, compareTime(k.date, o.date), desc); c != 0 {
		return c
	}
	return compareOptional(k.hasHour, o.hasHour, k.minute-o.minute, desc)
}

// SortByPosting orders rows by posting time, then delivery date, then hour ending.
// Rows lacking a component sort after rows that have it; ties keep their order.
// It reports whether the order changed. order is ascending, descending or none.
func SortByPosting(table *consolidate.Table, order string) bool {
	if order == OrderNone || len(table.Rows) < 2 {
		return false
	}
	desc := order == string(sortengine.Descending)
	lookup := make(map[string]int, len(table.Header))
	for i, name := range table.Header {
		if name = strings.TrimSpace(name); name != "" {
			lookup[strings.ToLower(name)] = i
		}
	}
	idx := make([]int, len(table.Rows))
	keys := make([]rowKey, len(table.Rows))
	for i, row := range table.Rows {
		idx[i] = i
		keys[i] = keyFor(lookup, row)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return keys[idx[a]].compare(keys[idx[b]], desc) < 0
	})
	changed := false
	rows := make([][]string, len(idx))
	for pos, i := range idx {
		if pos != i {
			changed = true
		}
		rows[pos] = table.Rows[i]
	}
	table.Rows = rows
	return changed
}
