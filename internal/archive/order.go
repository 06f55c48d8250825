package archive

import (
	"fmt"
	"sort"
	"time"
)

// Download orders.
const (
	OrderAPI         = "api"
	OrderNewestFirst = "newest-first"
	OrderOldestFirst = "oldest-first"
)

// ValidOrder reports whether s names a supported download order.
func ValidOrder(s string) bool {
	switch s {
	case OrderAPI, OrderNewestFirst, OrderOldestFirst:
		return true
	}
	return false
}

type decorated struct {
	at    time.Time
	dated bool
	id    string
	item  Item
}

// OrderItems sorts items by postDatetime (UTC-normalised) with undated items last
// and doc id as tie-break. "api" keeps listing order. The input is not modified.
func OrderItems(items []Item, order string) ([]Item, error) {
	switch order {
	case OrderAPI:
		return items, nil
	case OrderNewestFirst, OrderOldestFirst:
	default:
		return nil, fmt.Errorf("unknown download order %q", order)
	}

	rows := make([]decorated, len(items))
	for i, it := range items {
		at, ok := it.PostDatetime()
		if ok {
			at = at.UTC()
		}
		rows[i] = decorated{at: at, dated: ok, id: it.DocID(), item: it}
	}

	if order == OrderNewestFirst {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := rows[i], rows[j]
			if a.dated != b.dated {
				return a.dated
			}
			if !a.at.Equal(b.at) {
				return a.at.After(b.at)
			}
			return a.id > b.id
		})
	} else {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := rows[i], rows[j]
			if a.dated != b.dated {
				return a.dated
			}
			if !a.at.Equal(b.at) {
				return a.at.Before(b.at)
			}
			return a.id < b.id
		})
	}

	out := make([]Item, len(rows))
	for i, r := range rows {
		out[i] = r.item
	}
	return out, nil
}

// Cap truncates items to maxDocs when maxDocs > 0.
func Cap(items []Item, maxDocs int) []Item {
	if maxDocs > 0 && len(items) > maxDocs {
		return items[:maxDocs]
	}
	return items
}
