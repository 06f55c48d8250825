// Package backfill repairs the postDateTime column of consolidated period files by
// tracing each stored row back to the document that produced it.
package backfill

import (
	"strings"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
)

// fingerprintSep never occurs in ERCOT CSV cells.
const fingerprintSep = "\x1f"

// PlanEntry is one merged document taking part in a repair.
type PlanEntry struct {
	DocID string
	// Rows is the number of data rows the source payload holds.
	Rows int
	// PostDatetime is the resolved posting time, "" when unknown.
	PostDatetime string
	// Source is the parsed source payload.
	Source consolidate.Table
}

// FillResult reports what FillByFingerprint did.
type FillResult struct {
	Filled       int
	Fingerprints int
	// Collisions counts fingerprints shared by more than one source row.
	Collisions int
	// AmbiguousRows counts blank cells left empty because their fingerprint collides.
	AmbiguousRows int
}

// sourceColumns maps trimmed source header names to their position, ignoring blank
// names and posting-time aliases. Later duplicates win.
func sourceColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" || consolidate.DetectPostingColumn([]string{name}) == 0 {
			continue
		}
		cols[name] = i
	}
	return cols
}

func fingerprint(values []string) string {
	return strings.Join(values, fingerprintSep)
}

// FillByFingerprint fills blank cells of table's postCol by matching every row on
// the values of keyFields against the rows of each plan entry's source. A
// fingerprint seen on more than one source row is ambiguous and never used; every
// other fingerprint fills at most as many cells as it has source rows. Cells that
// already hold a value are never touched.
func FillByFingerprint(table *consolidate.Table, postCol int, keyFields []string, plan []PlanEntry) FillResult {
	index := make(map[string][]string)
	for _, entry := range plan {
		if len(entry.Source.Header) == 0 {
			continue
		}
		cols := sourceColumns(entry.Source.Header)
		values := make([]string, len(keyFields))
		for _, row := range entry.Source.Rows {
			for i, field := range keyFields {
				pos, ok := cols[strings.TrimSpace(field)]
				if !ok {
					values[i] = ""
					continue
				}
				values[i] = strings.TrimSpace(consolidate.Value(row, pos))
			}
			fp := fingerprint(values)
			index[fp] = append(index[fp], entry.PostDatetime)
		}
	}

	res := FillResult{Fingerprints: len(index)}
	for _, owners := range index {
		if len(owners) > 1 {
			res.Collisions++
		}
	}

	keyPos := make([]int, len(keyFields))
	for i, field := range keyFields {
		keyPos[i] = table.Index(field)
	}
	values := make([]string, len(keyFields))
	for r, row := range table.Rows {
		if strings.TrimSpace(consolidate.Value(row, postCol)) != "" {
			continue
		}
		for i, pos := range keyPos {
			values[i] = strings.TrimSpace(consolidate.Value(row, pos))
		}
		fp := fingerprint(values)
		owners := index[fp]
		switch {
		case len(owners) == 0:
			continue
		case len(owners) > 1:
			res.AmbiguousRows++
			continue
		}
		value := owners[0]
		index[fp] = nil
		if value == "" {
			continue
		}
		table.Rows[r] = setCell(row, postCol, value)
		res.Filled++
	}
	return res
}

// FillSequential assigns posting times by position: the first plan entry's Rows
// rows belong to it, the next entry's follow, and so on. Only valid while the file
// is still in marker order.
func FillSequential(table *consolidate.Table, postCol int, plan []PlanEntry) int {
	filled := 0
	r := 0
	for _, entry := range plan {
		for n := 0; n < entry.Rows && r < len(table.Rows); n++ {
			row := table.Rows[r]
			if strings.TrimSpace(consolidate.Value(row, postCol)) == "" && entry.PostDatetime != "" {
				table.Rows[r] = setCell(row, postCol, entry.PostDatetime)
				filled++
			}
			r++
		}
	}
	return filled
}

func setCell(row []string, col int, value string) []string {
	if col >= len(row) {
		grown := make([]string, col+1)
		copy(grown, row)
		row = grown
	}
	row[col] = value
	return row
}
