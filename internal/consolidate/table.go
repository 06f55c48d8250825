package consolidate

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/local"
)

// PostingColumn is the authoritative posting-time column written first in every period file.
const PostingColumn = "postDateTime"

// postingAliases are matched case-insensitively, in order.
var postingAliases = []string{PostingColumn, "postDatetime", "PostingTime", "post_datetime"}

// Table is a header plus rows. Rows may be shorter or longer than the header;
// Value pads missing cells with "".
type Table struct {
	Header []string
	Rows   [][]string
}

// Index returns the position of the first header equal to name, or -1.
func (t Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Value returns row[col], or "" when the row is too short or col is negative.
func Value(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// Project maps every row onto header, reading cells by column name from t.
// Names missing from t become "". Duplicate source names resolve to the last one.
func (t Table) Project(header []string) [][]string {
	pos := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		pos[h] = i
	}
	out := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		projected := make([]string, len(header))
		for c, name := range header {
			if i, ok := pos[name]; ok {
				projected[c] = Value(row, i)
			}
		}
		out[r] = projected
	}
	return out
}

// DetectPostingColumn returns the index of the first header matching a posting-time
// alias, or -1.
func DetectPostingColumn(header []string) int {
	normalized := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		normalized[key] = i
	}
	for _, alias := range postingAliases {
		if i, ok := normalized[strings.ToLower(alias)]; ok {
			return i
		}
	}
	return -1
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// ParseCSV reads CSV text into a Table. Empty input yields an empty Table.
func ParseCSV(text string) (Table, error) {
	records, err := newReader(strings.NewReader(text)).ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return Table{}, nil
	}
	return Table{Header: records[0], Rows: records[1:]}, nil
}

// ReadTable loads a CSV file.
func ReadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseCSV(string(data))
}

// ReadHeader returns the first record of a CSV file, or nil when the file is
// missing or empty.
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	header, err := newReader(f).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	return header, nil
}

// Encode renders a table with "\n" line endings.
func Encode(t Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTable replaces path with t atomically.
func WriteTable(path string, t Table) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	if err := local.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("rewrite %s: %w", path, err)
	}
	return nil
}

// SplitLines splits text on any line ending, dropping the terminator of the last line.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
