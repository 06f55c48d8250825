// Package consolidate appends document rows into one CSV per dataset and month,
// keeping a marker of merged document ids so re-processing a document is a no-op.
package consolidate

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/payload"
)

// Store owns period files and their merge markers for one run.
type Store struct {
	mu      sync.Mutex
	markers map[string]map[string]struct{}
	writeMu sync.Mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{markers: make(map[string]map[string]struct{})}
}

func (s *Store) known(periodFile string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ids, ok := s.markers[periodFile]; ok {
		return ids, nil
	}
	list, err := readMarker(MarkerPath(periodFile))
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(list))
	for _, id := range list {
		ids[id] = struct{}{}
	}
	s.markers[periodFile] = ids
	return ids, nil
}

// IsAlreadyMerged reports whether docID is recorded in the period file's marker.
func (s *Store) IsAlreadyMerged(periodFile, docID string) (bool, error) {
	ids, err := s.known(periodFile)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := ids[docID]
	return ok, nil
}

// MarkMerged appends docID to the marker unless already present.
func (s *Store) MarkMerged(periodFile, docID string) error {
	ids, err := s.known(periodFile)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := ids[docID]; ok {
		return nil
	}
	if err := appendMarker(MarkerPath(periodFile), docID); err != nil {
		return err
	}
	ids[docID] = struct{}{}
	return nil
}

// DocIDs returns the marker contents in the order they were merged.
func (s *Store) DocIDs(periodFile string) ([]string, error) {
	return readMarker(MarkerPath(periodFile))
}

// MergeItem appends the rows of a document to periodFile and records docID in the
// marker. Rows are written before the marker so a crash in between re-merges
// rather than loses data. An already merged docID returns 0 without touching the file.
func (s *Store) MergeItem(periodFile, docID string, raw []byte, postDatetime string) (int, error) {
	merged, err := s.IsAlreadyMerged(periodFile, docID)
	if err != nil {
		return 0, err
	}
	if merged {
		return 0, nil
	}
	text, err := payload.CSVText(raw)
	if err != nil {
		return 0, fmt.Errorf("decode payload %s: %w", docID, err)
	}

	s.writeMu.Lock()
	rows, err := appendPayload(periodFile, text, strings.TrimSpace(postDatetime))
	s.writeMu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := s.MarkMerged(periodFile, docID); err != nil {
		return rows, err
	}
	return rows, nil
}

// MergeFile is MergeItem reading the payload from a stored source file.
func (s *Store) MergeFile(periodFile, docID, sourcePath, postDatetime string) (int, error) {
	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return 0, fmt.Errorf("read source: %w", err)
	}
	return s.MergeItem(periodFile, docID, raw, postDatetime)
}

func appendPayload(periodFile, text, postDatetime string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	lines := SplitLines(text)
	if len(lines) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(filepath.Dir(periodFile), 0o750); err != nil {
		return 0, fmt.Errorf("create period directory: %w", err)
	}
	hasExisting := nonEmpty(periodFile)
	existingHasPosting := false
	if hasExisting {
		header, err := ReadHeader(periodFile)
		if err != nil {
			return 0, err
		}
		existingHasPosting = DetectPostingColumn(header) >= 0
	}

	if postDatetime != "" || existingHasPosting {
		return appendStructured(periodFile, text, postDatetime, hasExisting)
	}

	body := lines
	if hasExisting {
		body = lines[1:]
	}
	if len(body) == 0 {
		return 0, nil
	}
	if err := appendRaw(periodFile, strings.Join(body, "\n")+"\n"); err != nil {
		return 0, err
	}
	return len(body), nil
}

func appendStructured(periodFile, text, postDatetime string, hasExisting bool) (int, error) {
	source, err := ParseCSV(text)
	if err != nil {
		return 0, err
	}
	if len(source.Header) == 0 || len(source.Rows) == 0 {
		return 0, nil
	}
	sourcePosting := ""
	if i := DetectPostingColumn(source.Header); i >= 0 {
		sourcePosting = source.Header[i]
	}
	targetPosting := PostingColumn

	var header []string
	if hasExisting {
		existing, err := migrate(periodFile)
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 {
			header = existing
			targetPosting = existing[DetectPostingColumn(existing)]
		} else {
			hasExisting = false
		}
	}
	if !hasExisting {
		header = []string{targetPosting}
		for _, name := range source.Header {
			if name == targetPosting || (sourcePosting != "" && name == sourcePosting) {
				continue
			}
			header = append(header, name)
		}
	}

	projected := source.Project(header)
	postIdx := indexOf(header, targetPosting)
	srcIdx := source.Index(sourcePosting)
	for r, row := range projected {
		switch {
		case sourcePosting != "" && sourcePosting != targetPosting:
			value := strings.TrimSpace(Value(source.Rows[r], srcIdx))
			if value == "" {
				value = postDatetime
			}
			row[postIdx] = value
		case sourcePosting != "":
			if strings.TrimSpace(row[postIdx]) == "" {
				row[postIdx] = postDatetime
			}
		default:
			row[postIdx] = postDatetime
		}
	}

	f, err := os.OpenFile(periodFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open period file: %w", err)
	}
	w := csv.NewWriter(f)
	if !hasExisting {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return 0, fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.WriteAll(projected); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("append rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close period file: %w", err)
	}
	return len(projected), nil
}

// migrate inserts the posting column at the front of a period file that lacks
// it and returns the resulting header. An empty file yields nil.
func migrate(periodFile string) ([]string, error) {
	header, err := ReadHeader(periodFile)
	if err != nil || len(header) == 0 {
		return nil, err
	}
	if DetectPostingColumn(header) >= 0 {
		return header, nil
	}
	existing, err := ReadTable(periodFile)
	if err != nil {
		return nil, err
	}
	upgraded := append([]string{PostingColumn}, existing.Header...)
	rows := existing.Project(upgraded)
	if err := WriteTable(periodFile, Table{Header: upgraded, Rows: rows}); err != nil {
		return nil, err
	}
	return upgraded, nil
}

func appendRaw(path, text string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open period file: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return fmt.Errorf("append lines: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close period file: %w", err)
	}
	return nil
}

func readMarker(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open marker: %w", err)
	}
	defer func() { _ = f.Close() }()
	var out []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read marker: %w", err)
	}
	return out, nil
}

func appendMarker(path, docID string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	return appendRaw(path, docID+"\n")
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func indexOf(list []string, name string) int {
	for i, v := range list {
		if v == name {
			return i
		}
	}
	return -1
}
