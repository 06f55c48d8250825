// Package failures records per-item and per-stage failures of a run. Every
// sink receives the same Entry; the CSV sink is always on, Postgres is optional.
package failures

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Stages recorded by the download pipeline.
const (
	StageListing   = "archive-listing"
	StageBulk      = "bulk-download"
	StageBulkWrite = "bulk-write"
	StageDownload  = "download"
	StageSort      = "monthly-sort"
	StageEarliest  = "earliest-date-detection"
	StageMirror    = "mirror"
	StageFatal     = "fatal"
	StageBackfill  = "backfill"
)

// RunDataset is the dataset column of run-level failures.
const RunDataset = "RUN"

const timestampLayout = time.RFC3339

var header = []string{"timestamp", "dataset_id", "stage", "doc_id", "page", "error"}

// Entry describes one failure.
type Entry struct {
	Time    time.Time
	RunID   string
	Dataset string
	Stage   string
	DocID   string
	Page    int
	Error   string
}

// Sink persists failure entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// CSVSink appends entries to a CSV file, flushing after every row.
type CSVSink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
	path string
}

// OpenCSV opens path for append, writing the header when the file is new or empty.
func OpenCSV(path string) (*CSVSink, error) {
	if path == "" {
		return nil, fmt.Errorf("failure log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create failure log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat failure log: %w", err)
	}
	s := &CSVSink{file: f, w: csv.NewWriter(f), path: path}
	if info.Size() == 0 {
		if err := s.write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path returns the file the sink appends to.
func (s *CSVSink) Path() string {
	return s.path
}

// Record appends e.
func (s *CSVSink) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write([]string{
		e.Time.UTC().Format(timestampLayout),
		e.Dataset,
		e.Stage,
		e.DocID,
		strconv.Itoa(e.Page),
		e.Error,
	})
}

func (s *CSVSink) write(record []string) error {
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("write failure row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush failure log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Multi fans entries out to every sink and joins their errors.
type Multi []Sink

// Record forwards e to all sinks.
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards entries.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, Entry) error { return nil }

// Close implements Sink.
func (Nop) Close() error { return nil }

// Memory keeps entries in memory for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// Record implements Sink.
func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Close implements Sink.
func (m *Memory) Close() error { return nil }

// Entries returns a copy of the recorded entries.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
