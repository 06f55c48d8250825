// Package checkpoint persists per-dataset listing and download progress so an
// interrupted run resumes where it stopped. Records are replaced atomically and
// every listed page is appended to a JSONL item cache next to the record.
package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/local"
)

// ErrNoCheckpoint is returned when no compatible checkpoint exists.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Status values carried by a Record.
const (
	StatusRunning             = "running"
	StatusCompleted           = "completed"
	StatusFailed              = "failed"
	StatusRunningWithFailures = "running_with_failures"
)

// Window identifies one listing run. All seven fields must match for a record to be reused.
type Window struct {
	DatasetID  string `json:"dataset_id"`
	From       string `json:"window_from"`
	To         string `json:"window_to"`
	PageSize   int    `json:"page_size"`
	Order      string `json:"download_order"`
	MaxDocs    int    `json:"max_docs_per_dataset"`
	ArchiveURL string `json:"archive_url"`
}

// NewWindow formats dates the way records store them.
func NewWindow(dataset string, from, to time.Time, pageSize int, order string, maxDocs int, archiveURL string) Window {
	return Window{
		DatasetID:  dataset,
		From:       from.Format("2006-01-02"),
		To:         to.Format("2006-01-02"),
		PageSize:   pageSize,
		Order:      order,
		MaxDocs:    maxDocs,
		ArchiveURL: archiveURL,
	}
}

// Record is the persisted progress of one dataset.
type Record struct {
	Window

	Status                 string `json:"status"`
	ListingComplete        bool   `json:"listing_complete"`
	LastListedPage         int    `json:"last_listed_page"`
	TotalListedDocs        int    `json:"total_listed_docs"`
	NextDocIndex           int    `json:"next_doc_index"`
	LastCompletedDocID     string `json:"last_completed_doc_id,omitempty"`
	LastCompletedStampdate string `json:"last_completed_stampdate,omitempty"`
	LastCompletedPage      int    `json:"last_completed_page"`
	Failure                string `json:"failure,omitempty"`
	LastFailedDocID        string `json:"last_failed_doc_id,omitempty"`
	LastFailedError        string `json:"last_failed_error,omitempty"`
	UpdatedAt              string `json:"updated_at,omitempty"`
}

// NewRecord seeds a fresh running record for w.
func NewRecord(w Window) *Record {
	return &Record{Window: w, Status: StatusRunning}
}

// Compatible reports whether the record was written for exactly w.
func (r *Record) Compatible(w Window) bool {
	return r != nil && r.Window == w
}

// MarkCompleted records the last successfully processed item and advances the resume index.
func (r *Record) MarkCompleted(nextIndex int, docID, stampdate string, page int) {
	r.NextDocIndex = nextIndex
	r.LastCompletedDocID = docID
	r.LastCompletedStampdate = stampdate
	r.LastCompletedPage = page
}

// MarkFailed records an item failure without advancing the resume index.
func (r *Record) MarkFailed(docID string, err error) {
	r.Status = StatusRunningWithFailures
	r.LastFailedDocID = docID
	if err != nil {
		r.LastFailedError = err.Error()
	}
}

// Clock supplies the updated_at timestamp.
type Clock interface {
	Now() time.Time
}

// Store reads and writes records under a state directory.
type Store struct {
	dir   string
	clock Clock
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, clock Clock) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Store{dir: dir, clock: clock}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// RecordPath is <state>/<DATASET>.json.
func (s *Store) RecordPath(dataset string) string {
	return filepath.Join(s.dir, dataset+".json")
}

// CachePath is <state>/<DATASET>.archive_docs.jsonl.
func (s *Store) CachePath(dataset string) string {
	return filepath.Join(s.dir, dataset+".archive_docs.jsonl")
}

// Load returns the record for w.Dataset. Missing, unreadable and incompatible records
// all yield ErrNoCheckpoint; callers then discard the item cache and start over.
func (s *Store) Load(w Window) (*Record, error) {
	rec, err := s.read(s.RecordPath(w.DatasetID))
	if err != nil {
		return nil, err
	}
	if !rec.Compatible(w) {
		return nil, ErrNoCheckpoint
	}
	return rec, nil
}

func (s *Store) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrNoCheckpoint
	}
	return &rec, nil
}

// Save stamps updated_at and atomically replaces the record file.
func (s *Store) Save(rec *Record) error {
	if rec == nil || rec.DatasetID == "" {
		return fmt.Errorf("checkpoint record requires a dataset id")
	}
	rec.UpdatedAt = s.clock.Now().UTC().Format(time.RFC3339)
	data, err := marshalSorted(rec)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := local.WriteFileAtomic(s.RecordPath(rec.DatasetID), data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// marshalSorted renders the record with keys in lexical order and two-space indentation.
func marshalSorted(rec *Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	return json.MarshalIndent(flat, "", "  ")
}

type cacheLine struct {
	Page int            `json:"page"`
	Doc  map[string]any `json:"doc"`
}

// AppendListedPage appends one compact JSON line per item to the dataset cache.
func (s *Store) AppendListedPage(dataset string, page int, items []archive.Item) error {
	path := s.CachePath(dataset)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	var buf bytes.Buffer
	for _, it := range items {
		line, err := json.Marshal(cacheLine{Page: page, Doc: it.Doc})
		if err != nil {
			return fmt.Errorf("marshal cached item: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open item cache: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append item cache: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close item cache: %w", err)
	}
	return nil
}

// LoadCachedItems replays the item cache, returning the items and the highest page seen.
// Blank and undecodable lines are skipped; bare item objects are accepted too.
func (s *Store) LoadCachedItems(dataset string) ([]archive.Item, int, error) {
	f, err := os.Open(s.CachePath(dataset))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open item cache: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		items   []archive.Item
		maxPage int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		decoded, err := archive.DecodeJSON(raw)
		if err != nil {
			continue
		}
		obj, ok := decoded.(map[string]any)
		if !ok {
			continue
		}
		page := intValue(obj["page"])
		doc := obj
		if inner, present := obj["doc"]; present {
			if doc, ok = inner.(map[string]any); !ok {
				continue
			}
		}
		if page < 0 {
			page = 0
		}
		items = append(items, archive.NewItem(doc, page))
		if page > maxPage {
			maxPage = page
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan item cache: %w", err)
	}
	return items, maxPage, nil
}

// DiscardCache removes the dataset item cache if present.
func (s *Store) DiscardCache(dataset string) error {
	if err := os.Remove(s.CachePath(dataset)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove item cache: %w", err)
	}
	return nil
}

// List returns every readable record in the state directory, sorted by dataset.
func (s *Store) List() ([]Record, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob checkpoints: %w", err)
	}
	out := make([]Record, 0, len(matches))
	for _, path := range matches {
		rec, err := s.read(path)
		if err != nil {
			if errors.Is(err, ErrNoCheckpoint) {
				continue
			}
			return nil, err
		}
		if rec.DatasetID == "" {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DatasetID < out[j].DatasetID })
	return out, nil
}

func intValue(v any) int {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	case float64:
		return int(n)
	default:
		return 0
	}
}
