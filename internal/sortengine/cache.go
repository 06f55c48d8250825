package sortengine

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/local"
)

// CacheVersion is bumped when the cache layout changes.
const CacheVersion = 1

// Classification values stored in the sort cache.
const (
	ClassSorted  = "sorted"
	ClassSkipped = "skipped"
	ClassMissing = "missing"
	ClassInvalid = "invalid"
)

// CacheRecord is the .sortcache.json document.
type CacheRecord struct {
	Version        int    `json:"version"`
	SortOrder      string `json:"sort_order"`
	SortStrategy   string `json:"sort_strategy"`
	Classification string `json:"classification"`
	SizeBytes      int64  `json:"size_bytes"`
	MtimeNS        int64  `json:"mtime_ns"`
	UpdatedAt      string `json:"updated_at"`
}

// CachePath is the sort cache next to a period file.
func CachePath(periodFile string) string {
	return periodFile + ".sortcache.json"
}

// Signature is the (size, mtime) pair the cache is keyed on. A missing file yields (-1, -1).
func Signature(path string) (size, mtimeNS int64) {
	info, err := os.Stat(path)
	if err != nil {
		return -1, -1
	}
	return info.Size(), info.ModTime().UnixNano()
}

// ReadCache loads the cache for periodFile; ok is false when it is absent or unreadable.
func ReadCache(periodFile string) (CacheRecord, bool) {
	data, err := os.ReadFile(CachePath(periodFile))
	if err != nil {
		return CacheRecord{}, false
	}
	var rec CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return CacheRecord{}, false
	}
	return rec, true
}

// Lookup returns the cached classification when version, order, strategy and the
// file signature all match, else "".
func Lookup(periodFile string, order Order, strategy Strategy) string {
	rec, ok := ReadCache(periodFile)
	if !ok || rec.Version != CacheVersion {
		return ""
	}
	if rec.SortOrder != string(order) || rec.SortStrategy != string(strategy) {
		return ""
	}
	size, mtime := Signature(periodFile)
	if rec.SizeBytes != size || rec.MtimeNS != mtime {
		return ""
	}
	if rec.Classification == ClassSorted || rec.Classification == ClassSkipped {
		return rec.Classification
	}
	return ""
}

// Classification reports the cache state for a file regardless of order and
// strategy: sorted or skipped when the signature still matches, missing when
// there is no cache, invalid otherwise.
func Classification(periodFile string) string {
	rec, ok := ReadCache(periodFile)
	if !ok {
		return ClassMissing
	}
	size, mtime := Signature(periodFile)
	if rec.Version != CacheVersion || rec.SizeBytes != size || rec.MtimeNS != mtime {
		return ClassInvalid
	}
	if rec.Classification == ClassSorted || rec.Classification == ClassSkipped {
		return rec.Classification
	}
	return ClassInvalid
}

// WriteCache records the current signature of periodFile.
func WriteCache(periodFile string, order Order, strategy Strategy, class string, now time.Time) error {
	size, mtime := Signature(periodFile)
	data, err := json.Marshal(CacheRecord{
		Version:        CacheVersion,
		SortOrder:      string(order),
		SortStrategy:   string(strategy),
		Classification: class,
		SizeBytes:      size,
		MtimeNS:        mtime,
		UpdatedAt:      now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal sort cache: %w", err)
	}
	if err := local.WriteFileAtomic(CachePath(periodFile), data); err != nil {
		return fmt.Errorf("write sort cache: %w", err)
	}
	return nil
}
