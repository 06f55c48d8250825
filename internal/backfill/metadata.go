package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
)

// CachedItems replays a dataset's item listing cache.
type CachedItems interface {
	LoadCachedItems(dataset string) ([]archive.Item, int, error)
}

// Pager lists archive pages; archive.Lister satisfies it.
type Pager interface {
	ListAllPages(ctx context.Context, q archive.Query, startPage int, seed []archive.Item, onPage archive.PageFunc) ([]archive.Item, error)
}

// Metadata maps document ids to their posting time and listing object.
type Metadata struct {
	Posted map[string]string
	Items  map[string]archive.Item
}

func newMetadata() Metadata {
	return Metadata{Posted: map[string]string{}, Items: map[string]archive.Item{}}
}

// Missing counts ids without a known posting time.
func (m Metadata) Missing(ids map[string]struct{}) int {
	n := 0
	for id := range ids {
		if _, ok := m.Posted[id]; !ok {
			n++
		}
	}
	return n
}

func (m Metadata) add(id, posted string) bool {
	if id == "" || posted == "" {
		return false
	}
	if _, ok := m.Posted[id]; ok {
		return false
	}
	m.Posted[id] = posted
	return true
}

// FromCache collects posting times from the item listing cache for ids in filter.
// The first entry seen for an id wins.
func FromCache(src CachedItems, dataset string, filter map[string]struct{}) (Metadata, error) {
	meta := newMetadata()
	if src == nil {
		return meta, nil
	}
	items, _, err := src.LoadCachedItems(dataset)
	if err != nil {
		return meta, fmt.Errorf("load item cache: %w", err)
	}
	for _, item := range items {
		id := item.DocID()
		if id == "" {
			continue
		}
		if _, ok := meta.Items[id]; ok {
			continue
		}
		if filter != nil {
			if _, ok := filter[id]; !ok {
				continue
			}
		}
		meta.Items[id] = item
		meta.add(id, item.PostDatetimeRaw())
	}
	return meta, nil
}

type manifestRow struct {
	DatasetID       string `json:"dataset_id"`
	DocID           string `json:"doc_id"`
	PostDateTime    string `json:"postDateTime"`
	PostDatetimeAlt string `json:"post_datetime"`
}

// FromManifest reads a download manifest: a JSON list of
// {dataset_id, doc_id, postDateTime|post_datetime}. A missing or unreadable
// manifest yields an empty map.
func FromManifest(path, dataset string) (map[string]string, error) {
	out := map[string]string{}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return out, fmt.Errorf("read manifest: %w", err)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return out, nil
	}
	for _, raw := range rows {
		var row manifestRow
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(row.DatasetID), dataset) {
			continue
		}
		id := strings.TrimSpace(row.DocID)
		posted := strings.TrimSpace(row.PostDateTime)
		if posted == "" {
			posted = strings.TrimSpace(row.PostDatetimeAlt)
		}
		if id == "" || posted == "" {
			continue
		}
		if _, ok := out[id]; !ok {
			out[id] = posted
		}
	}
	return out, nil
}

// FromAPI lists the archive over [from, to] and returns the posting time of every
// document seen.
func FromAPI(ctx context.Context, pager Pager, dataset, archiveURL string, from, to time.Time, pageSize int) (map[string]string, error) {
	items, err := pager.ListAllPages(ctx, archive.Query{
		Dataset:    dataset,
		ArchiveURL: archiveURL,
		From:       from,
		To:         to,
		PageSize:   max(1, pageSize),
	}, 1, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		id, posted := item.DocID(), item.PostDatetimeRaw()
		if id == "" || posted == "" {
			continue
		}
		if _, ok := out[id]; !ok {
			out[id] = posted
		}
	}
	return out, nil
}
