package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), fixedClock{now: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)})
	require.NoError(t, err)
	return store
}

func testWindow() Window {
	return NewWindow("NP4-190-CD",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		2, archive.OrderOldestFirst, 0, "https://api.ercot.com/api/public-reports/archive/np4-190-cd")
}

func TestNewStoreValidates(t *testing.T) {
	t.Parallel()

	_, err := NewStore("", fixedClock{})
	require.Error(t, err)
	_, err = NewStore(t.TempDir(), nil)
	require.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec := NewRecord(testWindow())
	rec.LastListedPage = 3
	rec.TotalListedDocs = 5
	rec.MarkCompleted(2, "1001", "2024-01-02T10:00:00", 1)
	require.NoError(t, store.Save(rec))

	got, err := store.Load(testWindow())
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 3, got.LastListedPage)
	assert.Equal(t, 2, got.NextDocIndex)
	assert.Equal(t, "1001", got.LastCompletedDocID)
	assert.Equal(t, "2024-02-03T04:05:06Z", got.UpdatedAt)
	assert.NoFileExists(t, store.RecordPath("NP4-190-CD")+".tmp")

	raw, err := os.ReadFile(store.RecordPath("NP4-190-CD"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "{\n  \"archive_url\""), "keys are written in sorted order")
}

func TestLoadTreatsAnyWindowChangeAsAbsent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Save(NewRecord(testWindow())))

	mutations := map[string]func(w *Window){
		"from":        func(w *Window) { w.From = "2023-12-31" },
		"to":          func(w *Window) { w.To = "2024-02-01" },
		"page size":   func(w *Window) { w.PageSize = 3 },
		"order":       func(w *Window) { w.Order = archive.OrderNewestFirst },
		"max docs":    func(w *Window) { w.MaxDocs = 10 },
		"archive url": func(w *Window) { w.ArchiveURL = "https://example.test/archive" },
	}
	for name, mutate := range mutations {
		w := testWindow()
		mutate(&w)
		_, err := store.Load(w)
		assert.ErrorIs(t, err, ErrNoCheckpoint, name)
	}

	other := testWindow()
	other.DatasetID = "NP6-905-CD"
	_, err := store.Load(other)
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestLoadCorruptRecordIsAbsent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.RecordPath("NP4-190-CD"), []byte("{not json"), 0o600))
	_, err := store.Load(testWindow())
	assert.True(t, errors.Is(err, ErrNoCheckpoint))
}

func TestItemCacheReplaysPages(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	page1 := []archive.Item{
		archive.NewItem(map[string]any{"docId": "A", "size": json.Number("10")}, 1),
		archive.NewItem(map[string]any{"docId": "B"}, 1),
	}
	require.NoError(t, store.AppendListedPage("X", 1, page1))
	require.NoError(t, store.AppendListedPage("X", 2, []archive.Item{archive.NewItem(map[string]any{"docId": "C"}, 2)}))

	f, err := os.OpenFile(store.CachePath("X"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("\n{broken\n{\"docId\":\"D\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	items, maxPage, err := store.LoadCachedItems("X")
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, 2, maxPage)
	assert.Equal(t, "A", items[0].DocID())
	assert.Equal(t, 1, items[0].Page)
	assert.Equal(t, int64(10), items[0].ExpectedSize())
	assert.Equal(t, "C", items[2].DocID())
	assert.Equal(t, 2, items[2].Page)
	assert.Equal(t, "D", items[3].DocID())
	assert.Equal(t, 0, items[3].Page)

	require.NoError(t, store.DiscardCache("X"))
	items, maxPage, err = store.LoadCachedItems("X")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, maxPage)
	require.NoError(t, store.DiscardCache("X"))
}

func TestListSkipsUnreadable(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	w := testWindow()
	require.NoError(t, store.Save(NewRecord(w)))
	w.DatasetID = "NP3-233-CD"
	require.NoError(t, store.Save(NewRecord(w)))
	require.NoError(t, os.WriteFile(store.RecordPath("broken"), []byte("nope"), 0o600))

	recs, err := store.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "NP3-233-CD", recs[0].DatasetID)
	assert.Equal(t, "NP4-190-CD", recs[1].DatasetID)
}

func TestMarkFailed(t *testing.T) {
	t.Parallel()

	rec := NewRecord(testWindow())
	rec.MarkFailed("42", errors.New("boom"))
	assert.Equal(t, StatusRunningWithFailures, rec.Status)
	assert.Equal(t, "42", rec.LastFailedDocID)
	assert.Equal(t, "boom", rec.LastFailedError)
}
