package pipeline

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/backfill"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/checkpoint"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/failures"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/fetch"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/sortengine"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/local"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/memory"
)

const testDataset = "NP4-190-CD"

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC) }

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type fakeLister struct {
	mu       sync.Mutex
	items    []archive.Item
	err      error
	earliest archive.Earliest
	calls    []string
}

func (f *fakeLister) ListAllPages(_ context.Context, q archive.Query, startPage int, seed []archive.Item, onPage archive.PageFunc) ([]archive.Item, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q.Dataset)
	f.mu.Unlock()
	if f.err != nil {
		return seed, f.err
	}
	if onPage != nil {
		if err := onPage(startPage, f.items, len(seed)+len(f.items)); err != nil {
			return nil, err
		}
	}
	return append(append([]archive.Item(nil), seed...), f.items...), nil
}

func (f *fakeLister) FindEarliest(context.Context, string, string, time.Time, time.Time) (archive.Earliest, error) {
	return f.earliest, nil
}

func (f *fakeLister) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeFetcher struct {
	mu        sync.Mutex
	bulk      map[string][]byte
	bulkErr   error
	one       map[string][]byte
	oneErr    error
	bulkCalls [][]string
	oneCalls  []string
}

func (f *fakeFetcher) FetchBulk(_ context.Context, _ string, ids []string, _ int, _ bool) (map[string][]byte, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, append([]string(nil), ids...))
	if f.bulkErr != nil {
		return nil, 0, f.bulkErr
	}
	out := map[string][]byte{}
	for _, id := range ids {
		if body, ok := f.bulk[id]; ok {
			out[id] = body
		}
	}
	return out, len(out), nil
}

func (f *fakeFetcher) FetchOne(_ context.Context, _ string, docID, dest string, _ archive.Item) error {
	f.mu.Lock()
	f.oneCalls = append(f.oneCalls, docID)
	err := f.oneErr
	body, ok := f.one[docID]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return fetch.ErrAllCandidatesFailed
	}
	return local.WriteFileAtomic(dest, body)
}

func (f *fakeFetcher) OneCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.oneCalls...)
}

type fakeCatalog map[string]archive.Product

func (c fakeCatalog) ListProducts(context.Context) (map[string]archive.Product, error) {
	return c, nil
}

type failingAuth struct{}

func (failingAuth) Token() (*oauth2.Token, error) { return nil, errors.New("invalid_grant") }

func doc(id, posted string) archive.Item {
	return archive.NewItem(map[string]any{"docId": id, "postDatetime": posted, "constructedName": "rpt.csv"}, 1)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func baseOptions(out string) Options {
	return Options{
		Datasets:      []string{testDataset},
		From:          day(2024, 1, 1),
		To:            day(2024, 1, 31),
		OutDir:        out,
		PageSize:      100,
		Order:         archive.OrderAPI,
		Bulk:          true,
		BulkChunkSize: 10,
		Consolidate:   true,
		SortOption:    string(sortengine.Ascending),
		SortStrategy:  sortengine.StrategyAuto,
		Resume:        true,
	}
}

type harness struct {
	out      string
	store    *checkpoint.Store
	lister   *fakeLister
	fetcher  *fakeFetcher
	failures *failures.Memory
	events   *progress.Recorder
	mirror   *memory.BlobStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := checkpoint.NewStore(filepath.Join(dir, "state"), fixedClock{})
	require.NoError(t, err)
	return &harness{
		out:      filepath.Join(dir, "out"),
		store:    store,
		lister:   &fakeLister{},
		fetcher:  &fakeFetcher{bulk: map[string][]byte{}, one: map[string][]byte{}},
		failures: &failures.Memory{},
		events:   &progress.Recorder{},
		mirror:   memory.NewBlobStore(),
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Lister:      h.lister,
		Fetcher:     h.fetcher,
		Checkpoints: h.store,
		Merger:      consolidate.NewStore(),
		Sorter:      sortengine.New(fixedClock{}, nil),
		Failures:    h.failures,
		Events:      h.events,
		Sleeper:     noSleep{},
		Clock:       fixedClock{},
		RunID:       "run-1",
	}
}

func (h *harness) run(t *testing.T, opts Options, deps Deps) (Report, error) {
	t.Helper()
	o, err := New(opts, deps)
	require.NoError(t, err)
	return o.Run(context.Background())
}

func (h *harness) statuses(stage progress.Stage) []string {
	var out []string
	for _, evt := range h.events.Events() {
		if evt.Stage == stage {
			out = append(out, evt.Status)
		}
	}
	return out
}

func TestRunDownloadsMergesSortsAndMirrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lister.items = []archive.Item{
		doc("1", "2024-01-02T10:00:00"),
		doc("2", "2024-01-01T09:00:00"),
	}
	h.fetcher.bulk["1"] = []byte("DeliveryDate,HourEnding,price\n01/02/2024,1,10\n")
	h.fetcher.one["2"] = []byte("DeliveryDate,HourEnding,price\n01/01/2024,1,20\n")

	opts := baseOptions(h.out)
	opts.WriteManifest = true
	opts.SummaryPath = filepath.Join(h.out, "summary.json")
	deps := h.deps()
	deps.Mirror = h.mirror

	report, err := h.run(t, opts, deps)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, Stats{Downloaded: 2, ConsolidatedUpdates: 2, MonthlySorted: 1}, report.Stats)
	assert.Equal(t, checkpoint.StatusCompleted, report.Datasets[testDataset].Status)
	assert.Equal(t, 2, report.Datasets[testDataset].DocsProcessed)
	assert.Equal(t, [][]string{{"1", "2"}}, h.fetcher.bulkCalls)
	assert.Equal(t, []string{"2"}, h.fetcher.OneCalls())
	assert.Empty(t, h.failures.Entries())

	periodFile := consolidate.MonthPath(h.out, testDataset, day(2024, 1, 1))
	data, err := os.ReadFile(periodFile)
	require.NoError(t, err)
	text := string(data)
	require.True(t, strings.HasPrefix(text, "postDateTime,DeliveryDate,HourEnding,price\n"))
	assert.Less(t, strings.Index(text, "2024-01-01T09:00:00"), strings.Index(text, "2024-01-02T10:00:00"))

	assert.Equal(t, []string{"NP4-190-CD/2024/01/NP4-190-CD_202401.csv"}, h.mirror.Paths())
	assert.Equal(t, []string{string(sortengine.Sorted)}, h.statuses(progress.StageMonthlySorted))
	assert.Contains(t, h.events.Stages(), progress.StageRunSummary)

	posted, err := backfill.FromManifest(filepath.Join(h.out, ManifestName), testDataset)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "2024-01-02T10:00:00", "2": "2024-01-01T09:00:00"}, posted)
	_, err = os.Stat(opts.SummaryPath)
	require.NoError(t, err)

	window := checkpoint.NewWindow(testDataset, opts.From, opts.To, 100, archive.OrderAPI, 0, archive.DefaultArchiveURL("", testDataset))
	rec, err := h.store.Load(window)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.NextDocIndex)
	assert.True(t, rec.ListingComplete)
}

func TestRunResumesAfterItemFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lister.items = []archive.Item{
		doc("1", "2024-01-01T09:00:00"),
		doc("2", "2024-01-02T10:00:00"),
	}
	h.fetcher.one["1"] = []byte("v\n1\n")
	opts := baseOptions(h.out)
	opts.Bulk = false

	report, err := h.run(t, opts, h.deps())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Failures)
	assert.Equal(t, checkpoint.StatusRunningWithFailures, report.Datasets[testDataset].Status)
	entries := h.failures.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, failures.StageDownload, entries[0].Stage)
	assert.Equal(t, "2", entries[0].DocID)
	assert.Equal(t, 1, entries[0].Page)
	assert.Equal(t, "run-1", entries[0].RunID)

	window := checkpoint.NewWindow(testDataset, opts.From, opts.To, 100, archive.OrderAPI, 0, archive.DefaultArchiveURL("", testDataset))
	rec, err := h.store.Load(window)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.NextDocIndex)
	assert.Equal(t, "2", rec.LastFailedDocID)

	h.fetcher.one["2"] = []byte("v\n2\n")
	report, err = h.run(t, opts, h.deps())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Downloaded)
	assert.Equal(t, 1, report.Datasets[testDataset].ResumeStartIndex)
	assert.Equal(t, []string{"1", "2", "2"}, h.fetcher.OneCalls())
	assert.Len(t, h.lister.Calls(), 1, "completed listing is reused from the item cache")
}

func TestRunAbortsOnRepeatedDNSFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lister.items = []archive.Item{doc("1", "2024-01-01T00:00:00"), doc("2", "2024-01-02T00:00:00"), doc("3", "2024-01-03T00:00:00")}
	h.fetcher.oneErr = &net.DNSError{Err: "no such host", Name: "api.ercot.com", IsNotFound: true}
	opts := baseOptions(h.out)
	opts.Bulk = false
	opts.Consolidate = false
	opts.SortOption = sortengine.OptionNone
	opts.Resume = false
	opts.DNSThreshold = 2

	report, err := h.run(t, opts, h.deps())
	require.ErrorIs(t, err, fetch.ErrNetworkDown)
	assert.Equal(t, RunFailed, report.Status)
	assert.Equal(t, []string{"1", "2"}, h.fetcher.OneCalls())

	entries := h.failures.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, failures.RunDataset, entries[2].Dataset)
	assert.Equal(t, failures.StageFatal, entries[2].Stage)
	assert.Contains(t, h.events.Stages(), progress.StageDNSCooldown)
}

func TestRunSkipsDatasetsMissingFromCatalog(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lister.items = []archive.Item{doc("9", "2024-01-05T00:00:00")}
	h.fetcher.one["9"] = []byte("x\n1\n")
	opts := baseOptions(h.out)
	opts.Datasets = []string{testDataset, "NP6-905-CD"}
	opts.Consolidate = false
	opts.Bulk = false
	opts.SortOption = sortengine.OptionNone
	deps := h.deps()
	deps.Catalog = fakeCatalog{"NP6-905-CD": {ID: "NP6-905-CD", ArchiveHref: "https://example.test/archive/np6-905-cd"}}

	report, err := h.run(t, opts, deps)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.SkippedUnavailableDataset)
	assert.Equal(t, StatusSkippedUnavailable, report.Datasets[testDataset].Status)
	assert.Equal(t, []string{"NP6-905-CD"}, h.lister.Calls())
	assert.Equal(t, 1, report.Stats.Downloaded)
}

func TestRunListingFailureMovesOn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lister.err = &archive.StatusError{Code: 429}
	opts := baseOptions(h.out)
	opts.Datasets = []string{testDataset, "NP6-905-CD"}

	report, err := h.run(t, opts, h.deps())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.Failures)
	assert.Equal(t, StatusListingFailed, report.Datasets[testDataset].Status)
	assert.Equal(t, StatusListingFailed, report.Datasets["NP6-905-CD"].Status)
	for _, e := range h.failures.Entries() {
		assert.Equal(t, failures.StageListing, e.Stage)
	}
}

func TestRunBulkErrorFallsBackToPerItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lister.items = []archive.Item{doc("1", "2024-01-01T00:00:00"), doc("2", "2024-01-02T00:00:00")}
	h.fetcher.bulkErr = errors.New("bulk response count mismatch")
	h.fetcher.one["1"] = []byte("v\n1\n")
	h.fetcher.one["2"] = []byte("v\n2\n")
	opts := baseOptions(h.out)
	opts.BulkChunkSize = 1

	report, err := h.run(t, opts, h.deps())
	require.NoError(t, err)
	assert.Len(t, h.fetcher.bulkCalls, 1, "first bulk error disables bulk for the dataset")
	assert.Equal(t, []string{"1", "2"}, h.fetcher.OneCalls())
	assert.Equal(t, 2, report.Stats.Downloaded)
	assert.Equal(t, 1, report.Stats.Failures)
	assert.Equal(t, checkpoint.StatusRunningWithFailures, report.Datasets[testDataset].Status)
	assert.Contains(t, h.statuses(progress.StageBulkDisabled), "error_fallback_to_per_doc")
	entries := h.failures.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, failures.StageBulk, entries[0].Stage)
}

func TestRunSkipsExistingSources(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	item := doc("5", "2024-01-03T00:00:00")
	h.lister.items = []archive.Item{item}
	require.NoError(t, local.WriteFileAtomic(consolidate.SourcePath(h.out, testDataset, item), []byte("a\n1\n")))
	opts := baseOptions(h.out)
	opts.Consolidate = false
	opts.SortOption = sortengine.OptionNone

	report, err := h.run(t, opts, h.deps())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.SkippedExisting)
	assert.Empty(t, h.fetcher.bulkCalls)
	assert.Empty(t, h.fetcher.OneCalls())
	assert.Equal(t, []string{"skipped"}, h.statuses(progress.StageBulkDone))
}

func TestRunDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lister.items = []archive.Item{doc("1", "2024-01-01T00:00:00"), doc("2", "2024-01-02T00:00:00")}
	opts := baseOptions(h.out)
	opts.DryRun = true
	opts.Resume = false

	report, err := h.run(t, opts, h.deps())
	require.NoError(t, err)
	assert.Zero(t, report.Stats.Downloaded)
	assert.Equal(t, 2, report.Datasets[testDataset].DocsProcessed)
	assert.Empty(t, h.fetcher.OneCalls())
	assert.Equal(t, []string{"dry_run"}, h.statuses(progress.StageBulkDisabled))
	assert.Equal(t, []string{"dry_run", "dry_run"}, h.statuses(progress.StageDocSkipped))
	_, err = os.Stat(filepath.Join(h.out, testDataset))
	assert.True(t, os.IsNotExist(err))
}

func TestRunEarliestDetectionNarrowsWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lister.earliest = archive.Earliest{Found: false}
	opts := baseOptions(h.out)
	opts.DetectEarliest = true

	report, err := h.run(t, opts, h.deps())
	require.NoError(t, err)
	assert.Equal(t, StatusNoDocsInWindow, report.Datasets[testDataset].Status)
	assert.Empty(t, h.lister.Calls())

	h2 := newHarness(t)
	h2.lister.earliest = archive.Earliest{Found: true, Date: day(2024, 1, 15), Granularity: archive.GranularityDay}
	report, err = h2.run(t, baseOptionsWith(h2.out, func(o *Options) { o.DetectEarliest = true }), h2.deps())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", report.Datasets[testDataset].WindowFrom)
	assert.Equal(t, StatusNoDocsInWindow, report.Datasets[testDataset].Status)
}

func baseOptionsWith(out string, fn func(*Options)) Options {
	opts := baseOptions(out)
	fn(&opts)
	return opts
}

func TestRunAuthenticationFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	deps := h.deps()
	deps.Auth = failingAuth{}

	report, err := h.run(t, baseOptions(h.out), deps)
	require.ErrorContains(t, err, "authenticate")
	assert.Equal(t, RunFailed, report.Status)
	assert.Empty(t, h.lister.Calls())
	entries := h.failures.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, failures.StageFatal, entries[0].Stage)
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Options){
		"no datasets":       func(o *Options) { o.Datasets = nil },
		"reversed window":   func(o *Options) { o.From = day(2024, 2, 1) },
		"zero page size":    func(o *Options) { o.PageSize = 0 },
		"bad order":         func(o *Options) { o.Order = "random" },
		"chunk too large":   func(o *Options) { o.BulkChunkSize = 4096 },
		"delete needs cons": func(o *Options) { o.Consolidate = false; o.DeleteSource = true },
		"bad sort option":   func(o *Options) { o.SortOption = "sideways" },
		"existing needs order": func(o *Options) {
			o.SortOption = sortengine.OptionNone
			o.SortExisting = true
		},
		"bad strategy": func(o *Options) { o.SortStrategy = "alphabetical" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.Error(t, baseOptionsWith("/tmp/out", mutate).Validate())
		})
	}
	require.NoError(t, baseOptions("/tmp/out").Validate())

	_, err := New(baseOptions("/tmp/out"), Deps{})
	require.ErrorIs(t, err, ErrMissingDependency)
}
