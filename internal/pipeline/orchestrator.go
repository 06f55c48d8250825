// Package pipeline drives a download run: for each dataset it lists the archive,
// fetches documents in bulk and one by one, merges them into period files, sorts
// the touched files and keeps the checkpoint current after every step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/checkpoint"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/clock/system"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/failures"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/fetch"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/sortengine"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// ErrMissingDependency is returned when a required collaborator is nil.
var ErrMissingDependency = errors.New("pipeline dependency missing")

// TokenSource authenticates before any dataset is touched.
type TokenSource interface {
	Token() (*oauth2.Token, error)
}

// Catalog lists the products visible to the subscription.
type Catalog interface {
	ListProducts(ctx context.Context) (map[string]archive.Product, error)
}

// Lister walks archive pages and probes availability; *archive.Lister satisfies it.
type Lister interface {
	ListAllPages(ctx context.Context, q archive.Query, startPage int, seed []archive.Item, onPage archive.PageFunc) ([]archive.Item, error)
	FindEarliest(ctx context.Context, dataset, archiveURL string, from, to time.Time) (archive.Earliest, error)
}

// Downloader fetches payloads; *fetch.Fetcher satisfies it.
type Downloader interface {
	FetchBulk(ctx context.Context, datasetID string, ids []string, chunkSize int, strict bool) (map[string][]byte, int, error)
	FetchOne(ctx context.Context, datasetID, docID, dest string, item archive.Item) error
}

// Checkpoints persists per-dataset progress; *checkpoint.Store satisfies it.
type Checkpoints interface {
	Load(w checkpoint.Window) (*checkpoint.Record, error)
	Save(rec *checkpoint.Record) error
	AppendListedPage(dataset string, page int, items []archive.Item) error
	LoadCachedItems(dataset string) ([]archive.Item, int, error)
	DiscardCache(dataset string) error
}

// Merger consolidates sources into period files; *consolidate.Store satisfies it.
type Merger interface {
	IsAlreadyMerged(periodFile, docID string) (bool, error)
	MergeFile(periodFile, docID, sourcePath, postDatetime string) (int, error)
}

// Sorter orders period files; *sortengine.Engine satisfies it.
type Sorter interface {
	SortPeriodFile(path string, order sortengine.Order, strategy sortengine.Strategy) (sortengine.Result, error)
}

// Clock stamps reports and failure entries.
type Clock interface {
	Now() time.Time
}

// Options configure one download run.
type Options struct {
	Datasets       []string
	From           time.Time
	To             time.Time
	DetectEarliest bool
	Resume         bool
	BaseURL        string
	OutDir         string
	PageSize       int
	Order          string
	MaxDocs        int
	Bulk           bool
	BulkChunkSize  int
	DryRun         bool
	Consolidate    bool
	DeleteSource   bool
	ExtractZips    bool
	SortOption     string
	SortStrategy   sortengine.Strategy
	SortExisting   bool
	DNSThreshold   int
	DNSCooldown    time.Duration
	WriteManifest  bool
	SummaryPath    string
}

// Validate checks option combinations before any request is made.
func (o Options) Validate() error {
	if len(o.Datasets) == 0 {
		return fmt.Errorf("no datasets selected")
	}
	if o.OutDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if o.From.After(o.To) {
		return fmt.Errorf("from date %s is after to date %s", o.From.Format(time.DateOnly), o.To.Format(time.DateOnly))
	}
	if o.PageSize <= 0 {
		return fmt.Errorf("page size must be greater than 0")
	}
	if !archive.ValidOrder(o.Order) {
		return fmt.Errorf("unknown download order %q", o.Order)
	}
	if o.Bulk && (o.BulkChunkSize < 1 || o.BulkChunkSize > fetch.MaxBulkChunk) {
		return fmt.Errorf("bulk chunk size must be between 1 and %d", fetch.MaxBulkChunk)
	}
	if o.DeleteSource && !o.Consolidate {
		return fmt.Errorf("deleting sources requires consolidation")
	}
	_, sorting, err := sortengine.ResolveOrder(o.SortOption, o.Order)
	if err != nil {
		return err
	}
	if o.SortExisting && !sorting {
		return fmt.Errorf("sorting existing files requires a sort order other than %q", sortengine.OptionNone)
	}
	if sorting && !sortengine.ValidStrategy(string(o.SortStrategy)) {
		return fmt.Errorf("unknown sort strategy %q", o.SortStrategy)
	}
	if o.DNSThreshold < 0 || o.DNSCooldown < 0 {
		return fmt.Errorf("DNS failure threshold and cooldown must not be negative")
	}
	return nil
}

// Deps are the collaborators of an Orchestrator. Auth, Catalog, Checkpoints (when
// resume is off), Sorter (when sorting is off) and Mirror are optional.
type Deps struct {
	Auth        TokenSource
	Catalog     Catalog
	Lister      Lister
	Fetcher     Downloader
	Checkpoints Checkpoints
	Merger      Merger
	Sorter      Sorter
	Mirror      storage.ObjectStore
	Failures    failures.Sink
	Events      progress.Emitter
	Sleeper     fetch.Sleeper
	Clock       Clock
	Logger      *zap.Logger
	RunID       string
}

// Orchestrator runs the download pipeline.
type Orchestrator struct {
	opts      Options
	deps      Deps
	guard     *fetch.NetworkGuard
	sortOrder sortengine.Order
	sorting   bool

	mu       sync.Mutex
	report   Report
	manifest []ManifestRow
}

// New validates opts and wires defaults for optional deps.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Lister == nil || deps.Fetcher == nil {
		return nil, fmt.Errorf("%w: lister and fetcher are required", ErrMissingDependency)
	}
	if opts.Consolidate && deps.Merger == nil {
		return nil, fmt.Errorf("%w: consolidation requires a merger", ErrMissingDependency)
	}
	if opts.Resume && deps.Checkpoints == nil {
		return nil, fmt.Errorf("%w: resume requires a checkpoint store", ErrMissingDependency)
	}
	order, sorting, _ := sortengine.ResolveOrder(opts.SortOption, opts.Order)
	if sorting && deps.Sorter == nil {
		return nil, fmt.Errorf("%w: sorting requires a sorter", ErrMissingDependency)
	}
	if deps.Failures == nil {
		deps.Failures = failures.Nop{}
	}
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Sleeper == nil {
		deps.Sleeper = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		opts:      opts,
		deps:      deps,
		guard:     fetch.NewNetworkGuard(opts.DNSThreshold, opts.DNSCooldown, deps.Sleeper),
		sortOrder: order,
		sorting:   sorting,
		report: Report{
			RunID:            deps.RunID,
			Status:           RunRunning,
			SelectedDatasets: append([]string(nil), opts.Datasets...),
			Datasets:         map[string]*DatasetSummary{},
		},
	}, nil
}

// Snapshot returns a copy of the current report. It is safe to call while Run is active.
func (o *Orchestrator) Snapshot() Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.report.clone()
	if r.FinishedAt == nil && !r.StartedAt.IsZero() {
		r.ElapsedSeconds = o.deps.Clock.Now().Sub(r.StartedAt).Seconds()
	}
	return r
}

func (o *Orchestrator) update(fn func(r *Report)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.report)
}

func (o *Orchestrator) dataset(id string, fn func(d *DatasetSummary)) {
	o.update(func(r *Report) {
		d, ok := r.Datasets[id]
		if !ok {
			d = &DatasetSummary{Status: RunRunning}
			r.Datasets[id] = d
		}
		fn(d)
	})
}

// Run processes every selected dataset in order. Dataset-level failures are
// recorded and the run moves on; authentication failures, sustained DNS failures,
// checkpoint write failures and cancellation abort the run.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	started := o.deps.Clock.Now()
	o.update(func(r *Report) { r.StartedAt = started })
	o.deps.Events.Emit(progress.Event{
		Stage:  progress.StageRunStart,
		Count:  int64(len(o.opts.Datasets)),
		Fields: map[string]string{"datasets": strings.Join(o.opts.Datasets, ",")},
	})

	err := o.run(ctx)
	if err != nil {
		o.recordFailure(ctx, failures.Entry{Dataset: failures.RunDataset, Stage: failures.StageFatal, Error: err.Error()})
	}
	o.finish(started, err)
	o.writeOutputs()
	return o.Snapshot(), err
}

func (o *Orchestrator) run(ctx context.Context) error {
	if o.deps.Auth != nil {
		if _, err := o.deps.Auth.Token(); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}
	products := o.catalog(ctx)
	for _, id := range o.opts.Datasets {
		if err := ctx.Err(); err != nil {
			return err
		}
		product, ok := products[id]
		if len(products) > 0 && !ok {
			o.deps.Events.Emit(progress.Event{
				Stage:   progress.StageDatasetSkip,
				Dataset: id,
				Status:  "not_in_current_catalog_for_subscription",
				Fields:  map[string]string{"tip": "run_products_command"},
			})
			o.update(func(r *Report) { r.Stats.SkippedUnavailableDataset++ })
			o.dataset(id, func(d *DatasetSummary) { d.Status = StatusSkippedUnavailable })
			continue
		}
		if !ok {
			product = archive.Product{ID: id}
		}
		if err := o.runDataset(ctx, id, product); err != nil {
			return err
		}
	}
	return nil
}

// catalog returns the product catalog, or an empty map when it cannot be listed.
func (o *Orchestrator) catalog(ctx context.Context) map[string]archive.Product {
	if o.deps.Catalog == nil {
		return nil
	}
	products, err := o.deps.Catalog.ListProducts(ctx)
	if err != nil {
		o.deps.Logger.Warn("unable to list public reports", zap.Error(err))
		return nil
	}
	return products
}

func (o *Orchestrator) finish(started time.Time, err error) {
	finished := o.deps.Clock.Now()
	var stats Stats
	o.update(func(r *Report) {
		r.FinishedAt = &finished
		r.ElapsedSeconds = finished.Sub(started).Seconds()
		r.Status = RunCompleted
		if err != nil {
			r.Status = RunFailed
			r.FatalError = err.Error()
		}
		stats = r.Stats
	})
	o.deps.Events.Emit(progress.Event{
		Stage:  progress.StageRunSummary,
		Status: o.Snapshot().Status,
		Count:  int64(stats.Downloaded),
		Dur:    finished.Sub(started),
		Fields: summaryFields(stats, o.opts.Consolidate, o.sorting && (o.opts.Consolidate || o.opts.SortExisting)),
	})
}

func (o *Orchestrator) recordFailure(ctx context.Context, e failures.Entry) {
	if e.Time.IsZero() {
		e.Time = o.deps.Clock.Now()
	}
	e.RunID = o.deps.RunID
	if err := o.deps.Failures.Record(ctx, e); err != nil {
		o.deps.Logger.Warn("record failure", zap.String("stage", e.Stage), zap.Error(err))
	}
}

// fail counts a failure and records it.
func (o *Orchestrator) fail(ctx context.Context, e failures.Entry) {
	o.update(func(r *Report) { r.Stats.Failures++ })
	o.recordFailure(ctx, e)
}
