// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/backfill"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/checkpoint"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/clock/system"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/config"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/failures"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/fetch"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/id/uuid"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/metrics"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/pipeline"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress/sinks"
	pubsubpub "github.com/Erdos-Projects/spring-2026-electricity-TX/internal/publisher/pubsub"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/sortengine"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/gcs"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/local"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/postgres"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/telemetry"
)

const closeTimeout = 15 * time.Second

// App holds the shared, long-lived services of one archiver invocation: the
// logger, failure log, progress hub, optional mirror and the factories that
// build API-backed components on demand.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    *system.Clock
	runID    string
	runDir   string
	failures failures.Sink
	events   *progress.Hub
	registry *prometheus.Registry
	mirror   storage.ObjectStore
	tracer   *sdktrace.TracerProvider

	closers []func(context.Context) error
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the wall clock used for stamps and sleeps.
func (a *App) Clock() *system.Clock { return a.clock }

// RunID identifies this invocation on events and failure rows.
func (a *App) RunID() string { return a.runID }

// RunDir is the per-run log directory.
func (a *App) RunDir() string { return a.runDir }

// Failures returns the failure log fan-out.
func (a *App) Failures() failures.Sink { return a.failures }

// Events returns the progress hub.
func (a *App) Events() *progress.Hub { return a.events }

// Mirror returns the configured period-file mirror, or nil.
func (a *App) Mirror() storage.ObjectStore { return a.mirror }

// MetricsHandler exposes API and progress collectors together.
func (a *App) MetricsHandler() http.Handler {
	return metrics.HandlerWith(a.registry)
}

// New creates the App from cfg. It fails fast if an enabled optional service
// (Postgres, Pub/Sub, GCS) cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    system.New(),
		runID:    uuid.New().MustID(),
		registry: prometheus.NewRegistry(),
	}
	a.runDir = cfg.RunDir(a.clock.Now())
	metrics.Init()

	if err := a.initTracing(ctx); err != nil {
		return nil, err
	}
	if err := a.initFailures(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initEvents(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initMirror(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("run_id", a.runID),
		zap.String("run_dir", a.runDir),
	)
	return a, nil
}

func (a *App) initTracing(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp
	a.closers = append(a.closers, func(ctx context.Context) error { return tp.Shutdown(ctx) })
	return nil
}

func (a *App) initFailures(ctx context.Context) error {
	csvSink, err := failures.OpenCSV(a.cfg.FailuresPath(a.runDir))
	if err != nil {
		return err
	}
	multi := failures.Multi{csvSink}
	if dsn := a.cfg.Failures.PostgresDSN; dsn != "" {
		store, err := postgres.NewFailureStore(ctx, postgres.FailureStoreConfig{
			DSN:   dsn,
			Table: a.cfg.Failures.PostgresTable,
		})
		if err != nil {
			_ = csvSink.Close()
			return err
		}
		a.logger.Info("recording failures to postgres", zap.String("table", store.Table()))
		multi = append(multi, failures.NewPostgresSink(store))
	}
	a.failures = multi
	a.closers = append(a.closers, func(context.Context) error { return multi.Close() })
	return nil
}

func (a *App) initEvents(ctx context.Context) error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(a.logger), promSink}
	if topic := a.cfg.Events.TopicName; topic != "" {
		pub, err := pubsubpub.Dial(ctx, a.cfg.Events.ProjectID)
		if err != nil {
			return err
		}
		a.logger.Info("publishing progress to pubsub", zap.String("topic", topic))
		hubSinks = append(hubSinks, sinks.NewPubSubSink(pub, topic, a.logger))
	}
	a.events = progress.NewHub(progress.Config{
		Logger: a.logger,
		RunID:  a.runID,
		Now:    a.clock.Now,
	}, hubSinks...)
	hub := a.events
	a.closers = append(a.closers, hub.Close)
	return nil
}

func (a *App) initMirror(ctx context.Context) error {
	switch {
	case a.cfg.Mirror.GCSBucket != "":
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Mirror.GCSBucket, Prefix: a.cfg.Mirror.Prefix})
		if err != nil {
			return err
		}
		a.logger.Info("mirroring period files to gcs", zap.String("bucket", a.cfg.Mirror.GCSBucket))
		a.mirror = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	case a.cfg.Mirror.LocalDir != "":
		store, err := local.New(local.Config{BaseDir: a.cfg.Mirror.LocalDir})
		if err != nil {
			return err
		}
		a.logger.Info("mirroring period files locally", zap.String("dir", store.BaseDir()))
		a.mirror = store
	}
	return nil
}

// NewClient authenticates lazily against the configured account. Missing
// credentials fail before any request is made.
func (a *App) NewClient() (*archive.Client, *archive.Authenticator, error) {
	creds := a.cfg.Credentials()
	if err := creds.Validate(); err != nil {
		return nil, nil, err
	}
	auth := archive.NewPasswordAuthenticator(a.cfg.API.TokenURL, a.cfg.API.ClientID, a.cfg.ScopeOrDefault(), creds, a.cfg.Timeout())
	return archive.NewClient(a.cfg.ClientConfig(), auth, a.clock, a.logger), auth, nil
}

// NewLister wraps client in the paginating lister.
func (a *App) NewLister(client archive.PageSource) *archive.Lister {
	return archive.NewLister(client, a.cfg.ListerConfig(), a.clock, a.events, a.logger)
}

// NewCheckpoints opens the checkpoint store under the state directory.
func (a *App) NewCheckpoints() (*checkpoint.Store, error) {
	return checkpoint.NewStore(a.cfg.Download.StateDir, a.clock)
}

// NewSorter builds the period-file sort engine.
func (a *App) NewSorter() *sortengine.Engine {
	return sortengine.New(a.clock, a.logger)
}

// NewOrchestrator wires a full download run.
func (a *App) NewOrchestrator() (*pipeline.Orchestrator, error) {
	opts, err := a.cfg.PipelineOptions(a.runDir)
	if err != nil {
		return nil, err
	}
	client, auth, err := a.NewClient()
	if err != nil {
		return nil, err
	}
	store, err := a.NewCheckpoints()
	if err != nil {
		return nil, err
	}
	deps := pipeline.Deps{
		Auth:        auth,
		Lister:      a.NewLister(client),
		Fetcher:     fetch.New(client, a.logger),
		Checkpoints: store,
		Merger:      consolidate.NewStore(),
		Sorter:      a.NewSorter(),
		Mirror:      a.mirror,
		Failures:    a.failures,
		Events:      a.events,
		Sleeper:     a.clock,
		Clock:       a.clock,
		Logger:      a.logger,
		RunID:       a.runID,
	}
	if a.cfg.Download.SkipUnavailableDatasets {
		deps.Catalog = client
	}
	return pipeline.New(opts, deps)
}

// NewReconciler wires a backfill run. withWindow limits it to the configured
// download window. The API client is only built when the options need it.
func (a *App) NewReconciler(withWindow bool) (*backfill.Reconciler, error) {
	opts, err := a.cfg.BackfillOptions(withWindow)
	if err != nil {
		return nil, err
	}
	store, err := a.NewCheckpoints()
	if err != nil {
		return nil, err
	}
	deps := backfill.Deps{
		Cache:  store,
		Events: a.events,
		Clock:  a.clock,
		Logger: a.logger,
	}
	if opts.DownloadMissing || opts.FetchMissing {
		client, _, err := a.NewClient()
		if err != nil {
			return nil, err
		}
		deps.Bulk = fetch.New(client, a.logger)
		deps.Pager = a.NewLister(client)
	}
	return backfill.New(opts, deps)
}

// RecordFatal writes a run-level failure row.
func (a *App) RecordFatal(ctx context.Context, err error) {
	if err == nil || a.failures == nil {
		return
	}
	entry := failures.Entry{
		Time:    a.clock.Now(),
		RunID:   a.runID,
		Dataset: failures.RunDataset,
		Stage:   failures.StageFatal,
		Error:   err.Error(),
	}
	if recErr := a.failures.Record(ctx, entry); recErr != nil {
		a.logger.Warn("record fatal failure", zap.Error(recErr))
	}
}

// Close gracefully shuts down all services in reverse start order.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
}
