package archive

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/clock/system"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/metrics"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/retry"
)

// PageSource fetches a single archive listing page.
type PageSource interface {
	ListPage(ctx context.Context, archiveURL string, from, to time.Time, pageSize, page int) ([]Item, error)
}

// Query scopes a listing to one dataset and posting window.
type Query struct {
	Dataset    string
	ArchiveURL string
	From       time.Time
	To         time.Time
	PageSize   int
}

// PageFunc observes each listed page before the next one is requested. total counts
// seed items plus everything listed so far. Returning an error aborts the listing.
type PageFunc func(page int, items []Item, total int) error

// ListerConfig tunes 429 handling during listing.
type ListerConfig struct {
	// ListingRetries bounds consecutive 429 retries for one page.
	ListingRetries int
	// RetryBase is multiplied by 2^attempt for the cooldown.
	RetryBase time.Duration
}

// Lister walks archive pages with HTTP 429 cooldowns.
type Lister struct {
	src     PageSource
	cfg     ListerConfig
	sleeper Sleeper
	events  progress.Emitter
	logger  *zap.Logger
}

// NewLister wires a Lister. sleeper, events and logger may be nil.
func NewLister(src PageSource, cfg ListerConfig, sleeper Sleeper, events progress.Emitter, logger *zap.Logger) *Lister {
	if sleeper == nil {
		sleeper = system.New()
	}
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lister{src: src, cfg: cfg, sleeper: sleeper, events: events, logger: logger}
}

// ListAllPages lists q from startPage onwards and returns seed followed by the newly
// listed items. Listing stops at an empty page or one shorter than the page size.
func (l *Lister) ListAllPages(ctx context.Context, q Query, startPage int, seed []Item, onPage PageFunc) ([]Item, error) {
	if q.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be > 0")
	}
	items := append([]Item(nil), seed...)
	page := max(1, startPage)
	for {
		rows, err := l.pageWithRetry(ctx, q, q.PageSize, page, progress.StageListingRetry)
		if err != nil {
			return nil, fmt.Errorf("list %s page %d: %w", q.Dataset, page, err)
		}
		if len(rows) == 0 {
			break
		}
		for i := range rows {
			rows[i].Page = page
		}
		items = append(items, rows...)
		if onPage != nil {
			if err := onPage(page, rows, len(items)); err != nil {
				return nil, fmt.Errorf("record %s page %d: %w", q.Dataset, page, err)
			}
		}
		l.events.Emit(progress.Event{
			Stage:   progress.StageListingProgress,
			Dataset: q.Dataset,
			Page:    page,
			Count:   int64(len(rows)),
			Fields:  map[string]string{"docs_collected": strconv.Itoa(len(items))},
		})
		if len(rows) < q.PageSize {
			break
		}
		page++
	}
	return items, nil
}

// HasItems probes whether anything was posted in [from, to] using a one-item page.
func (l *Lister) HasItems(ctx context.Context, dataset, archiveURL string, from, to time.Time) (bool, error) {
	q := Query{Dataset: dataset, ArchiveURL: archiveURL, From: from, To: to, PageSize: 1}
	rows, err := l.pageWithRetry(ctx, q, 1, 1, progress.StageProbeRetry)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (l *Lister) pageWithRetry(ctx context.Context, q Query, size, page int, retryStage progress.Stage) ([]Item, error) {
	attempt := 0
	for {
		rows, err := l.src.ListPage(ctx, q.ArchiveURL, q.From, q.To, size, page)
		if err == nil {
			return rows, nil
		}
		if HTTPStatus(err) != http.StatusTooManyRequests || attempt >= l.cfg.ListingRetries {
			return nil, err
		}
		attempt++
		var retryAfter time.Duration
		if se, ok := asStatusError(err); ok {
			retryAfter = se.RetryAfter
		}
		cooldown := retry.Policy{BaseDelay: l.cfg.RetryBase}.Exponential(attempt, retryAfter)
		metrics.ObserveRetry("listing")
		l.events.Emit(progress.Event{
			Stage:   retryStage,
			Dataset: q.Dataset,
			Page:    page,
			Status:  "http_429",
			Fields: map[string]string{
				"attempt":       fmt.Sprintf("%d/%d", attempt, l.cfg.ListingRetries),
				"sleep_seconds": strconv.FormatFloat(cooldown.Seconds(), 'f', 1, 64),
			},
		})
		if err := l.sleeper.Sleep(ctx, cooldown); err != nil {
			return nil, err
		}
	}
}
