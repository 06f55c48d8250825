package backfill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/clock/system"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/fetch"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/payload"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/sortengine"
)

// Mode selects how a period file is repaired.
type Mode string

// Repair modes.
const (
	// ModeAddMissing fills blank posting times in place.
	ModeAddMissing Mode = "add-missing"
	// ModeRebuild regenerates the file from its stored sources.
	ModeRebuild Mode = "rebuild"
)

// Month statuses.
const (
	StatusMissingDocIDs     = "missing_docids"
	StatusNoHeader          = "skipped_no_header"
	StatusNoRows            = "skipped_no_rows"
	StatusMissingSources    = "skipped_missing_sources"
	StatusPlanned           = "planned"
	StatusPlannedNoMissing  = "planned_no_missing_rows"
	StatusUnchanged         = "unchanged"
	StatusUpdated           = "updated"
	StatusUpdatedSortedOnly = "updated_sorted_only"
	StatusRebuilt           = "rebuilt"
)

const (
	rowCountMismatchSuffix   = "_row_count_mismatch"
	cleanupPlannedArchive    = "planned_archive"
	cleanupPlannedDelete     = "planned_delete"
	cleanupArchived          = "archived"
	cleanupDeleted           = "deleted"
	cleanupSkippedMalformed  = "skipped_malformed_post_datetime"
	cleanupSkippedIncomplete = "skipped_incomplete_coverage"
	defaultPageSize          = 1000
)

// ErrAPIUnavailable is returned when a run needs the remote API but no client was wired.
var ErrAPIUnavailable = errors.New("backfill needs the archive API but no client is configured")

// BulkFetcher downloads documents through the bulk endpoint; fetch.Fetcher satisfies it.
type BulkFetcher interface {
	FetchBulk(ctx context.Context, datasetID string, ids []string, chunkSize int, strict bool) (map[string][]byte, int, error)
}

// Clock stamps sort cache records.
type Clock interface {
	Now() time.Time
}

// Options configure a repair run.
type Options struct {
	OutDir string
	Mode   Mode
	// Order is ascending, descending or none.
	Order string
	// From and To restrict the months processed; both zero means every month.
	From, To time.Time
	// Overwrite clears existing posting times before refilling (add-missing only).
	Overwrite bool
	// DownloadMissing bulk-fetches sources that are not stored locally.
	DownloadMissing bool
	// FetchMissing lists the archive for documents without a known posting time.
	FetchMissing  bool
	ManifestPath  string
	BaseURL       string
	PageSize      int
	BulkChunkSize int
	Verify        bool
	// DeleteRedundant removes sources of fully covered months.
	DeleteRedundant bool
	// ArchiveDir moves sources of fully covered months there instead.
	ArchiveDir string
	DryRun     bool
}

// Validate checks option combinations.
func (o Options) Validate() error {
	if o.OutDir == "" {
		return errors.New("output directory is required")
	}
	switch o.Mode {
	case ModeAddMissing, ModeRebuild:
	default:
		return fmt.Errorf("unknown backfill mode %q", o.Mode)
	}
	switch o.Order {
	case string(sortengine.Ascending), string(sortengine.Descending), OrderNone:
	default:
		return fmt.Errorf("unknown backfill order %q", o.Order)
	}
	if o.From.IsZero() != o.To.IsZero() {
		return errors.New("from and to must be given together")
	}
	if !o.From.IsZero() && o.From.After(o.To) {
		return errors.New("from must be on or before to")
	}
	if o.DeleteRedundant && o.ArchiveDir != "" {
		return errors.New("delete and archive of redundant sources are exclusive")
	}
	if o.BulkChunkSize < 0 || o.BulkChunkSize > fetch.MaxRepairChunk {
		return fmt.Errorf("bulk chunk size must be between 1 and %d", fetch.MaxRepairChunk)
	}
	return nil
}

// Deps are the collaborators of a Reconciler. Bulk and Pager may be nil when the
// options never reach the API.
type Deps struct {
	Cache  CachedItems
	Bulk   BulkFetcher
	Pager  Pager
	Events progress.Emitter
	Clock  Clock
	Logger *zap.Logger
}

// Reconciler repairs period files.
type Reconciler struct {
	opts   Options
	deps   Deps
	logger *zap.Logger
}

// New validates opts and wires a Reconciler.
func New(opts Options, deps Deps) (*Reconciler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.BulkChunkSize == 0 {
		opts.BulkChunkSize = fetch.MaxRepairChunk
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Reconciler{opts: opts, deps: deps, logger: deps.Logger}, nil
}

// MonthResult describes the repair of one period file.
type MonthResult struct {
	File              string
	Docs              int
	Rows              int
	Filled            int
	Downloaded        int
	MissingSources    int
	MissingPostedDocs int
	Status            string
}

// Changed reports whether the file was rewritten.
func (m MonthResult) Changed() bool {
	return m.Status == StatusRebuilt || strings.HasPrefix(m.Status, StatusUpdated)
}

// Summary aggregates one dataset.
type Summary struct {
	Dataset           string
	MonthlyFiles      int
	MonthlyRebuilt    int
	DocsTotal         int
	DocsWithPosted    int
	DocsMissingPosted int
	Downloaded        int
	MissingSources    int
	RowsWritten       int
	CellsFilled       int
	SourcesDeleted    int
	SourcesArchived   int
	VerifiedMonths    int
	VerifiedRows      int
	VerifiedFilled    int
	VerifiedMissing   int
}

// NormalizeDatasets upper-cases ids and drops blanks and repeats.
func NormalizeDatasets(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Run repairs every period file of each dataset in turn.
func (r *Reconciler) Run(ctx context.Context, datasets []string) ([]Summary, error) {
	var summaries []Summary
	for _, dataset := range NormalizeDatasets(datasets) {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		summary, ok, err := r.runDataset(ctx, dataset)
		if ok {
			summaries = append(summaries, summary)
		}
		if err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

func (r *Reconciler) periodFiles(dataset string) ([]string, error) {
	files, err := consolidate.ListPeriodFiles(r.opts.OutDir, dataset)
	if err != nil {
		return nil, err
	}
	if r.opts.From.IsZero() {
		return files, nil
	}
	root := filepath.Join(r.opts.OutDir, dataset)
	out := files[:0]
	for _, f := range files {
		if consolidate.InWindow(f, root, r.opts.From, r.opts.To) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *Reconciler) runDataset(ctx context.Context, dataset string) (Summary, bool, error) {
	root := filepath.Join(r.opts.OutDir, dataset)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		r.deps.Events.Emit(progress.Event{Stage: progress.StageDatasetSkip, Dataset: dataset, Status: "missing_dir"})
		return Summary{}, false, nil
	}
	files, err := r.periodFiles(dataset)
	if err != nil {
		return Summary{}, false, err
	}
	summary := Summary{Dataset: dataset, MonthlyFiles: len(files)}
	if len(files) == 0 {
		r.deps.Events.Emit(progress.Event{Stage: progress.StageDatasetSkip, Dataset: dataset, Status: "no_monthly_files"})
		return summary, true, nil
	}

	meta, err := r.metadata(ctx, dataset, files)
	if err != nil {
		return summary, true, err
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return summary, true, err
		}
		var res MonthResult
		if r.opts.Mode == ModeRebuild {
			res, err = r.Rebuild(ctx, dataset, file, meta)
		} else {
			res, err = r.AddMissing(ctx, dataset, file, meta)
		}
		if err != nil {
			return summary, true, fmt.Errorf("repair %s: %w", file, err)
		}
		if res.Docs == 0 {
			r.logger.Info("period file skipped", zap.String("file", file), zap.String("reason", StatusMissingDocIDs))
			continue
		}
		accumulate(&summary, res)
		r.emitMonth(dataset, res)

		if r.opts.Verify || r.opts.DeleteRedundant || r.opts.ArchiveDir != "" {
			if err := r.verifyAndClean(dataset, file, &summary); err != nil {
				return summary, true, err
			}
		}
	}
	r.deps.Events.Emit(progress.Event{
		Stage:   progress.StageBackfillDone,
		Dataset: dataset,
		Count:   int64(summary.CellsFilled),
		Fields:  summaryFields(summary),
	})
	return summary, true, nil
}

func accumulate(s *Summary, res MonthResult) {
	if res.Changed() {
		s.MonthlyRebuilt++
		s.RowsWritten += res.Rows
		s.CellsFilled += res.Filled
	}
	s.DocsTotal += res.Docs
	s.Downloaded += res.Downloaded
	s.MissingSources += res.MissingSources
	s.DocsMissingPosted += res.MissingPostedDocs
	s.DocsWithPosted += max(0, res.Docs-res.MissingPostedDocs-res.MissingSources)
}

func (r *Reconciler) metadata(ctx context.Context, dataset string, files []string) (Metadata, error) {
	ids := make(map[string]struct{})
	for _, f := range files {
		list, err := readDocIDs(f)
		if err != nil {
			return Metadata{}, err
		}
		for _, id := range list {
			ids[id] = struct{}{}
		}
	}
	meta, err := FromCache(r.deps.Cache, dataset, ids)
	if err != nil {
		return meta, err
	}
	manifest, err := FromManifest(r.opts.ManifestPath, dataset)
	if err != nil {
		return meta, err
	}
	for id, posted := range manifest {
		if _, ok := ids[id]; ok {
			meta.add(id, posted)
		}
	}
	missing := meta.Missing(ids)
	r.logger.Info("backfill plan",
		zap.String("dataset", dataset), zap.Int("monthly_files", len(files)),
		zap.Int("doc_ids", len(ids)), zap.Int("post_datetime_mapped", len(meta.Posted)),
		zap.Int("missing_post_datetime_mapping", missing))

	if r.opts.DownloadMissing && r.deps.Bulk == nil {
		return meta, ErrAPIUnavailable
	}
	if !r.opts.FetchMissing || missing == 0 {
		return meta, nil
	}
	if r.deps.Pager == nil {
		return meta, ErrAPIUnavailable
	}
	from, to, ok := monthsSpan(files, filepath.Join(r.opts.OutDir, dataset))
	if !ok {
		return meta, nil
	}
	fetched, err := FromAPI(ctx, r.deps.Pager, dataset, archive.DefaultArchiveURL(r.opts.BaseURL, dataset), from, to, r.opts.PageSize)
	if err != nil {
		return meta, fmt.Errorf("fetch posting times: %w", err)
	}
	for id, posted := range fetched {
		meta.add(id, posted)
	}
	r.logger.Info("backfill metadata fetched",
		zap.String("dataset", dataset), zap.Int("fetched", len(fetched)),
		zap.Int("missing_post_datetime", meta.Missing(ids)))
	return meta, nil
}

// monthsSpan is the first day of the earliest month through the last day of the latest.
func monthsSpan(files []string, root string) (time.Time, time.Time, bool) {
	var from, to time.Time
	for _, f := range files {
		month, ok := consolidate.PeriodMonth(f, root)
		if !ok {
			continue
		}
		end := month.AddDate(0, 1, -1)
		if from.IsZero() || month.Before(from) {
			from = month
		}
		if to.IsZero() || end.After(to) {
			to = end
		}
	}
	return from, to, !from.IsZero()
}

// sources resolves payload text for ids: stored files first, then one lenient bulk
// fetch for whatever is missing. Returned texts are keyed by doc id.
func (r *Reconciler) sources(ctx context.Context, dataset, monthDir string, ids []string) (map[string]string, map[string]string, int, error) {
	local := make(map[string]string, len(ids))
	var missing []string
	for _, id := range ids {
		if path := FirstSource(monthDir, id); path != "" {
			local[id] = path
			continue
		}
		missing = append(missing, id)
	}
	fetched := map[string]string{}
	if len(missing) == 0 || !r.opts.DownloadMissing || r.opts.DryRun || r.deps.Bulk == nil {
		return local, fetched, 0, nil
	}
	bodies, n, err := r.deps.Bulk.FetchBulk(ctx, dataset, missing, r.opts.BulkChunkSize, false)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("bulk fetch sources: %w", err)
	}
	for id, body := range bodies {
		text, err := payload.CSVText(body)
		if err != nil {
			r.deps.Events.Emit(progress.Event{
				Stage: progress.StageBulkSourceWarn, Dataset: dataset, DocID: id, Note: err.Error(),
			})
			continue
		}
		fetched[id] = text
	}
	return local, fetched, n, nil
}

func (r *Reconciler) sourceText(id string, local, fetched map[string]string) (string, bool) {
	if path, ok := local[id]; ok {
		text, err := readSource(path)
		if err != nil {
			r.logger.Warn("source unreadable", zap.String("path", path), zap.Error(err))
			return "", false
		}
		return text, true
	}
	text, ok := fetched[id]
	return text, ok
}

// AddMissing fills blank posting times in periodFile. Files still in marker order
// (sort cache says skipped, row counts agree, no posting column yet) are filled by
// position; everything else is matched by row fingerprint.
func (r *Reconciler) AddMissing(ctx context.Context, dataset, periodFile string, meta Metadata) (MonthResult, error) {
	res := MonthResult{File: periodFile}
	ids, err := readDocIDs(periodFile)
	if err != nil {
		return res, err
	}
	if len(ids) == 0 {
		res.Status = StatusMissingDocIDs
		return res, nil
	}
	res.Docs = len(ids)
	table, err := consolidate.ReadTable(periodFile)
	if err != nil {
		return res, err
	}
	if len(table.Header) == 0 {
		res.Status = StatusNoHeader
		return res, nil
	}
	if len(table.Rows) == 0 {
		res.Status = StatusNoRows
		return res, nil
	}

	postCol := consolidate.DetectPostingColumn(table.Header)
	if postCol >= 0 && !r.opts.Overwrite && blankCells(table, postCol) == 0 {
		changed := SortByPosting(&table, r.opts.Order)
		res.Rows = len(table.Rows)
		switch {
		case r.opts.DryRun:
			res.Status = StatusPlannedNoMissing
		case !changed:
			res.Status = StatusUnchanged
			r.writeSortCache(periodFile)
		default:
			if err := consolidate.WriteTable(periodFile, table); err != nil {
				return res, err
			}
			r.writeSortCache(periodFile)
			res.Status = StatusUpdatedSortedOnly
		}
		return res, nil
	}

	local, fetched, downloaded, err := r.sources(ctx, dataset, filepath.Dir(periodFile), ids)
	if err != nil {
		return res, err
	}
	res.Downloaded = downloaded
	plan := make([]PlanEntry, 0, len(ids))
	for _, id := range ids {
		text, ok := r.sourceText(id, local, fetched)
		rows := CountRows(text)
		if !ok || rows == 0 {
			res.MissingSources++
			continue
		}
		source, err := consolidate.ParseCSV(text)
		if err != nil {
			r.logger.Warn("source not parseable", zap.String("doc_id", id), zap.Error(err))
			res.MissingSources++
			continue
		}
		posted := meta.Posted[id]
		if posted == "" {
			res.MissingPostedDocs++
		}
		plan = append(plan, PlanEntry{DocID: id, Rows: rows, PostDatetime: posted, Source: source})
	}

	hadColumn := postCol >= 0
	if !hadColumn {
		table.Header = append([]string{consolidate.PostingColumn}, table.Header...)
		for i, row := range table.Rows {
			table.Rows[i] = append([]string{""}, row...)
		}
		postCol = 0
	}
	if r.opts.Overwrite {
		for i, row := range table.Rows {
			table.Rows[i] = setCell(row, postCol, "")
		}
	}

	expected := 0
	for _, entry := range plan {
		expected += entry.Rows
	}
	mismatch := expected != len(table.Rows)
	class := sortengine.Classification(periodFile)

	if mismatch || r.opts.Overwrite || hadColumn || class != sortengine.ClassSkipped {
		postName := table.Header[postCol]
		keys := make([]string, 0, len(table.Header)-1)
		for _, name := range table.Header {
			if name != postName {
				keys = append(keys, name)
			}
		}
		fill := FillByFingerprint(&table, postCol, keys, plan)
		r.reportCollisions(dataset, periodFile, fill)
		res.Filled = fill.Filled
	} else {
		res.Filled = FillSequential(&table, postCol, plan)
	}

	changed := SortByPosting(&table, r.opts.Order)
	res.Rows = len(table.Rows)
	suffix := ""
	if mismatch {
		suffix = rowCountMismatchSuffix
	}
	if r.opts.DryRun {
		res.Status = StatusPlanned + suffix
		return res, nil
	}
	if hadColumn && res.Filled == 0 && !changed {
		r.writeSortCache(periodFile)
		res.Status = StatusUnchanged + suffix
		return res, nil
	}
	if err := consolidate.WriteTable(periodFile, table); err != nil {
		return res, err
	}
	r.writeSortCache(periodFile)
	res.Status = StatusUpdated + suffix
	return res, nil
}

// Rebuild regenerates periodFile from the stored sources of every merged document.
// The file is left untouched unless every source is available.
func (r *Reconciler) Rebuild(ctx context.Context, dataset, periodFile string, meta Metadata) (MonthResult, error) {
	res := MonthResult{File: periodFile}
	ids, err := readDocIDs(periodFile)
	if err != nil {
		return res, err
	}
	if len(ids) == 0 {
		res.Status = StatusMissingDocIDs
		return res, nil
	}
	res.Docs = len(ids)
	local, fetched, downloaded, err := r.sources(ctx, dataset, filepath.Dir(periodFile), ids)
	if err != nil {
		return res, err
	}
	res.Downloaded = downloaded

	header := []string{consolidate.PostingColumn}
	known := map[string]struct{}{consolidate.PostingColumn: {}}
	type sourceRows struct {
		cols   map[string]int
		rows   [][]string
		posted string
	}
	var collected []sourceRows
	for _, id := range ids {
		text, ok := r.sourceText(id, local, fetched)
		if !ok {
			res.MissingSources++
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		source, err := consolidate.ParseCSV(text)
		if err != nil || len(source.Header) == 0 {
			continue
		}
		for _, name := range source.Header {
			name = strings.TrimSpace(name)
			if name == "" || consolidate.DetectPostingColumn([]string{name}) == 0 {
				continue
			}
			if _, ok := known[name]; !ok {
				known[name] = struct{}{}
				header = append(header, name)
			}
		}
		posted := meta.Posted[id]
		if posted == "" {
			res.MissingPostedDocs++
		}
		collected = append(collected, sourceRows{cols: sourceColumns(source.Header), rows: source.Rows, posted: posted})
	}

	table := consolidate.Table{Header: header}
	for _, src := range collected {
		for _, row := range src.rows {
			out := make([]string, len(header))
			out[0] = src.posted
			for c := 1; c < len(header); c++ {
				if pos, ok := src.cols[header[c]]; ok {
					out[c] = consolidate.Value(row, pos)
				}
			}
			table.Rows = append(table.Rows, out)
		}
	}
	SortByPosting(&table, r.opts.Order)
	res.Rows = len(table.Rows)

	switch {
	case res.MissingSources > 0:
		res.Status = StatusMissingSources
		return res, nil
	case len(table.Rows) == 0:
		res.Status = StatusNoRows
		return res, nil
	case r.opts.DryRun:
		res.Status = StatusPlanned
		return res, nil
	}
	if err := consolidate.WriteTable(periodFile, table); err != nil {
		return res, err
	}
	r.writeSortCache(periodFile)
	res.Status = StatusRebuilt
	return res, nil
}

func blankCells(t consolidate.Table, col int) int {
	n := 0
	for _, row := range t.Rows {
		if strings.TrimSpace(consolidate.Value(row, col)) == "" {
			n++
		}
	}
	return n
}

// writeSortCache records the file as sorted by posting time, or as skipped when
// no order was applied.
func (r *Reconciler) writeSortCache(periodFile string) {
	class := sortengine.ClassSkipped
	if r.opts.Order != OrderNone {
		class = sortengine.ClassSorted
	}
	err := sortengine.WriteCache(periodFile, sortengine.Order(r.opts.Order), sortengine.StrategyPostDatetime, class, r.deps.Clock.Now())
	if err != nil {
		r.logger.Warn("sort cache not written", zap.String("file", periodFile), zap.Error(err))
	}
}

func (r *Reconciler) reportCollisions(dataset, periodFile string, fill FillResult) {
	if fill.Collisions > 0 {
		stage := progress.StageCollisionWarn
		if r.opts.Overwrite {
			stage = progress.StageCollisionError
		}
		r.deps.Events.Emit(progress.Event{
			Stage:   stage,
			Dataset: dataset,
			Count:   int64(fill.Collisions),
			Fields: map[string]string{
				"file":                   periodFile,
				"colliding_fingerprints": strconv.Itoa(fill.Collisions),
				"total_fingerprints":     strconv.Itoa(fill.Fingerprints),
				"overwrite_mode":         strconv.FormatBool(r.opts.Overwrite),
			},
		})
	}
	if fill.AmbiguousRows > 0 {
		r.deps.Events.Emit(progress.Event{
			Stage:   progress.StageAmbiguousSkipped,
			Dataset: dataset,
			Count:   int64(fill.AmbiguousRows),
			Fields:  map[string]string{"file": periodFile, "ambiguous_rows": strconv.Itoa(fill.AmbiguousRows)},
		})
	}
}

func (r *Reconciler) emitMonth(dataset string, res MonthResult) {
	r.deps.Events.Emit(progress.Event{
		Stage:   progress.StageBackfillMonth,
		Dataset: dataset,
		Count:   int64(res.Filled),
		Status:  res.Status,
		Fields: map[string]string{
			"file":                  res.File,
			"docs":                  strconv.Itoa(res.Docs),
			"rows":                  strconv.Itoa(res.Rows),
			"downloaded_sources":    strconv.Itoa(res.Downloaded),
			"missing_sources":       strconv.Itoa(res.MissingSources),
			"missing_post_datetime": strconv.Itoa(res.MissingPostedDocs),
			"cells_filled":          strconv.Itoa(res.Filled),
			"sort_cache":            sortengine.Classification(res.File),
		},
	})
}

func (r *Reconciler) verifyAndClean(dataset, periodFile string, s *Summary) error {
	cov, err := Measure(periodFile)
	if err != nil {
		return err
	}
	s.VerifiedMonths++
	s.VerifiedRows += cov.Rows
	s.VerifiedFilled += cov.Filled
	s.VerifiedMissing += cov.Missing()
	if r.opts.Verify {
		r.deps.Events.Emit(progress.Event{
			Stage:   progress.StageBackfillVerify,
			Dataset: dataset,
			Count:   int64(cov.Missing()),
			Fields: map[string]string{
				"file":             periodFile,
				"has_postDateTime": strconv.FormatBool(cov.HasColumn),
				"filled_rows":      strconv.Itoa(cov.Filled),
				"total_rows":       strconv.Itoa(cov.Rows),
				"missing_rows":     strconv.Itoa(cov.Missing()),
				"malformed_rows":   strconv.Itoa(cov.Malformed),
			},
		})
	}
	if !r.opts.DeleteRedundant && r.opts.ArchiveDir == "" {
		return nil
	}

	var (
		status string
		moved  int
	)
	switch {
	case cov.HasColumn && cov.Missing() == 0 && cov.Malformed > 0:
		status = cleanupSkippedMalformed
	case !cov.Complete():
		status = cleanupSkippedIncomplete
	case r.opts.DryRun && r.opts.ArchiveDir != "":
		status = cleanupPlannedArchive
	case r.opts.DryRun:
		status = cleanupPlannedDelete
	case r.opts.ArchiveDir != "":
		if moved, err = ArchiveSources(periodFile, dataset, r.opts.ArchiveDir); err != nil {
			return err
		}
		s.SourcesArchived += moved
		status = cleanupArchived
	default:
		if moved, err = DeleteSources(periodFile); err != nil {
			return err
		}
		s.SourcesDeleted += moved
		status = cleanupDeleted
	}
	r.deps.Events.Emit(progress.Event{
		Stage:   progress.StageBackfillCleanup,
		Dataset: dataset,
		Count:   int64(moved),
		Status:  status,
		Fields:  map[string]string{"file": periodFile, "malformed_rows": strconv.Itoa(cov.Malformed)},
	})
	return nil
}

func summaryFields(s Summary) map[string]string {
	return map[string]string{
		"monthly_files":              strconv.Itoa(s.MonthlyFiles),
		"monthly_rebuilt":            strconv.Itoa(s.MonthlyRebuilt),
		"docs_total":                 strconv.Itoa(s.DocsTotal),
		"docs_with_post_datetime":    strconv.Itoa(s.DocsWithPosted),
		"docs_missing_post_datetime": strconv.Itoa(s.DocsMissingPosted),
		"downloaded_sources":         strconv.Itoa(s.Downloaded),
		"missing_sources":            strconv.Itoa(s.MissingSources),
		"rows_written":               strconv.Itoa(s.RowsWritten),
		"cells_filled":               strconv.Itoa(s.CellsFilled),
		"sources_deleted":            strconv.Itoa(s.SourcesDeleted),
		"sources_archived":           strconv.Itoa(s.SourcesArchived),
		"verified_months":            strconv.Itoa(s.VerifiedMonths),
		"rows_with_post_datetime":    strconv.Itoa(s.VerifiedFilled),
		"rows_missing_post_datetime": strconv.Itoa(s.VerifiedMissing),
		"rows_total_checked":         strconv.Itoa(s.VerifiedRows),
	}
}
