package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/checkpoint"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/failures"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/fetch"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/payload"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/sortengine"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/local"
)

// datasetRun holds the state of one dataset pass.
type datasetRun struct {
	o          *Orchestrator
	id         string
	title      string
	archiveURL string
	from       time.Time
	record     *checkpoint.Record
	touched    map[string]struct{}
	bulk       map[string]struct{}
}

func (o *Orchestrator) runDataset(ctx context.Context, id string, product archive.Product) error {
	d := &datasetRun{
		o:          o,
		id:         id,
		title:      product.Title,
		archiveURL: product.ArchiveURL(o.opts.BaseURL),
		from:       o.opts.From,
		touched:    map[string]struct{}{},
		bulk:       map[string]struct{}{},
	}
	o.dataset(id, func(s *DatasetSummary) {
		s.Title = d.title
		s.WindowTo = o.opts.To.Format(time.DateOnly)
		s.ResumeStartPage = 1
	})
	o.deps.Events.Emit(progress.Event{
		Stage:   progress.StageDatasetStart,
		Dataset: id,
		Fields:  map[string]string{"title": d.title, "archive": d.archiveURL},
	})
	started := o.deps.Clock.Now()

	if o.opts.DetectEarliest {
		done, err := d.detectEarliest(ctx)
		if err != nil || done {
			return err
		}
	}
	o.dataset(id, func(s *DatasetSummary) { s.WindowFrom = d.from.Format(time.DateOnly) })

	items, done, err := d.list(ctx)
	if err != nil || done {
		return err
	}
	items, err = archive.OrderItems(items, o.opts.Order)
	if err != nil {
		return err
	}
	items = archive.Cap(items, o.opts.MaxDocs)

	start := 0
	if o.opts.Resume {
		start = min(max(d.record.NextDocIndex, 0), len(items))
	}
	o.dataset(id, func(s *DatasetSummary) { s.ResumeStartIndex = start })
	o.deps.Logger.Info("document plan",
		zap.String("dataset", id), zap.Int("listed", len(items)),
		zap.Int("resume_index", start), zap.Int("remaining", len(items)-start))

	if err := d.bulkPhase(ctx, items, start); err != nil {
		return err
	}
	if err := d.itemLoop(ctx, items, start); err != nil {
		return err
	}
	d.sortPhase(ctx)
	d.mirrorPhase(ctx)
	return d.finalize(started)
}

// detectEarliest narrows the window start to the first day with documents.
// done is true when the dataset must be skipped.
func (d *datasetRun) detectEarliest(ctx context.Context) (bool, error) {
	o := d.o
	found, err := o.deps.Lister.FindEarliest(ctx, d.id, d.archiveURL, o.opts.From, o.opts.To)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		o.fail(ctx, failures.Entry{Dataset: d.id, Stage: failures.StageEarliest, Error: err.Error()})
		o.dataset(d.id, func(s *DatasetSummary) { s.Status = StatusEarliestDetectionFailed })
		o.deps.Logger.Warn("earliest date detection failed", zap.String("dataset", d.id), zap.Error(err))
		return true, nil
	}
	if !found.Found {
		o.dataset(d.id, func(s *DatasetSummary) { s.Status = StatusNoDocsInWindow })
		o.deps.Events.Emit(progress.Event{Stage: progress.StageDatasetSkip, Dataset: d.id, Status: StatusNoDocsInWindow})
		return true, nil
	}
	d.from = found.Date
	o.deps.Events.Emit(progress.Event{
		Stage:   progress.StageEarliestDetected,
		Dataset: d.id,
		Status:  string(found.Granularity),
		Fields:  map[string]string{"from_date": found.Date.Format(time.DateOnly)},
	})
	return false, nil
}

func (d *datasetRun) save() error {
	if !d.o.opts.Resume {
		return nil
	}
	if err := d.o.deps.Checkpoints.Save(d.record); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", d.id, err)
	}
	return nil
}

// list returns the dataset's listed items, reusing or resuming from the checkpoint.
// done is true when the dataset has nothing further to do.
func (d *datasetRun) list(ctx context.Context) ([]archive.Item, bool, error) {
	o := d.o
	window := checkpoint.NewWindow(d.id, d.from, o.opts.To, o.opts.PageSize, o.opts.Order, o.opts.MaxDocs, d.archiveURL)
	d.record = checkpoint.NewRecord(window)
	var seed []archive.Item
	startPage := 1

	if o.opts.Resume {
		cp := o.deps.Checkpoints
		loaded, err := cp.Load(window)
		switch {
		case err == nil:
			d.record = loaded
			items, lastPage, cerr := cp.LoadCachedItems(d.id)
			if cerr != nil {
				o.deps.Logger.Warn("item cache unreadable", zap.String("dataset", d.id), zap.Error(cerr))
				items, lastPage = nil, 0
			}
			seed = items
			d.record.LastListedPage = lastPage
			d.record.TotalListedDocs = len(seed)
			if lastPage == 0 {
				d.record.ListingComplete = false
			}
			startPage = lastPage + 1
			o.dataset(d.id, func(s *DatasetSummary) { s.ResumeStartPage = startPage })
			o.deps.Events.Emit(progress.Event{
				Stage:   progress.StageResume,
				Dataset: d.id,
				Page:    lastPage,
				Count:   int64(len(seed)),
				Status:  strconv.FormatBool(d.record.ListingComplete),
			})
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			if derr := cp.DiscardCache(d.id); derr != nil {
				return nil, true, fmt.Errorf("discard item cache %s: %w", d.id, derr)
			}
		default:
			return nil, true, fmt.Errorf("load checkpoint %s: %w", d.id, err)
		}
		d.record.Status = checkpoint.StatusRunning
		if err := d.save(); err != nil {
			return nil, true, err
		}
	}

	var items []archive.Item
	if o.opts.Resume && d.record.ListingComplete {
		items = seed
	} else {
		var onPage archive.PageFunc
		if o.opts.Resume {
			onPage = func(page int, listed []archive.Item, total int) error {
				if err := o.deps.Checkpoints.AppendListedPage(d.id, page, listed); err != nil {
					return err
				}
				d.record.LastListedPage = page
				d.record.TotalListedDocs = total
				d.record.ListingComplete = false
				d.record.Status = checkpoint.StatusRunning
				return d.save()
			}
		}
		listed, err := o.deps.Lister.ListAllPages(ctx, archive.Query{
			Dataset:    d.id,
			ArchiveURL: d.archiveURL,
			From:       d.from,
			To:         o.opts.To,
			PageSize:   o.opts.PageSize,
		}, startPage, seed, onPage)
		if err != nil {
			if ctx.Err() != nil {
				return nil, true, ctx.Err()
			}
			o.fail(ctx, failures.Entry{Dataset: d.id, Stage: failures.StageListing, Page: d.record.LastListedPage, Error: err.Error()})
			o.dataset(d.id, func(s *DatasetSummary) { s.Status = StatusListingFailed })
			o.deps.Logger.Warn("archive listing failed", zap.String("dataset", d.id), zap.Error(err))
			d.record.Status = checkpoint.StatusFailed
			d.record.Failure = err.Error()
			return nil, true, d.save()
		}
		items = listed
		d.record.ListingComplete = true
		d.record.TotalListedDocs = len(items)
		d.record.Status = checkpoint.StatusRunning
		if err := d.save(); err != nil {
			return nil, true, err
		}
	}

	o.dataset(d.id, func(s *DatasetSummary) { s.DocsListed = len(items) })
	if len(items) == 0 {
		o.dataset(d.id, func(s *DatasetSummary) { s.Status = StatusNoDocsInWindow })
		o.deps.Events.Emit(progress.Event{Stage: progress.StageDatasetSkip, Dataset: d.id, Status: StatusNoDocsInWindow})
		d.record.Status = checkpoint.StatusCompleted
		return nil, true, d.save()
	}
	return items, false, nil
}

// fileMatches reports whether path exists with the advertised size (any size when unknown).
func fileMatches(path string, want int64) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return want < 0 || info.Size() == want
}

func (d *datasetRun) merged(item archive.Item, id string) (bool, error) {
	if !d.o.opts.Consolidate {
		return false, nil
	}
	return d.o.deps.Merger.IsAlreadyMerged(consolidate.PeriodPath(d.o.opts.OutDir, d.id, item), id)
}

// bulkPhase pre-fetches missing documents in strict bulk chunks. The first chunk
// error disables bulk for the rest of the dataset.
func (d *datasetRun) bulkPhase(ctx context.Context, items []archive.Item, start int) error {
	o := d.o
	if !o.opts.Bulk || o.opts.DryRun {
		reason := "disabled"
		if o.opts.DryRun {
			reason = "dry_run"
		}
		o.deps.Events.Emit(progress.Event{Stage: progress.StageBulkDisabled, Dataset: d.id, Status: reason})
		return nil
	}
	size := o.opts.BulkChunkSize
	total := (len(items) - start + size - 1) / size
	for n, lo := 1, start; lo < len(items); n, lo = n+1, lo+size {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := items[lo:min(lo+size, len(items))]
		label := fmt.Sprintf("%d/%d", n, total)
		began := o.deps.Clock.Now()
		var ids []string
		missingID := 0
		for _, item := range chunk {
			id := item.DocID()
			if id == "" {
				missingID++
				continue
			}
			if ok, err := d.merged(item, id); err == nil && ok {
				continue
			}
			if !fileMatches(consolidate.SourcePath(o.opts.OutDir, d.id, item), item.ExpectedSize()) {
				ids = append(ids, id)
			}
		}
		if missingID > 0 {
			o.deps.Logger.Warn("bulk chunk has items without doc id",
				zap.String("dataset", d.id), zap.String("chunk", label), zap.Int("missing_doc_id", missingID))
		}
		if len(ids) == 0 {
			o.deps.Events.Emit(progress.Event{
				Stage: progress.StageBulkDone, Dataset: d.id, Status: "skipped",
				Dur: o.deps.Clock.Now().Sub(began), Fields: map[string]string{"chunk": label},
			})
			continue
		}

		o.deps.Events.Emit(progress.Event{
			Stage: progress.StageBulkRequest, Dataset: d.id, Count: int64(len(ids)),
			Fields: map[string]string{"chunk": label},
		})
		payloads, _, err := o.deps.Fetcher.FetchBulk(ctx, d.id, ids, len(ids), true)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.fail(ctx, failures.Entry{Dataset: d.id, Stage: failures.StageBulk, Page: chunk[0].Page, Error: err.Error()})
			o.dataset(d.id, func(s *DatasetSummary) { s.Status = checkpoint.StatusRunningWithFailures })
			o.deps.Events.Emit(progress.Event{
				Stage: progress.StageBulkDone, Dataset: d.id, Status: "error", Note: err.Error(),
				Dur: o.deps.Clock.Now().Sub(began), Fields: map[string]string{"chunk": label, "requested": strconv.Itoa(len(ids))},
			})
			o.deps.Events.Emit(progress.Event{
				Stage: progress.StageBulkDisabled, Dataset: d.id, Status: "error_fallback_to_per_doc",
				Fields: map[string]string{"chunk": label},
			})
			return nil
		}

		written := 0
		for _, item := range chunk {
			id := item.DocID()
			body, ok := payloads[id]
			if id == "" || !ok {
				continue
			}
			dest := consolidate.SourcePath(o.opts.OutDir, d.id, item)
			if err := local.WriteFileAtomic(dest, body); err != nil {
				o.fail(ctx, failures.Entry{Dataset: d.id, Stage: failures.StageBulkWrite, DocID: id, Page: item.Page, Error: err.Error()})
				o.dataset(d.id, func(s *DatasetSummary) { s.Status = checkpoint.StatusRunningWithFailures })
				continue
			}
			d.bulk[id] = struct{}{}
			written++
		}
		o.deps.Events.Emit(progress.Event{
			Stage: progress.StageBulkDone, Dataset: d.id, Status: "ok", Count: int64(written),
			Dur: o.deps.Clock.Now().Sub(began), Fields: map[string]string{"chunk": label, "requested": strconv.Itoa(len(ids))},
		})
	}
	return nil
}

func (d *datasetRun) takeBulk(id string) bool {
	if _, ok := d.bulk[id]; ok {
		delete(d.bulk, id)
		return true
	}
	return false
}

// checkpointItem advances the resume index past items[index].
func (d *datasetRun) checkpointItem(index int, id string, item archive.Item) error {
	d.record.MarkCompleted(index+1, id, item.PostDatetimeRaw(), item.Page)
	d.record.Status = checkpoint.StatusRunning
	o := d.o
	o.dataset(d.id, func(s *DatasetSummary) { s.DocsProcessed++ })
	return d.save()
}

func (d *datasetRun) itemLoop(ctx context.Context, items []archive.Item, start int) error {
	o := d.o
	for index := start; index < len(items); index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := items[index]
		id := item.DocID()
		if id == "" {
			o.update(func(r *Report) { r.Stats.SkippedMissingDocID++ })
			o.deps.Events.Emit(progress.Event{
				Stage: progress.StageDocSkipped, Dataset: d.id, Status: "missing_doc_id",
				Fields: map[string]string{"index": fmt.Sprintf("%d/%d", index+1, len(items))},
			})
			if err := d.checkpointItem(index, "", item); err != nil {
				return err
			}
			continue
		}
		began := o.deps.Clock.Now()
		dest := consolidate.SourcePath(o.opts.OutDir, d.id, item)
		periodFile := consolidate.PeriodPath(o.opts.OutDir, d.id, item)

		handled, err := d.skipIfDone(item, id, dest)
		if err == nil && handled {
			if err := d.checkpointItem(index, id, item); err != nil {
				return err
			}
			continue
		}
		if err == nil {
			var downloaded bool
			downloaded, err = d.process(ctx, item, id, dest, periodFile)
			if err == nil {
				o.guard.Success()
				if downloaded {
					o.update(func(r *Report) { r.Stats.Downloaded++ })
					o.dataset(d.id, func(s *DatasetSummary) { s.DocsDownloaded++ })
					o.deps.Events.Emit(progress.Event{
						Stage: progress.StageDocDownloaded, Dataset: d.id, DocID: id, Page: item.Page,
						Bytes: fileSize(dest, periodFile), Dur: o.deps.Clock.Now().Sub(began),
					})
				}
				if err := d.checkpointItem(index, id, item); err != nil {
					return err
				}
				if !o.opts.DryRun {
					d.recordManifest(item, id, dest, periodFile)
				}
				continue
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal := d.itemFailed(ctx, item, id, err); fatal != nil {
			return fatal
		}
	}
	return nil
}

// skipIfDone handles items already merged or already on disk. handled means the
// item needs no download.
func (d *datasetRun) skipIfDone(item archive.Item, id, dest string) (bool, error) {
	o := d.o
	merged, err := d.merged(item, id)
	if err != nil {
		return false, err
	}
	if merged {
		if o.opts.DeleteSource && !o.opts.DryRun {
			if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
				o.deps.Logger.Warn("delete merged source", zap.String("dataset", d.id), zap.String("doc_id", id), zap.Error(err))
			}
		}
		o.update(func(r *Report) { r.Stats.SkippedExisting++ })
		o.deps.Events.Emit(progress.Event{Stage: progress.StageDocSkipped, Dataset: d.id, DocID: id, Status: "already_merged"})
		return true, nil
	}
	if o.opts.Consolidate || !fileMatches(dest, item.ExpectedSize()) {
		return false, nil
	}
	if d.takeBulk(id) {
		o.update(func(r *Report) { r.Stats.Downloaded++ })
		o.dataset(d.id, func(s *DatasetSummary) { s.DocsDownloaded++ })
		if o.opts.ExtractZips {
			if err := payload.ExtractZip(dest); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	o.update(func(r *Report) { r.Stats.SkippedExisting++ })
	o.deps.Events.Emit(progress.Event{Stage: progress.StageDocSkipped, Dataset: d.id, DocID: id, Status: "exists"})
	return true, nil
}

// process downloads (unless a bulk payload or a matching file is already there),
// merges and cleans up one item. Dry runs only report what would happen.
func (d *datasetRun) process(ctx context.Context, item archive.Item, id, dest, periodFile string) (bool, error) {
	o := d.o
	exists := fileMatches(dest, item.ExpectedSize())
	if o.opts.DryRun {
		action := "download"
		if o.opts.Consolidate {
			action = "download_and_consolidate"
			if exists {
				action = "consolidate_existing"
			}
		}
		o.deps.Events.Emit(progress.Event{
			Stage: progress.StageDocSkipped, Dataset: d.id, DocID: id, Status: "dry_run",
			Fields: map[string]string{"action": action, "destination": dest},
		})
		return false, nil
	}

	downloaded := false
	switch {
	case d.takeBulk(id):
		downloaded = true
	case !(o.opts.Consolidate && exists):
		if err := o.deps.Fetcher.FetchOne(ctx, d.id, id, dest, item); err != nil {
			return false, err
		}
		downloaded = true
	}

	if !o.opts.Consolidate {
		if o.opts.ExtractZips {
			if err := payload.ExtractZip(dest); err != nil {
				return downloaded, err
			}
		}
		return downloaded, nil
	}
	rows, err := o.deps.Merger.MergeFile(periodFile, id, dest, item.PostDatetimeRaw())
	if err != nil {
		return downloaded, err
	}
	d.touched[periodFile] = struct{}{}
	if rows > 0 {
		o.update(func(r *Report) { r.Stats.ConsolidatedUpdates++ })
	}
	o.deps.Events.Emit(progress.Event{
		Stage: progress.StageMonthlyMerged, Dataset: d.id, DocID: id, Count: int64(rows),
		Fields: map[string]string{"file": periodFile},
	})
	if o.opts.DeleteSource {
		if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			return downloaded, fmt.Errorf("delete source: %w", err)
		}
	}
	return downloaded, nil
}

// itemFailed records a per-item failure. A non-nil return aborts the run.
func (d *datasetRun) itemFailed(ctx context.Context, item archive.Item, id string, err error) error {
	o := d.o
	o.fail(ctx, failures.Entry{Dataset: d.id, Stage: failures.StageDownload, DocID: id, Page: item.Page, Error: err.Error()})
	o.dataset(d.id, func(s *DatasetSummary) {
		s.DocsFailed++
		s.Status = checkpoint.StatusRunningWithFailures
	})
	o.deps.Events.Emit(progress.Event{Stage: progress.StageDocFailed, Dataset: d.id, DocID: id, Page: item.Page, Note: err.Error()})
	if o.opts.Resume {
		d.record.MarkFailed(id, err)
		if serr := d.save(); serr != nil {
			return serr
		}
	}
	if fetch.IsNameResolutionFailure(err) {
		o.deps.Events.Emit(progress.Event{
			Stage: progress.StageDNSCooldown, Dataset: d.id, DocID: id,
			Count: int64(o.guard.Consecutive() + 1), Dur: o.opts.DNSCooldown,
		})
	}
	return o.guard.Observe(ctx, err)
}

func fileSize(paths ...string) int64 {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			return info.Size()
		}
	}
	return 0
}

// sortPhase sorts the touched period files and, when asked, every existing one in window.
func (d *datasetRun) sortPhase(ctx context.Context) {
	o := d.o
	if !o.sorting {
		return
	}
	paths := map[string]struct{}{}
	if o.opts.Consolidate {
		for p := range d.touched {
			paths[p] = struct{}{}
		}
	}
	if o.opts.SortExisting {
		root := filepath.Join(o.opts.OutDir, d.id)
		existing, err := consolidate.ListPeriodFiles(o.opts.OutDir, d.id)
		if err != nil {
			o.deps.Logger.Warn("list existing period files", zap.String("dataset", d.id), zap.Error(err))
		}
		for _, p := range existing {
			if consolidate.InWindow(p, root, d.from, o.opts.To) {
				paths[p] = struct{}{}
			}
		}
	}
	for _, path := range sortedKeys(paths) {
		res, err := o.deps.Sorter.SortPeriodFile(path, o.sortOrder, o.opts.SortStrategy)
		if err != nil {
			o.update(func(r *Report) { r.Stats.MonthlySortFailures++ })
			o.recordFailure(ctx, failures.Entry{Dataset: d.id, Stage: failures.StageSort, Error: err.Error()})
			o.deps.Logger.Warn("monthly sort failed", zap.String("dataset", d.id), zap.String("file", path), zap.Error(err))
			continue
		}
		o.update(func(r *Report) {
			switch res {
			case sortengine.Sorted:
				r.Stats.MonthlySorted++
			case sortengine.Already:
				r.Stats.MonthlyAlreadySorted++
			default:
				r.Stats.MonthlySortSkipped++
			}
		})
		o.deps.Events.Emit(progress.Event{
			Stage: progress.StageMonthlySorted, Dataset: d.id, Status: string(res),
			Fields: map[string]string{"file": path, "order": string(o.sortOrder), "strategy": string(o.opts.SortStrategy)},
		})
	}
}

// mirrorPhase uploads touched period files to the configured object store.
func (d *datasetRun) mirrorPhase(ctx context.Context) {
	o := d.o
	if o.deps.Mirror == nil {
		return
	}
	for _, path := range sortedKeys(d.touched) {
		rel, err := filepath.Rel(o.opts.OutDir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		uri, err := d.upload(ctx, path, filepath.ToSlash(rel))
		if err != nil {
			o.fail(ctx, failures.Entry{Dataset: d.id, Stage: failures.StageMirror, Error: err.Error()})
			continue
		}
		o.deps.Events.Emit(progress.Event{
			Stage: progress.StageMirrorUploaded, Dataset: d.id, Bytes: fileSize(path),
			Fields: map[string]string{"file": path, "uri": uri},
		})
	}
}

func (d *datasetRun) upload(ctx context.Context, path, rel string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open period file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return d.o.deps.Mirror.PutObject(ctx, rel, "text/csv", f)
}

func (d *datasetRun) finalize(started time.Time) error {
	o := d.o
	var summary DatasetSummary
	o.dataset(d.id, func(s *DatasetSummary) {
		s.LastCompletedPage = d.record.LastCompletedPage
		s.LastCompletedDocID = d.record.LastCompletedDocID
		s.LastCompletedStampdate = d.record.LastCompletedStampdate
		if s.Status == RunRunning {
			s.Status = checkpoint.StatusCompleted
		}
		summary = *s
	})
	d.record.Status = summary.Status
	if err := d.save(); err != nil {
		return err
	}
	o.deps.Events.Emit(progress.Event{
		Stage:   progress.StageDatasetDone,
		Dataset: d.id,
		Status:  summary.Status,
		Count:   int64(summary.DocsProcessed),
		Dur:     o.deps.Clock.Now().Sub(started),
		Fields: map[string]string{
			"listed":     strconv.Itoa(summary.DocsListed),
			"processed":  strconv.Itoa(summary.DocsProcessed),
			"downloaded": strconv.Itoa(summary.DocsDownloaded),
			"failed":     strconv.Itoa(summary.DocsFailed),
		},
	})
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
