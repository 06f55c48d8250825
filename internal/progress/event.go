// Package progress defines the events emitted while archiving datasets.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages. The string values double as the log event names.
const (
	StageRunStart          Stage = "RUN_START"
	StageRunSummary        Stage = "RUN_SUMMARY"
	StageDatasetStart      Stage = "DATASET_START"
	StageDatasetSkip       Stage = "DATASET_SKIP"
	StageDatasetDone       Stage = "DATASET_DONE"
	StageResume            Stage = "RESUME"
	StageEarliestDetected  Stage = "EARLIEST_DETECTED"
	StageListingProgress   Stage = "ARCHIVE_LISTING_PROGRESS"
	StageListingRetry      Stage = "ARCHIVE_LISTING_RETRY"
	StageProbeRetry        Stage = "ARCHIVE_PROBE_RETRY"
	StageBulkRequest       Stage = "BULK_REQUEST"
	StageBulkDone          Stage = "BULK_DONE"
	StageBulkDisabled      Stage = "BULK_DISABLED"
	StageBulkSourceWarn    Stage = "BULK_SOURCE_WARN"
	StageDocDownloaded     Stage = "DOC_DOWNLOADED"
	StageDocSkipped        Stage = "DOC_SKIPPED"
	StageDocFailed         Stage = "DOC_FAILED"
	StageMonthlyMerged     Stage = "MONTHLY_MERGED"
	StageMonthlySorted     Stage = "MONTHLY_SORTED"
	StageDNSCooldown       Stage = "DNS_COOLDOWN"
	StageCollisionWarn     Stage = "FINGERPRINT_COLLISION_WARN"
	StageCollisionError    Stage = "FINGERPRINT_COLLISION_ERROR"
	StageAmbiguousSkipped  Stage = "FINGERPRINT_AMBIGUOUS_ROWS_SKIPPED"
	StageBackfillMonth     Stage = "BACKFILL_MONTH"
	StageBackfillVerify    Stage = "BACKFILL_VERIFY"
	StageBackfillCleanup   Stage = "BACKFILL_CLEANUP"
	StageBackfillDone      Stage = "BACKFILL_DONE"
	StageMirrorUploaded    Stage = "MIRROR_UPLOADED"
)

var knownStages = map[Stage]struct{}{
	StageRunStart: {}, StageRunSummary: {}, StageDatasetStart: {}, StageDatasetSkip: {},
	StageDatasetDone: {}, StageResume: {}, StageEarliestDetected: {}, StageListingProgress: {},
	StageListingRetry: {}, StageProbeRetry: {}, StageBulkRequest: {}, StageBulkDone: {},
	StageBulkDisabled: {}, StageBulkSourceWarn: {}, StageDocDownloaded: {}, StageDocSkipped: {},
	StageDocFailed: {}, StageMonthlyMerged: {}, StageMonthlySorted: {}, StageDNSCooldown: {},
	StageCollisionWarn: {}, StageCollisionError: {}, StageAmbiguousSkipped: {},
	StageBackfillMonth: {}, StageBackfillVerify: {}, StageBackfillCleanup: {}, StageBackfillDone: {},
	StageMirrorUploaded: {},
}

// Event captures a single milestone of an archiving run.
type Event struct {
	// RunID identifies the process run; the Hub stamps it when empty.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Dataset is the upper-case report id the event belongs to, if any.
	Dataset string
	// DocID is the archive document involved, if any.
	DocID string
	// Page is the archive listing page, if any.
	Page int
	// Count carries the stage-specific quantity (docs listed, rows merged, ...).
	Count int64
	// Bytes carries the payload size for download events.
	Bytes int64
	// Status is a stage-specific outcome label.
	Status string
	// Dur captures elapsed time for the stage.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
	// Fields holds extra key=value context for the log sink.
	Fields map[string]string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, ok := knownStages[e.Stage]; !ok {
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	switch e.Stage {
	case StageDatasetStart, StageDatasetDone, StageDatasetSkip, StageBulkRequest, StageBulkDone:
		if e.Dataset == "" {
			return fmt.Errorf("%s requires dataset", e.Stage)
		}
	case StageDocDownloaded, StageDocFailed:
		if e.Dataset == "" || e.DocID == "" {
			return fmt.Errorf("%s requires dataset and doc id", e.Stage)
		}
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
