package pipeline

import (
	"strconv"
	"time"
)

// Stats are the run-wide counters.
type Stats struct {
	Downloaded                int `json:"downloaded"`
	SkippedExisting           int `json:"skipped_existing"`
	SkippedMissingDocID       int `json:"skipped_missing_doc_id"`
	SkippedUnavailableDataset int `json:"skipped_unavailable_dataset"`
	ConsolidatedUpdates       int `json:"consolidated_updates"`
	MonthlySorted             int `json:"monthly_sorted"`
	MonthlyAlreadySorted      int `json:"monthly_already_sorted"`
	MonthlySortSkipped        int `json:"monthly_sort_skipped"`
	MonthlySortFailures       int `json:"monthly_sort_failures"`
	Failures                  int `json:"failures"`
}

// Dataset outcomes beyond the checkpoint statuses.
const (
	StatusSkippedUnavailable      = "skipped_unavailable"
	StatusListingFailed           = "archive_listing_failed"
	StatusNoDocsInWindow          = "no_docs_in_window"
	StatusEarliestDetectionFailed = "earliest_detection_failed"
)

// DatasetSummary is the per-dataset section of a run report.
type DatasetSummary struct {
	Title                  string `json:"title,omitempty"`
	Status                 string `json:"status"`
	WindowFrom             string `json:"window_from,omitempty"`
	WindowTo               string `json:"window_to,omitempty"`
	DocsListed             int    `json:"docs_listed"`
	DocsProcessed          int    `json:"docs_processed"`
	DocsDownloaded         int    `json:"docs_downloaded"`
	DocsFailed             int    `json:"docs_failed"`
	ResumeStartPage        int    `json:"resume_start_page"`
	ResumeStartIndex       int    `json:"resume_start_index"`
	LastCompletedPage      int    `json:"last_completed_page"`
	LastCompletedDocID     string `json:"last_completed_doc_id,omitempty"`
	LastCompletedStampdate string `json:"last_completed_stampdate,omitempty"`
}

// Report is a point-in-time view of a run.
type Report struct {
	RunID            string                     `json:"run_id"`
	StartedAt        time.Time                  `json:"started_at"`
	FinishedAt       *time.Time                 `json:"finished_at,omitempty"`
	Status           string                     `json:"status"`
	FatalError       string                     `json:"fatal_error,omitempty"`
	ElapsedSeconds   float64                    `json:"elapsed_seconds"`
	SelectedDatasets []string                   `json:"selected_datasets"`
	Stats            Stats                      `json:"stats"`
	Datasets         map[string]*DatasetSummary `json:"datasets"`
}

func (r Report) clone() Report {
	out := r
	out.SelectedDatasets = append([]string(nil), r.SelectedDatasets...)
	out.Datasets = make(map[string]*DatasetSummary, len(r.Datasets))
	for k, v := range r.Datasets {
		cp := *v
		out.Datasets[k] = &cp
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// summaryFields renders the RUN_SUMMARY counters. Consolidation and sort counters
// appear only when those phases were enabled.
func summaryFields(s Stats, consolidated, sorted bool) map[string]string {
	fields := map[string]string{
		"downloaded":                  strconv.Itoa(s.Downloaded),
		"skipped_existing":            strconv.Itoa(s.SkippedExisting),
		"skipped_missing_doc_id":      strconv.Itoa(s.SkippedMissingDocID),
		"skipped_unavailable_dataset": strconv.Itoa(s.SkippedUnavailableDataset),
		"failures":                    strconv.Itoa(s.Failures),
	}
	if consolidated {
		fields["monthly_files_updated"] = strconv.Itoa(s.ConsolidatedUpdates)
	}
	if sorted {
		fields["monthly_files_sorted"] = strconv.Itoa(s.MonthlySorted)
		fields["monthly_files_already_sorted"] = strconv.Itoa(s.MonthlyAlreadySorted)
		fields["monthly_files_sort_skipped"] = strconv.Itoa(s.MonthlySortSkipped)
		fields["monthly_files_sort_failures"] = strconv.Itoa(s.MonthlySortFailures)
	}
	return fields
}
