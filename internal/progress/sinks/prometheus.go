package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
)

// PrometheusSink exports archiving progress via Prometheus. It owns the
// collectors for dataset outcomes, per-document outcomes, listing pages,
// bulk transfers and period-file sorting.
type PrometheusSink struct {
	datasetsCompleted *prometheus.CounterVec
	datasetRuntime    *prometheus.HistogramVec
	docs              *prometheus.CounterVec
	docBytes          *prometheus.CounterVec
	pagesListed       *prometheus.CounterVec
	listingRetries    *prometheus.CounterVec
	bulkRequests      *prometheus.CounterVec
	periodSorts       *prometheus.CounterVec
	rowsMerged        *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		datasetsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercot_datasets_completed_total",
			Help: "Datasets finished partitioned by final status.",
		}, []string{"status"}),
		datasetRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ercot_dataset_runtime_seconds",
			Help:    "Wall time per finished dataset.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600},
		}, []string{"dataset"}),
		docs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercot_documents_total",
			Help: "Archive documents handled partitioned by dataset and outcome.",
		}, []string{"dataset", "outcome"}),
		docBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercot_document_bytes_total",
			Help: "Bytes written for downloaded documents per dataset.",
		}, []string{"dataset"}),
		pagesListed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercot_archive_pages_listed_total",
			Help: "Archive listing pages fetched per dataset.",
		}, []string{"dataset"}),
		listingRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercot_archive_listing_retries_total",
			Help: "Listing and probe retries after HTTP 429.",
		}, []string{"dataset"}),
		bulkRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercot_bulk_requests_total",
			Help: "Bulk download requests partitioned by result.",
		}, []string{"dataset", "result"}),
		periodSorts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercot_period_file_sorts_total",
			Help: "Period-file sort outcomes (sorted, already, skipped, failed).",
		}, []string{"dataset", "result"}),
		rowsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercot_period_rows_merged_total",
			Help: "Rows appended to period files per dataset.",
		}, []string{"dataset"}),
	}
	for _, collector := range []prometheus.Collector{
		s.datasetsCompleted,
		s.datasetRuntime,
		s.docs,
		s.docBytes,
		s.pagesListed,
		s.listingRetries,
		s.bulkRequests,
		s.periodSorts,
		s.rowsMerged,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	ds := evt.Dataset
	if ds == "" {
		ds = "unknown"
	}
	switch evt.Stage {
	case progress.StageDatasetDone, progress.StageDatasetSkip:
		status := evt.Status
		if status == "" {
			status = "unknown"
		}
		s.datasetsCompleted.WithLabelValues(status).Inc()
		if evt.Dur > 0 {
			s.datasetRuntime.WithLabelValues(ds).Observe(evt.Dur.Seconds())
		}
	case progress.StageDocDownloaded:
		s.docs.WithLabelValues(ds, "downloaded").Inc()
		if evt.Bytes > 0 {
			s.docBytes.WithLabelValues(ds).Add(float64(evt.Bytes))
		}
	case progress.StageDocSkipped:
		s.docs.WithLabelValues(ds, "skipped").Inc()
	case progress.StageDocFailed:
		s.docs.WithLabelValues(ds, "failed").Inc()
	case progress.StageListingProgress:
		s.pagesListed.WithLabelValues(ds).Inc()
	case progress.StageListingRetry, progress.StageProbeRetry:
		s.listingRetries.WithLabelValues(ds).Inc()
	case progress.StageBulkDone:
		s.bulkRequests.WithLabelValues(ds, "ok").Inc()
	case progress.StageBulkDisabled, progress.StageBulkSourceWarn:
		s.bulkRequests.WithLabelValues(ds, "error").Inc()
	case progress.StageMonthlySorted:
		result := evt.Status
		if result == "" {
			result = "unknown"
		}
		s.periodSorts.WithLabelValues(ds, result).Inc()
	case progress.StageMonthlyMerged:
		if evt.Count > 0 {
			s.rowsMerged.WithLabelValues(ds).Add(float64(evt.Count))
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
