// Package api hosts the read-only status server for a running archiver.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live run report.
//   - GET /v1/checkpoints and /v1/checkpoints/{dataset} for persisted
//     per-dataset resume records.
package api
