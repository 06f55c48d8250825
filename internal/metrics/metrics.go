// Package metrics exposes Prometheus collectors for ERCOT API traffic.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal          *prometheus.CounterVec
	apiRequestDurationSeconds *prometheus.HistogramVec
	apiRetriesTotal           *prometheus.CounterVec
	apiReauthTotal            prometheus.Counter
	throttleWaitSeconds       prometheus.Histogram
	statusRequestsTotal       *prometheus.CounterVec
	statusRequestSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ercot_api_requests_total",
				Help: "Total number of ERCOT API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ercot_api_request_duration_seconds",
				Help:    "Histogram of ERCOT API request latencies, labeled by method.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		)

		apiRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ercot_api_retries_total",
				Help: "Total number of retried ERCOT API requests, labeled by reason.",
			},
			[]string{"reason"},
		)

		apiReauthTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ercot_api_reauth_total",
				Help: "Total number of forced re-authentications after HTTP 401.",
			},
		)

		throttleWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ercot_api_throttle_wait_seconds",
				Help:    "Histogram of inter-request throttle waits.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		)

		statusRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ercot_status_http_requests_total",
				Help: "Requests served by the status server, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		statusRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ercot_status_http_request_duration_seconds",
				Help:    "Status server latencies, labeled by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerWith exposes the default registry merged with extra gatherers.
func HandlerWith(extra ...prometheus.Gatherer) http.Handler {
	gatherers := append(prometheus.Gatherers{prometheus.DefaultGatherer}, extra...)
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

// ObserveAPIRequest records one completed API round trip. code 0 marks a transport error.
func ObserveAPIRequest(method string, code int, duration time.Duration) {
	Init()
	apiRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	apiRequestDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveRetry counts a retry decision ("status", "transport", "listing").
func ObserveRetry(reason string) {
	Init()
	apiRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveReauth counts a forced re-authentication.
func ObserveReauth() {
	Init()
	apiReauthTotal.Inc()
}

// ObserveThrottleWait records the duration of a throttle wait.
func ObserveThrottleWait(duration time.Duration) {
	Init()
	throttleWaitSeconds.Observe(duration.Seconds())
}

// ObserveStatusRequest records one request served by the status server.
func ObserveStatusRequest(method, route string, code int, duration time.Duration) {
	Init()
	statusRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	statusRequestSeconds.WithLabelValues(route).Observe(duration.Seconds())
}
