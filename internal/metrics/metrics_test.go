package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if apiRequestsTotal == nil || apiRequestDurationSeconds == nil ||
		apiRetriesTotal == nil || apiReauthTotal == nil || throttleWaitSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveAPIRequest(t *testing.T) {
	ObserveAPIRequest("GET", 200, 120*time.Millisecond)
	ObserveAPIRequest("GET", 200, 80*time.Millisecond)

	if val := testutil.ToFloat64(apiRequestsTotal.WithLabelValues("GET", "200")); val < 2 {
		t.Errorf("expected at least 2 GET 200 requests, got %f", val)
	}
}

func TestObserveRetryAndReauth(t *testing.T) {
	Init()
	before := testutil.ToFloat64(apiReauthTotal)
	ObserveReauth()
	ObserveRetry("status")
	ObserveThrottleWait(10 * time.Millisecond)

	if got := testutil.ToFloat64(apiReauthTotal); got != before+1 {
		t.Errorf("expected reauth counter %f, got %f", before+1, got)
	}
	if got := testutil.ToFloat64(apiRetriesTotal.WithLabelValues("status")); got < 1 {
		t.Errorf("expected status retry counted, got %f", got)
	}
}

func TestHandlerServesCollectors(t *testing.T) {
	ObserveAPIRequest("POST", 503, time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "ercot_api_requests_total") {
		t.Fatal("expected ercot_api_requests_total in metrics output")
	}
}

func TestObserveStatusRequest(t *testing.T) {
	ObserveStatusRequest("GET", "/v1/status", 200, 5*time.Millisecond)

	if got := testutil.ToFloat64(statusRequestsTotal.WithLabelValues("GET", "/v1/status", "200")); got < 1 {
		t.Errorf("expected status request counted, got %f", got)
	}
}

func TestHandlerWithMergesGatherers(t *testing.T) {
	Init()
	reg := prometheus.NewRegistry()
	extra := prometheus.NewCounter(prometheus.CounterOpts{Name: "ercot_test_extra_total", Help: "test"})
	reg.MustRegister(extra)
	extra.Inc()

	rec := httptest.NewRecorder()
	HandlerWith(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "ercot_test_extra_total 1") {
		t.Fatal("expected extra registry in merged output")
	}
	if !strings.Contains(body, "ercot_api_reauth_total") {
		t.Fatal("expected default registry in merged output")
	}
}
