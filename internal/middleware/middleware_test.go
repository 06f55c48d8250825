package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/metrics"
)

func TestMetricsRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/v1/checkpoints/{dataset}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/checkpoints/NP4-732-CD", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	out := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	found := false
	for _, line := range strings.Split(out.Body.String(), "\n") {
		if strings.HasPrefix(line, "ercot_status_http_requests_total") &&
			strings.Contains(line, `route="/v1/checkpoints/{dataset}"`) &&
			strings.Contains(line, `code="404"`) {
			found = true
		}
	}
	assert.True(t, found, "expected counter for the route pattern")
}
