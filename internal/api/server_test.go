package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/checkpoint"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/pipeline"
)

type fakeStatus struct {
	report pipeline.Report
}

func (f fakeStatus) Snapshot() pipeline.Report { return f.report }

type fakeCheckpoints struct {
	records []checkpoint.Record
	err     error
}

func (f fakeCheckpoints) List() ([]checkpoint.Record, error) { return f.records, f.err }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil, zap.NewNop()), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReportsRunStatus(t *testing.T) {
	t.Parallel()

	s := NewServer(fakeStatus{report: pipeline.Report{Status: pipeline.RunRunning}}, nil, nil, nil)
	rec := serve(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), pipeline.RunRunning)
}

func TestServer_StatusReturnsSnapshot(t *testing.T) {
	t.Parallel()

	report := pipeline.Report{
		RunID:  "run-1",
		Status: pipeline.RunRunning,
		Stats:  pipeline.Stats{Downloaded: 3},
		Datasets: map[string]*pipeline.DatasetSummary{
			"NP4-732-CD": {Status: "running", DocsListed: 5},
		},
	}
	rec := serve(t, NewServer(fakeStatus{report: report}, nil, nil, nil), "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 3, got.Stats.Downloaded)
	require.Contains(t, got.Datasets, "NP4-732-CD")
	assert.Equal(t, 5, got.Datasets["NP4-732-CD"].DocsListed)
}

func TestServer_StatusWithoutRun(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil, nil), "/v1/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Checkpoints(t *testing.T) {
	t.Parallel()

	store := fakeCheckpoints{records: []checkpoint.Record{
		{Window: checkpoint.Window{DatasetID: "NP6-905-CD"}, Status: checkpoint.StatusCompleted},
		{Window: checkpoint.Window{DatasetID: "NP4-732-CD"}, Status: checkpoint.StatusRunning, NextDocIndex: 7},
	}}
	s := NewServer(nil, store, nil, nil)

	rec := serve(t, s, "/v1/checkpoints")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Checkpoints []checkpoint.Record `json:"checkpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Checkpoints, 2)
	assert.Equal(t, "NP4-732-CD", list.Checkpoints[0].DatasetID)

	rec = serve(t, s, "/v1/checkpoints/NP4-732-CD")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"next_doc_index":7`)

	rec = serve(t, s, "/v1/checkpoints/NP0-000-CD")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CheckpointErrors(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, fakeCheckpoints{err: errors.New("disk")}, nil, nil), "/v1/checkpoints")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = serve(t, NewServer(nil, nil, nil, nil), "/v1/checkpoints")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsHandlerMounted(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ercot_up 1\n"))
	})
	rec := serve(t, NewServer(nil, nil, metrics, nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ercot_up 1\n", rec.Body.String())
}
