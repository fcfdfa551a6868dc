package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

func scrape(t *testing.T, m *HTTPServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestNormalizePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/v1/projects/p1", "/v1/projects/{project_id}"},
		{"/v1/projects/p1/artifacts", "/v1/projects/{project_id}/artifacts"},
		{"/v1/projects/p1/provenance/pos:1", "/v1/projects/{project_id}/provenance/{item_id}"},
		{"/v1/projects/p1/views/resource_sheet", "/v1/projects/{project_id}/views/{module}"},
		{"/healthz", "/healthz"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.in); got != tc.want {
			t.Fatalf("normalizePath(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestPipelineMetricsShareHTTPRegistry(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	pipeline := NewPipelineMetrics("api", httpMetrics.Registry())

	pipeline.ObserveStage("parse", domain.OutcomeOK, 0.2)
	pipeline.ObserveStage("plan", domain.OutcomeSkipped, 0)
	pipeline.ObserveRun(domain.RunDegraded, 1.5)
	pipeline.StartBatch()
	pipeline.ObserveQueueLag(2 * time.Second)
	pipeline.FinishBatch()

	body := scrape(t, httpMetrics)
	for _, want := range []string{
		`cpl_pipeline_stage_outcomes_total{service="api",stage="parse",status="ok"} 1`,
		`cpl_pipeline_stage_outcomes_total{service="api",stage="plan",status="skipped"} 1`,
		`cpl_pipeline_runs_total{service="api",status="degraded"} 1`,
		`cpl_worker_batches_in_flight{service="api"} 0`,
		`cpl_worker_batch_queue_lag_seconds_count{service="api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output misses %s", want)
		}
	}
	if strings.Contains(body, `cpl_pipeline_stage_duration_seconds_count{service="api",stage="plan"}`) {
		t.Fatalf("skipped stages must not record a duration")
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/projects/p1/artifacts", nil))
	m.RecordUpload(128)

	body := scrape(t, m)
	want := `cpl_http_requests_total{method="POST",path="/v1/projects/{project_id}/artifacts",service="api",status="202"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("metrics output misses %s", want)
	}
	if !strings.Contains(body, `cpl_ingest_uploaded_bytes_total{service="api"} 128`) {
		t.Fatalf("upload bytes not recorded")
	}
}
