package observability

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.ObserveJobAttempt("document_ingest", "succeeded", time.Second)
	m.ObserveSearch(nil, time.Millisecond)
	m.ApiInflightInc()

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: want=%d got=%d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestObserveJobAttemptAndSearch(t *testing.T) {
	m := New()
	m.ObserveJobAttempt("document_ingest", "retry", 2*time.Second)
	m.ObserveJobAttempt("document_ingest", "succeeded", 3*time.Second)
	m.ObserveJobAttempt("document_ingest", "succeeded", time.Second)
	m.ObserveSearch(errors.New("boom"), 10*time.Millisecond)

	if got := m.jobAttempts.Value("document_ingest", "succeeded"); got != 2 {
		t.Fatalf("succeeded attempts: want=2 got=%v", got)
	}
	if got := m.jobDuration.Count("document_ingest", "retry"); got != 1 {
		t.Fatalf("retry observations: want=1 got=%d", got)
	}
	if got := m.searchRequests.Value("error"); got != 1 {
		t.Fatalf("search errors: want=1 got=%v", got)
	}
}

func TestWritePrometheusFormat(t *testing.T) {
	m := New()
	m.ObserveAPI("GET", "/api/documents/:id", "200", 30*time.Millisecond)
	m.ApiInflightInc()

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE docr_api_requests_total counter",
		`docr_api_requests_total{method="GET",route="/api/documents/:id",status="200"} 1.000000`,
		`docr_api_request_duration_seconds_bucket{method="GET",route="/api/documents/:id",status="200",le="0.05"} 1`,
		`docr_api_request_duration_seconds_bucket{method="GET",route="/api/documents/:id",status="200",le="0.025"} 0`,
		"docr_api_inflight_requests 1.000000",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}

func TestLabelString(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{`x"y`})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("labelString: got=%s", got)
	}
	if withLe("", "+Inf") != `{le="+Inf"}` {
		t.Fatalf("withLe empty: got=%s", withLe("", "+Inf"))
	}
}

func TestParseHeaders(t *testing.T) {
	h := parseHeaders(" api-key = abc , bad, x=1 ")
	if len(h) != 2 || h["api-key"] != "abc" || h["x"] != "1" {
		t.Fatalf("headers: %v", h)
	}
	if parseHeaders("") != nil {
		t.Fatalf("empty headers: want nil")
	}
}
