package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsUseRoutePatterns(t *testing.T) {
	mux := NewMux(&mockService{})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/abc-123", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}

	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := mrr.Body.String()
	if !strings.Contains(body, `ocrd_http_requests_total{method="GET",path="/jobs/{id}",status="404"}`) {
		t.Fatalf("route pattern label missing:\n%s", body)
	}
	if strings.Contains(body, "abc-123") {
		t.Fatalf("raw path leaked into labels")
	}
}

func TestInflightLabelsStayBounded(t *testing.T) {
	mux := NewMux(&mockService{})
	for _, p := range []string{"/jobs/f00d-1", "/static/leak-check.zip", "/no/such/route-xyz"} {
		mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := mrr.Body.String()
	for _, raw := range []string{"f00d-1", "leak-check.zip", "route-xyz"} {
		if strings.Contains(body, raw) {
			t.Fatalf("raw path %q leaked into labels:\n%s", raw, body)
		}
	}
	if !strings.Contains(body, `ocrd_http_inflight_requests{path="/jobs"}`) {
		t.Fatalf("inflight gauge should use the top segment:\n%s", body)
	}
	if !strings.Contains(body, `path="unmatched"`) {
		t.Fatalf("unmatched requests should share one label:\n%s", body)
	}
}

func TestTopSegment(t *testing.T) {
	cases := map[string]string{"/jobs/abc": "/jobs", "/health": "/health", "/": "/", "/ocr/text": "/ocr"}
	for in, want := range cases {
		if got := topSegment(in); got != want {
			t.Fatalf("topSegment(%q)=%q want %q", in, got, want)
		}
	}
}

func TestIncrementRefusal(t *testing.T) {
	IncrementRefusal("")
	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(mrr.Body.String(), `ocrd_http_refusals_total{reason="unspecified"}`) {
		t.Fatalf("refusal counter missing")
	}
}

func TestMountSwaggerNoOp(t *testing.T) {
	// default build: must not panic
	_ = NewMux(&mockService{})
}
