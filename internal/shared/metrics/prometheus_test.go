package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMiddlewareUsesRoutePattern tests that metrics are labelled by route, not raw path.
func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/cases/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/cases/{id}", "418"))

	req := httptest.NewRequest(http.MethodGet, "/cases/0c3d7a0e-8f55-4a8e-9f57-1b9d2a3c4e5f", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/cases/{id}", "418"))
	if after-before != 1 {
		t.Errorf("Expected counter to grow by 1, got %v", after-before)
	}
}

// TestRecordClaim tests the claim outcome counter.
func TestRecordClaim(t *testing.T) {
	before := testutil.ToFloat64(caseClaims.WithLabelValues("already_claimed"))
	RecordClaim("already_claimed")
	RecordClaim("already_claimed")
	if got := testutil.ToFloat64(caseClaims.WithLabelValues("already_claimed")) - before; got != 2 {
		t.Errorf("Expected 2, got %v", got)
	}
}

// TestRecordCaseStatusChangeSkipsNoop tests that self transitions are not counted.
func TestRecordCaseStatusChangeSkipsNoop(t *testing.T) {
	before := testutil.ToFloat64(casesStatusChanged.WithLabelValues("answered", "answered"))
	RecordCaseStatusChange("answered", "answered")
	if got := testutil.ToFloat64(casesStatusChanged.WithLabelValues("answered", "answered")); got != before {
		t.Errorf("Expected unchanged counter, got %v", got)
	}
}
