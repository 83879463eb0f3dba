package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("health", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.ObserveRequest("health", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.ObserveRequest("not_found", http.MethodGet, http.StatusNotFound, time.Millisecond)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("health", "GET", "200")); got != 2 {
		t.Errorf("health GET 200 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("not_found", "GET", "404")); got != 1 {
		t.Errorf("not_found GET 404 = %v, want 1", got)
	}
}

func TestObserveRequestBoundsMethodLabel(t *testing.T) {
	m := New()
	m.ObserveRequest("health", http.MethodGet, http.StatusOK, time.Millisecond)
	for i := 0; i < 100; i++ {
		m.ObserveRequest("health", fmt.Sprintf("X%d", i), http.StatusOK, time.Millisecond)
	}

	if got := testutil.CollectAndCount(m.RequestsTotal); got != 2 {
		t.Errorf("series = %d, want 2 (GET and OTHER)", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("health", "OTHER", "200")); got != 100 {
		t.Errorf("health OTHER 200 = %v, want 100", got)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.IncRateLimitRejectionsTotal()

	if got := testutil.ToFloat64(a.RateLimitRejectionsTotal); got != 1 {
		t.Errorf("a rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.RateLimitRejectionsTotal); got != 0 {
		t.Errorf("b rejections = %v, want 0", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.IncAdminLogins("failure")
	m.ObserveRequest("home", http.MethodGet, http.StatusOK, time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		`appserver_admin_logins_total{result="failure"} 1`,
		`appserver_http_requests_total{method="GET",route="home",status="200"} 1`,
		"appserver_http_request_duration_seconds_bucket",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
