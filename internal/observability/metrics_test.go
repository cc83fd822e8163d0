package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("inventory:low_stock_scan").End(errors.New("boom"))
	metrics.Jobs().AddItems("maintenance:idempotency_cleanup", 3)

	body := scrape(t, metrics)
	for _, want := range []string{
		`fieldstock_jobs_total{job="inventory:low_stock_scan",status="failure"} 1`,
		`fieldstock_jobs_failures_total{job="inventory:low_stock_scan"} 1`,
		`fieldstock_job_items_total{job="maintenance:idempotency_cleanup"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body, got: %s", want, body)
		}
	}
}

func TestMetricsRecordsDomainCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveBatch("issuance", "insufficient_stock")
	metrics.ObserveBatch("issuance", "insufficient_stock")
	metrics.ObserveInsufficientStock()
	metrics.ObserveReversal("conflict")
	metrics.SetLowStock(4, 2)

	body := scrape(t, metrics)
	for _, want := range []string{
		`fieldstock_batches_total{kind="issuance",outcome="insufficient_stock"} 2`,
		`fieldstock_insufficient_stock_total 1`,
		`fieldstock_batch_reversals_total{outcome="conflict"} 1`,
		`fieldstock_low_stock_entries{company="4"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body, got: %s", want, body)
		}
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveBatch("receiving", "committed")
	nilMetrics.SetLowStock(1, 1)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}
