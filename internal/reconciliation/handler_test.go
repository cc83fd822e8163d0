package reconciliation

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/shared"
)

func newTestRouter(t *testing.T, feed FeedPort) http.Handler {
	t.Helper()
	svc, _ := newTestService(t, feed)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Company-ID") == "3" {
				r = r.WithContext(shared.ContextWithScope(r.Context(), shared.Scope{CompanyID: 3}))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Route("/reconciliation", h.MountRoutes)
	return r
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-Company-ID", "3")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerReportsByPeriodAndRange(t *testing.T) {
	feed := newMemoryFeed()
	feed.trip(1, 3, 7, "Dimas")
	feed.allocate(1, 1000, day(2024, 3, 1))
	feed.dispense(1, 640, 0, day(2024, 4, 1))
	router := newTestRouter(t, feed)

	rec := get(router, "/reconciliation?period=monthly&year=2024&month=3&driver_id=7")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report struct {
		Rows []struct {
			DriverID       int64  `json:"driver_id"`
			TotalAllocated string `json:"total_allocated"`
			TotalSupplied  string `json:"total_supplied"`
			Balance        string `json:"balance"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Rows, 1)
	require.Equal(t, "1000", report.Rows[0].TotalAllocated)
	require.Equal(t, "1000", report.Rows[0].Balance)

	rec = get(router, "/reconciliation?start=2024-04-01&end=2024-05-01")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Rows, 1)
	require.Equal(t, "0", report.Rows[0].TotalAllocated)
	require.Equal(t, "640", report.Rows[0].TotalSupplied)

	rec = get(router, "/reconciliation?period=quarterly&year=2023&quarter=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, mustRows(t, rec))
}

func mustRows(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return string(body["rows"])
}

func TestHandlerRejectsBadWindows(t *testing.T) {
	router := newTestRouter(t, newMemoryFeed())
	for _, target := range []string{
		"/reconciliation",
		"/reconciliation?start=2024-04-01",
		"/reconciliation?start=2024-05-01&end=2024-04-01",
		"/reconciliation?start=yesterday&end=2024-04-01",
		"/reconciliation?period=monthly&year=2024&month=13",
		"/reconciliation?period=quarterly&year=2024",
		"/reconciliation?period=yearly&year=2024",
		"/reconciliation?period=monthly&year=2024&month=1&driver_id=x",
	} {
		rec := get(router, target)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	req := httptest.NewRequest(http.MethodGet, "/reconciliation?period=monthly&year=2024&month=1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerInvalidate(t *testing.T) {
	router := newTestRouter(t, newMemoryFeed())
	req := httptest.NewRequest(http.MethodPost, "/reconciliation/invalidate", nil)
	req.Header.Set("X-Company-ID", "3")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
