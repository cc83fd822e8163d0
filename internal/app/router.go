package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fieldstock/fieldstock/internal/batch"
	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/ledger"
	"github.com/fieldstock/fieldstock/internal/observability"
	"github.com/fieldstock/fieldstock/internal/platform/httpx"
	"github.com/fieldstock/fieldstock/internal/reconciliation"
	"github.com/fieldstock/fieldstock/internal/stockrequest"
	"github.com/fieldstock/fieldstock/internal/units"
	"github.com/fieldstock/fieldstock/jobs"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker func(r *http.Request) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	Health  map[string]HealthChecker

	CatalogHandler        *catalog.Handler
	UnitsHandler          *units.Handler
	BatchHandler          *batch.Handler
	LedgerHandler         *ledger.Handler
	StockRequestHandler   *stockrequest.Handler
	ReconciliationHandler *reconciliation.Handler
	JobHandler            *jobs.Handler
}

// NewRouter constructs the chi.Router with fieldstock defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", healthHandler(params.Health))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(ScopeMiddleware(params.Logger))

		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if params.CatalogHandler != nil {
				r.Route("/catalog", func(r chi.Router) {
					params.CatalogHandler.MountRoutes(r)
					if params.UnitsHandler != nil {
						r.Get("/{id}/units", params.UnitsHandler.ListByEntry)
					}
				})
			}
			if params.UnitsHandler != nil || params.BatchHandler != nil {
				r.Route("/units", func(r chi.Router) {
					if params.UnitsHandler != nil {
						params.UnitsHandler.MountRoutes(r)
					}
					if params.BatchHandler != nil {
						r.Post("/{id}/remove", params.BatchHandler.RemoveUnit)
					}
				})
			}
			if params.BatchHandler != nil {
				r.Route("/batches", params.BatchHandler.MountRoutes)
				r.Post("/consumption", params.BatchHandler.Consume)
			}
			if params.LedgerHandler != nil {
				r.Route("/ledger", params.LedgerHandler.MountRoutes)
			}
			if params.StockRequestHandler != nil {
				r.Route("/stock-requests", params.StockRequestHandler.MountRoutes)
			}
			if params.ReconciliationHandler != nil {
				r.Route("/reconciliation", params.ReconciliationHandler.MountRoutes)
			}
		})
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
			for name, check := range checks {
				if err := check(r); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		httpx.JSON(w, status, resp)
	}
}
