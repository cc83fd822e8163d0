package reconciliation

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Handler exposes reconciliation reports over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleReport)
	r.Post("/invalidate", h.handleInvalidate)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	window, err := h.window(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	driverID, err := httpx.QueryInt64(r, "driver_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	report, err := h.service.Reconcile(r.Context(), scope, Query{Window: window, DriverID: driverID})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if report.Rows == nil {
		report.Rows = []Row{}
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Scope(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.Invalidate(r.Context()); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// window reads either an explicit start/end pair or a period selector.
func (h *Handler) window(r *http.Request) (Window, error) {
	q := r.URL.Query()
	if period := strings.TrimSpace(q.Get("period")); period != "" {
		year, err := httpx.QueryInt(r, "year", 0)
		if err != nil {
			return Window{}, err
		}
		month, err := httpx.QueryInt(r, "month", 0)
		if err != nil {
			return Window{}, err
		}
		quarter, err := httpx.QueryInt(r, "quarter", -1)
		if err != nil {
			return Window{}, err
		}
		return h.service.Window(Selector{Period: Period(period), Year: year, Month: month, Quarter: quarter})
	}
	start, err := h.parseTime("start", q.Get("start"))
	if err != nil {
		return Window{}, err
	}
	end, err := h.parseTime("end", q.Get("end"))
	if err != nil {
		return Window{}, err
	}
	return NewWindow(start, end)
}

// parseTime accepts RFC 3339 timestamps or plain dates, which are read as
// midnight in the service time zone.
func (h *Handler) parseTime(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, shared.Validation(field, "is required without a period")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, h.service.loc); err == nil {
		return t, nil
	}
	return time.Time{}, shared.Validation(field, fmt.Sprintf("invalid time %q", raw))
}
