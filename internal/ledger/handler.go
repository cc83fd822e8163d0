package ledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Handler wires HTTP endpoints for the ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/entries", h.handleHistory)
	r.Patch("/entries/{id}", h.handleEdit)
	r.Delete("/entries/{id}", h.handleDelete)
	r.Get("/balance", h.handleBalance)
	r.Get("/holdings", h.handleHoldings)
}

type editRequest struct {
	Quantity *decimal.Decimal `json:"quantity" validate:"required"`
	Notes    *string          `json:"notes"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filter, err := parseHistoryFilter(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries, err := h.service.History(r.Context(), scope, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func parseHistoryFilter(r *http.Request) (HistoryFilter, error) {
	var filter HistoryFilter
	q := r.URL.Query()
	if raw := q.Get("owner"); raw != "" {
		owner, err := ParseOwner(raw)
		if err != nil {
			return filter, err
		}
		filter.Owner = owner
	}
	var err error
	if filter.CatalogEntryID, err = httpx.QueryInt64(r, "catalog_entry_id"); err != nil {
		return filter, err
	}
	if filter.BatchID, err = httpx.QueryInt64(r, "batch_id"); err != nil {
		return filter, err
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit", 200); err != nil {
		return filter, err
	}
	if raw := q.Get("from"); raw != "" {
		if filter.From, err = time.Parse(time.DateOnly, raw); err != nil {
			return filter, shared.Validation("from", "must be YYYY-MM-DD")
		}
	}
	if raw := q.Get("to"); raw != "" {
		if filter.To, err = time.Parse(time.DateOnly, raw); err != nil {
			return filter, shared.Validation("to", "must be YYYY-MM-DD")
		}
	}
	return filter, nil
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req editRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.EditEntry(r.Context(), scope, id, EditInput{Quantity: *req.Quantity, Notes: req.Notes})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.DeleteEntry(r.Context(), scope, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	owner, err := ParseOwner(q.Get("owner"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entryID, err := httpx.QueryInt64(r, "catalog_entry_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ref := AdHoc(q.Get("item_name"))
	if entryID > 0 {
		ref = Catalogued(entryID)
	} else if ref.ItemName == "" {
		httpx.RespondError(w, h.logger, shared.Validation("catalog_entry_id", "catalog_entry_id or item_name is required"))
		return
	}
	view, err := h.service.Balance(r.Context(), scope, owner, ref, q.Get("verify") == "true")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleHoldings(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	owner, err := ParseOwner(r.URL.Query().Get("owner"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	balances, err := h.service.Holdings(r.Context(), scope, owner)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if balances == nil {
		balances = []Balance{}
	}
	httpx.JSON(w, http.StatusOK, balances)
}
