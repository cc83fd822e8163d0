package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/low-stock", h.handleLowStock)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDelete)
}

type createRequest struct {
	ProductName       string           `json:"product_name" validate:"required"`
	PartNo            string           `json:"part_no"`
	Category          string           `json:"category"`
	Manufacturer      string           `json:"manufacturer"`
	UnitOfMeasure     string           `json:"unit_of_measure"`
	TrackingMode      string           `json:"tracking_mode" validate:"omitempty,oneof=serialized bulk"`
	LastPurchasePrice *decimal.Decimal `json:"last_purchase_price"`
	LowStockThreshold *decimal.Decimal `json:"low_stock_threshold"`
}

type createResponse struct {
	Entry   Entry `json:"entry"`
	Created bool  `json:"created"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	limit, err := httpx.QueryInt(r, "limit", 200)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filter := ListFilter{
		Search:       q.Get("q"),
		Category:     q.Get("category"),
		TrackingMode: TrackingMode(q.Get("tracking_mode")),
		LowStockOnly: q.Get("low_stock") == "true",
		Limit:        limit,
		Offset:       offset,
	}
	entries, err := h.service.List(r.Context(), scope, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, created, err := h.service.Create(r.Context(), scope, EntryInput{
		ProductName:       req.ProductName,
		PartNo:            req.PartNo,
		Category:          req.Category,
		Manufacturer:      req.Manufacturer,
		UnitOfMeasure:     req.UnitOfMeasure,
		TrackingMode:      TrackingMode(req.TrackingMode),
		LastPurchasePrice: req.LastPurchasePrice,
		LowStockThreshold: req.LowStockThreshold,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, createResponse{Entry: entry, Created: created})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries, err := h.service.LowStock(r.Context(), scope.CompanyID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
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
	entry, err := h.service.Get(r.Context(), scope, id)
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
	if err := h.service.Delete(r.Context(), scope, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
