package batch

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/platform/httpx"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Handler wires HTTP endpoints for batches, consumption and write-offs.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler constructs batch handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/receiving", h.handleReceiving)
	r.Post("/issuance", h.handleIssuance)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDelete)
}

type scannedUnitRequest struct {
	Barcode     string `json:"barcode" validate:"required"`
	SKUMetadata string `json:"sku_metadata"`
}

type receivingLineRequest struct {
	ProductName       string               `json:"product_name" validate:"required"`
	PartNo            string               `json:"part_no"`
	Category          string               `json:"category"`
	Manufacturer      string               `json:"manufacturer"`
	UnitOfMeasure     string               `json:"unit_of_measure"`
	TrackingMode      string               `json:"tracking_mode" validate:"omitempty,oneof=serialized bulk"`
	Quantity          decimal.Decimal      `json:"quantity"`
	UnitPrice         *decimal.Decimal     `json:"unit_price"`
	LowStockThreshold *decimal.Decimal     `json:"low_stock_threshold"`
	Units             []scannedUnitRequest `json:"units" validate:"dive"`
	Notes             string               `json:"notes"`
}

type receivingRequest struct {
	Supplier  string                 `json:"supplier"`
	Reference string                 `json:"reference" validate:"required"`
	Lines     []receivingLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type itemLineRequest struct {
	CatalogEntryID int64           `json:"catalog_entry_id"`
	ItemName       string          `json:"item_name"`
	UnitOfMeasure  string          `json:"unit_of_measure"`
	Quantity       decimal.Decimal `json:"quantity"`
	Barcodes       []string        `json:"barcodes"`
	Notes          string          `json:"notes"`
}

func (l itemLineRequest) item() LineItem {
	if l.CatalogEntryID > 0 {
		return CataloguedItem{CatalogEntryID: l.CatalogEntryID}
	}
	if strings.TrimSpace(l.ItemName) != "" {
		return AdHocItem{Name: l.ItemName, UnitOfMeasure: l.UnitOfMeasure}
	}
	return nil
}

type issuanceRequest struct {
	PersonnelID int64             `json:"personnel_id" validate:"required,gt=0"`
	BatchName   string            `json:"batch_name" validate:"required"`
	Lines       []itemLineRequest `json:"lines" validate:"required,min=1"`
}

type consumptionRequest struct {
	PersonnelID int64 `json:"personnel_id"`
	itemLineRequest
}

type removeUnitRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleReceiving(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req receivingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := ReceivingInput{Supplier: req.Supplier, Reference: req.Reference, CreatedBy: scope.PersonnelID}
	for _, l := range req.Lines {
		line := ReceivingLine{
			ProductName:       l.ProductName,
			PartNo:            l.PartNo,
			Category:          l.Category,
			Manufacturer:      l.Manufacturer,
			UnitOfMeasure:     l.UnitOfMeasure,
			TrackingMode:      catalog.TrackingMode(l.TrackingMode),
			Quantity:          l.Quantity,
			UnitPrice:         l.UnitPrice,
			LowStockThreshold: l.LowStockThreshold,
			Notes:             l.Notes,
		}
		for _, u := range l.Units {
			line.Units = append(line.Units, ScannedUnit{Barcode: u.Barcode, SKUMetadata: u.SKUMetadata})
		}
		in.Lines = append(in.Lines, line)
	}
	res, err := h.engine.CommitReceiving(r.Context(), scope, in, r.Header.Get("Idempotency-Key"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleIssuance(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req issuanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := IssuanceInput{PersonnelID: req.PersonnelID, BatchName: req.BatchName, CreatedBy: scope.PersonnelID}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, IssuanceLine{Item: l.item(), Quantity: l.Quantity, Barcodes: l.Barcodes, Notes: l.Notes})
	}
	res, err := h.engine.CommitIssuance(r.Context(), scope, in, r.Header.Get("Idempotency-Key"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	personnelID, err := httpx.QueryInt64(r, "personnel_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 100)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	kind := Kind(r.URL.Query().Get("kind"))
	if kind != "" && kind != KindReceiving && kind != KindIssuance {
		httpx.RespondError(w, h.logger, shared.Validation("kind", "must be receiving or issuance"))
		return
	}
	batches, err := h.engine.List(r.Context(), scope, ListFilter{Kind: kind, PersonnelID: personnelID, Limit: limit})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if batches == nil {
		batches = []Batch{}
	}
	httpx.JSON(w, http.StatusOK, batches)
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
	detail, err := h.engine.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
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
	if err := h.engine.DeleteBatch(r.Context(), scope, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Consume logs field consumption for one engineer.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req consumptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries, err := h.engine.LogConsumption(r.Context(), scope, ConsumptionInput{
		PersonnelID: req.PersonnelID,
		Item:        req.item(),
		Quantity:    req.Quantity,
		Barcodes:    req.Barcodes,
		Notes:       req.Notes,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entries)
}

// RemoveUnit writes off the unit named by the {id} parameter.
func (h *Handler) RemoveUnit(w http.ResponseWriter, r *http.Request) {
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
	var req removeUnitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	unit, err := h.engine.RemoveUnit(r.Context(), scope, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}
