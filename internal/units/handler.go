package units

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the unit registry.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs units handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers unit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/check-barcode", h.handleCheckBarcode)
	r.Get("/{id}", h.handleGet)
}

// ListByEntry serves the units of the catalog entry named by the {id} parameter.
func (h *Handler) ListByEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.list(w, r, entryID)
}

type checkBarcodeRequest struct {
	Barcode string   `json:"barcode" validate:"required"`
	Staged  []string `json:"staged"`
}

type checkBarcodeResponse struct {
	Barcode   string `json:"barcode"`
	Available bool   `json:"available"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entryID, err := httpx.QueryInt64(r, "catalog_entry_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.list(w, r, entryID)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, entryID int64) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	holder, err := httpx.QueryInt64(r, "issued_to")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	list, err := h.service.List(r.Context(), scope, ListFilter{
		CatalogEntryID: entryID,
		Status:         Status(r.URL.Query().Get("status")),
		IssuedTo:       holder,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []Unit{}
	}
	httpx.JSON(w, http.StatusOK, list)
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
	unit, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) handleCheckBarcode(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Scope(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req checkBarcodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.CheckBarcode(r.Context(), req.Staged, req.Barcode); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkBarcodeResponse{Barcode: req.Barcode, Available: true})
}
