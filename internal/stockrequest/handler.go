package stockrequest

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Handler exposes the request workflow over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/history", h.handleHistory)
	r.Post("/{id}/decision", h.handleDecision)
}

type lineRequest struct {
	CatalogEntryID int64           `json:"catalog_entry_id"`
	ItemName       string          `json:"item_name"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitOfMeasure  string          `json:"unit_of_measure"`
}

type createRequest struct {
	RequesterID int64         `json:"requester_id"`
	Notes       string        `json:"notes"`
	Lines       []lineRequest `json:"lines" validate:"required,min=1"`
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject fulfill"`
	Note     string `json:"note"`
	// Barcodes maps line numbers to the units picked for serialized lines.
	Barcodes map[string][]string `json:"barcodes"`
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
	in := CreateInput{RequesterID: req.RequesterID, Notes: req.Notes}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, LineInput{
			CatalogEntryID: l.CatalogEntryID,
			ItemName:       l.ItemName,
			Quantity:       l.Quantity,
			UnitOfMeasure:  l.UnitOfMeasure,
		})
	}
	created, err := h.service.Create(r.Context(), scope, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	requesterID, err := httpx.QueryInt64(r, "requester_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 100)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	requests, err := h.service.List(r.Context(), scope, ListFilter{
		Status:      Status(r.URL.Query().Get("status")),
		RequesterID: requesterID,
		Limit:       limit,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if requests == nil {
		requests = []Request{}
	}
	httpx.JSON(w, http.StatusOK, requests)
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
	req, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
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
	logs, err := h.service.History(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
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
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := DecisionInput{Decision: Decision(req.Decision), Note: req.Note}
	if len(req.Barcodes) > 0 {
		in.Barcodes = make(map[int][]string, len(req.Barcodes))
		for key, codes := range req.Barcodes {
			n, err := strconv.Atoi(key)
			if err != nil || n <= 0 {
				httpx.RespondError(w, h.logger, shared.Validation("barcodes", "keys must be line numbers"))
				return
			}
			in.Barcodes[n] = codes
		}
	}
	updated, err := h.service.Process(r.Context(), scope, id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}
