package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// ErrBadRequest marks undecodable request bodies or parameters.
var ErrBadRequest = errors.New("bad request")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	WriteProblem(w, ProblemFor(err))
	if logger == nil {
		return
	}
	switch {
	case errors.Is(err, shared.ErrFatalInvariant):
		logger.Error("ledger invariant violated", slog.Any("error", err))
	case isClientError(err):
		logger.Debug("request rejected", slog.Any("error", err))
	default:
		logger.Error("request failed", slog.Any("error", err))
	}
}

// ProblemFor builds the problem document for err.
func ProblemFor(err error) ProblemDetail {
	var (
		validationErr   *shared.ValidationError
		duplicateErr    *shared.DuplicateBarcodeError
		insufficientErr *shared.InsufficientStockError
		transitionErr   *shared.InvalidTransitionError
		conflictErr     *shared.ConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		ext := map[string]any{}
		if validationErr.Field != "" {
			ext["field"] = validationErr.Field
		}
		if validationErr.Line > 0 {
			ext["line"] = validationErr.Line
		}
		return ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Detail: err.Error(), Extensions: ext}
	case errors.As(err, &duplicateErr):
		ext := map[string]any{"barcode": duplicateErr.Barcode, "scope": string(duplicateErr.Scope)}
		if duplicateErr.Line > 0 {
			ext["line"] = duplicateErr.Line
		}
		return ProblemDetail{Title: "Duplicate Barcode", Status: http.StatusConflict, Detail: err.Error(), Extensions: ext}
	case errors.As(err, &insufficientErr):
		ext := map[string]any{
			"item":      insufficientErr.Item,
			"requested": insufficientErr.Requested.String(),
			"available": insufficientErr.Available.String(),
			"shortfall": insufficientErr.Shortfall.String(),
		}
		if insufficientErr.CatalogEntryID > 0 {
			ext["catalog_entry_id"] = insufficientErr.CatalogEntryID
		}
		if insufficientErr.Line > 0 {
			ext["line"] = insufficientErr.Line
		}
		return ProblemDetail{Title: "Insufficient Stock", Status: http.StatusUnprocessableEntity, Detail: err.Error(), Extensions: ext}
	case errors.As(err, &transitionErr):
		ext := map[string]any{"from": transitionErr.From, "to": transitionErr.To}
		return ProblemDetail{Title: "Invalid Transition", Status: http.StatusConflict, Detail: err.Error(), Extensions: ext}
	case errors.Is(err, shared.ErrIrreversibleState):
		return ProblemDetail{Title: "Irreversible State", Status: http.StatusConflict, Detail: err.Error()}
	case errors.As(err, &conflictErr):
		var ext map[string]any
		if len(conflictErr.Blockers) > 0 {
			ext = map[string]any{"blockers": conflictErr.Blockers}
		}
		return ProblemDetail{Title: "Conflict", Status: http.StatusConflict, Detail: err.Error(), Extensions: ext}
	case errors.Is(err, shared.ErrConflict):
		return ProblemDetail{Title: "Conflict", Status: http.StatusConflict, Detail: err.Error()}
	case errors.Is(err, shared.ErrNotFound):
		return ProblemDetail{Title: "Not Found", Status: http.StatusNotFound, Detail: err.Error()}
	case errors.Is(err, ErrBadRequest):
		return ProblemDetail{Title: "Bad Request", Status: http.StatusBadRequest, Detail: err.Error()}
	case errors.Is(err, shared.ErrFatalInvariant):
		return ProblemDetail{Title: "Internal Error", Status: http.StatusInternalServerError, Detail: shared.UserSafeMessage(err)}
	default:
		return ProblemDetail{Title: "Internal Error", Status: http.StatusInternalServerError}
	}
}

func isClientError(err error) bool {
	for _, target := range []error{
		shared.ErrValidation, shared.ErrDuplicateBarcode, shared.ErrInsufficientStock,
		shared.ErrInvalidTransition, shared.ErrIrreversibleState, shared.ErrConflict,
		shared.ErrNotFound, ErrBadRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
