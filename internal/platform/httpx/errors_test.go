package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/shared"
)

func TestProblemForStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		title  string
	}{
		{"validation", shared.LineValidation(2, "quantity", "must be positive"), http.StatusBadRequest, "Validation Failed"},
		{"duplicate", &shared.DuplicateBarcodeError{Barcode: "SN-001", Scope: shared.DuplicateGlobal}, http.StatusConflict, "Duplicate Barcode"},
		{"insufficient", shared.NewInsufficientStock("warehouse", "Oil", decimal.NewFromInt(5), decimal.NewFromInt(2)), http.StatusUnprocessableEntity, "Insufficient Stock"},
		{"transition", &shared.InvalidTransitionError{Entity: "unit", ID: 1, From: "fulfilled", To: "issued"}, http.StatusConflict, "Invalid Transition"},
		{"irreversible", &shared.IrreversibleStateError{Entity: "unit", ID: 1, State: "fulfilled"}, http.StatusConflict, "Irreversible State"},
		{"conflict", &shared.ConflictError{Entity: "batch", ID: 4, Reason: "in use"}, http.StatusConflict, "Conflict"},
		{"idempotency", shared.ErrIdempotencyConflict, http.StatusConflict, "Conflict"},
		{"not found", fmt.Errorf("load: %w", shared.ErrNotFound), http.StatusNotFound, "Not Found"},
		{"bad request", fmt.Errorf("%w: empty body", ErrBadRequest), http.StatusBadRequest, "Bad Request"},
		{"fatal", &shared.FatalInvariantError{Invariant: "x", Detail: "y"}, http.StatusInternalServerError, "Internal Error"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "Internal Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ProblemFor(tc.err)
			require.Equal(t, tc.status, p.Status)
			require.Equal(t, tc.title, p.Title)
		})
	}
}

func TestRespondErrorFlattensExtensions(t *testing.T) {
	rec := httptest.NewRecorder()
	err := shared.NewInsufficientStock("warehouse", "Oil Filter", decimal.NewFromInt(20), decimal.NewFromInt(10))
	err.Line = 2
	err.CatalogEntryID = 11
	RespondError(rec, nil, fmt.Errorf("commit issuance: %w", err))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "10", body["shortfall"])
	require.Equal(t, "Oil Filter", body["item"])
	require.EqualValues(t, 2, body["line"])
	require.EqualValues(t, 11, body["catalog_entry_id"])
}

func TestInternalErrorsHideDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, nil, fmt.Errorf("dial tcp 10.0.0.3:5432: refused"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "10.0.0.3")
}
