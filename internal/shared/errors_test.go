package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomyMatchesSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{Validation("qty", "must be positive"), ErrValidation},
		{&DuplicateBarcodeError{Barcode: "SN-1", Scope: DuplicateGlobal}, ErrDuplicateBarcode},
		{NewInsufficientStock("warehouse", "Oil Filter", decimal.NewFromInt(2), decimal.NewFromInt(1)), ErrInsufficientStock},
		{&InvalidTransitionError{Entity: "unit", ID: 1, From: "removed", To: "issued"}, ErrInvalidTransition},
		{&IrreversibleStateError{Entity: "unit", ID: 1, State: "fulfilled"}, ErrIrreversibleState},
		{&ConflictError{Entity: "batch", ID: 1, Reason: "blocked"}, ErrConflict},
		{&FatalInvariantError{Invariant: "total", Detail: "negative"}, ErrFatalInvariant},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("wrapped: %w", tc.err)
		require.ErrorIs(t, wrapped, tc.sentinel, tc.err.Error())
	}
}

func TestInsufficientStockShortfall(t *testing.T) {
	err := NewInsufficientStock("warehouse", "Oil Filter", decimal.NewFromInt(20), decimal.NewFromInt(10))
	require.True(t, err.Shortfall.Equal(decimal.NewFromInt(10)))
	require.Contains(t, err.Error(), "short by 10")

	var target *InsufficientStockError
	require.True(t, errors.As(fmt.Errorf("issue: %w", err), &target))
	require.Equal(t, "Oil Filter", target.Item)
}

func TestDuplicateBarcodeMessagesDifferByScope(t *testing.T) {
	same := &DuplicateBarcodeError{Barcode: "SN-001", Scope: DuplicateSameBatch}
	global := &DuplicateBarcodeError{Barcode: "SN-001", Scope: DuplicateGlobal}
	require.NotEqual(t, same.Error(), global.Error())
	require.Contains(t, same.Error(), "this batch")
	require.Contains(t, global.Error(), "already registered")
}

func TestConflictErrorListsBlockers(t *testing.T) {
	err := &ConflictError{Entity: "batch", ID: 7, Reason: "units moved on", Blockers: []Blocker{
		{Entity: "unit", ID: 3, Label: "SN-003", State: "fulfilled"},
		{Entity: "unit", ID: 4},
	}}
	require.Equal(t, "batch 7: units moved on: SN-003 (fulfilled), unit 4", err.Error())
}

func TestUserSafeMessageHidesFatal(t *testing.T) {
	require.Equal(t, "internal ledger error", UserSafeMessage(&FatalInvariantError{Invariant: "x", Detail: "y"}))
	require.Equal(t, "unexpected error", UserSafeMessage(errors.New("pq: boom")))
	require.Contains(t, UserSafeMessage(Validation("name", "required")), "name")
}

func TestFoldKey(t *testing.T) {
	require.Equal(t, FoldKey("  Oil   FILTER "), FoldKey("oil filter"))
	require.Equal(t, "", FoldKey("   "))
	require.NotEqual(t, FoldKey("Oil Filter"), FoldKey("Air Filter"))
}

func TestApprovalRefIsStable(t *testing.T) {
	require.Equal(t, ApprovalRef("STOCK_REQUEST", 9), ApprovalRef("STOCK_REQUEST", 9))
	require.NotEqual(t, ApprovalRef("STOCK_REQUEST", 9), ApprovalRef("STOCK_REQUEST", 10))
}

func TestJobLockKey(t *testing.T) {
	require.Equal(t, "fieldstock:job:low_stock:lock", JobLockKey("low_stock", 0))
	require.Equal(t, "fieldstock:job:low_stock:company:4:lock", JobLockKey("low_stock", 4))
}

func TestIdempotencyKeyScopesCompany(t *testing.T) {
	require.Equal(t, "3:batch:abc", IdempotencyKey(3, "batch", "abc"))
}
