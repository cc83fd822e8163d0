package units

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Register creates an in_stock unit. A barcode already registered anywhere, under
// any catalog entry, fails with the global DuplicateBarcodeError.
func Register(ctx context.Context, tx TxRepository, companyID int64, line int, in NewUnit) (Unit, error) {
	in.Barcode = strings.TrimSpace(in.Barcode)
	key := BarcodeKey(in.Barcode)
	if key == "" {
		return Unit{}, shared.LineValidation(line, "barcode", "must not be empty")
	}
	duplicate := &shared.DuplicateBarcodeError{Barcode: in.Barcode, Scope: shared.DuplicateGlobal, Line: line}
	if _, err := tx.FindUnitByBarcode(ctx, key); err == nil {
		return Unit{}, duplicate
	} else if !errors.Is(err, ErrUnitNotFound) {
		return Unit{}, fmt.Errorf("units: lookup barcode: %w", err)
	}
	unit, inserted, err := tx.InsertUnit(ctx, companyID, in, key)
	if err != nil {
		return Unit{}, fmt.Errorf("units: insert: %w", err)
	}
	if !inserted {
		return Unit{}, duplicate
	}
	return unit, nil
}

// Transition moves a unit forward through its state machine. holder is recorded when
// the unit is issued.
func Transition(ctx context.Context, tx TxRepository, companyID, id int64, next Status, holder *int64) (Unit, error) {
	unit, err := tx.GetUnitForUpdate(ctx, companyID, id)
	if err != nil {
		return Unit{}, err
	}
	if !unit.Status.CanTransitionTo(next) {
		return Unit{}, &shared.InvalidTransitionError{Entity: "unit", ID: id, From: string(unit.Status), To: string(next)}
	}
	issuedTo := unit.IssuedTo
	switch next {
	case StatusIssued:
		issuedTo = holder
	case StatusRemoved:
		issuedTo = nil
	}
	if err := tx.SetUnitStatus(ctx, id, next, issuedTo); err != nil {
		return Unit{}, err
	}
	unit.Status = next
	unit.IssuedTo = issuedTo
	return unit, nil
}

// ReverseToInStock returns an issued unit to the warehouse. Fulfilled units cannot be
// reversed.
func ReverseToInStock(ctx context.Context, tx TxRepository, companyID, id int64) (Unit, error) {
	unit, err := tx.GetUnitForUpdate(ctx, companyID, id)
	if err != nil {
		return Unit{}, err
	}
	switch unit.Status {
	case StatusIssued:
	case StatusFulfilled:
		return Unit{}, &shared.IrreversibleStateError{Entity: "unit", ID: id, State: string(unit.Status)}
	default:
		return Unit{}, &shared.InvalidTransitionError{Entity: "unit", ID: id, From: string(unit.Status), To: string(StatusInStock)}
	}
	if err := tx.SetUnitStatus(ctx, id, StatusInStock, nil); err != nil {
		return Unit{}, err
	}
	unit.Status = StatusInStock
	unit.IssuedTo = nil
	return unit, nil
}
