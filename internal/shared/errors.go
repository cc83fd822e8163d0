package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateBarcode marks a barcode that is already staged or registered.
	ErrDuplicateBarcode = errors.New("duplicate barcode")
	// ErrInsufficientStock marks a movement that would overdraw an owner.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition marks a state machine violation.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrIrreversibleState marks an attempt to undo a terminal state.
	ErrIrreversibleState = errors.New("irreversible state")
	// ErrConflict marks an operation blocked by other records.
	ErrConflict = errors.New("conflict")
	// ErrFatalInvariant marks a broken ledger invariant. It must abort the enclosing transaction.
	ErrFatalInvariant = errors.New("fatal invariant violation")
)

// ValidationError describes malformed input. Line is 1-based; zero means the request as a whole.
type ValidationError struct {
	Field  string
	Line   int
	Reason string
}

// Validation builds a ValidationError for a request field.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// LineValidation builds a ValidationError for one line of a batch.
func LineValidation(line int, field, reason string) *ValidationError {
	return &ValidationError{Field: field, Line: line, Reason: reason}
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Line > 0 {
		fmt.Fprintf(&b, ": line %d", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DuplicateScope tells whether a duplicate barcode was found in the staged batch or in the registry.
type DuplicateScope string

const (
	DuplicateSameBatch DuplicateScope = "same_batch"
	DuplicateGlobal    DuplicateScope = "global"
)

// DuplicateBarcodeError reports a barcode that cannot be registered.
type DuplicateBarcodeError struct {
	Barcode string
	Scope   DuplicateScope
	Line    int
}

func (e *DuplicateBarcodeError) Error() string {
	if e.Scope == DuplicateSameBatch {
		return fmt.Sprintf("barcode %q was already scanned in this batch", e.Barcode)
	}
	return fmt.Sprintf("barcode %q is already registered", e.Barcode)
}

func (e *DuplicateBarcodeError) Is(target error) bool { return target == ErrDuplicateBarcode }

// InsufficientStockError reports the shortfall of a rejected movement.
type InsufficientStockError struct {
	CatalogEntryID int64
	Item           string
	Owner          string
	Line           int
	Requested      decimal.Decimal
	Available      decimal.Decimal
	Shortfall      decimal.Decimal
}

// NewInsufficientStock computes the shortfall from requested and available quantities.
func NewInsufficientStock(owner, item string, requested, available decimal.Decimal) *InsufficientStockError {
	return &InsufficientStockError{
		Owner:     owner,
		Item:      item,
		Requested: requested,
		Available: available,
		Shortfall: requested.Sub(available),
	}
}

func (e *InsufficientStockError) Error() string {
	msg := fmt.Sprintf("insufficient stock for %s held by %s: requested %s, available %s, short by %s",
		e.Item, e.Owner, e.Requested.String(), e.Available.String(), e.Shortfall.String())
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvalidTransitionError reports a forbidden status change.
type InvalidTransitionError struct {
	Entity string
	ID     int64
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %d: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// IrreversibleStateError reports an attempt to reverse a terminal state.
type IrreversibleStateError struct {
	Entity string
	ID     int64
	State  string
}

func (e *IrreversibleStateError) Error() string {
	return fmt.Sprintf("%s %d is %s and cannot be reversed", e.Entity, e.ID, e.State)
}

func (e *IrreversibleStateError) Is(target error) bool { return target == ErrIrreversibleState }

// Blocker names one record that prevents a deletion.
type Blocker struct {
	Entity string `json:"entity"`
	ID     int64  `json:"id"`
	Label  string `json:"label,omitempty"`
	State  string `json:"state,omitempty"`
}

// ConflictError reports an operation blocked by downstream references.
type ConflictError struct {
	Entity   string
	ID       int64
	Reason   string
	Blockers []Blocker
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
	if e.ID == 0 {
		msg = fmt.Sprintf("%s: %s", e.Entity, e.Reason)
	}
	if len(e.Blockers) == 0 {
		return msg
	}
	labels := make([]string, 0, len(e.Blockers))
	for _, b := range e.Blockers {
		label := b.Label
		if label == "" {
			label = fmt.Sprintf("%s %d", b.Entity, b.ID)
		}
		if b.State != "" {
			label = fmt.Sprintf("%s (%s)", label, b.State)
		}
		labels = append(labels, label)
	}
	return fmt.Sprintf("%s: %s", msg, strings.Join(labels, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// FatalInvariantError signals a ledger defect. Callers must not recover from it.
type FatalInvariantError struct {
	Invariant string
	Detail    string
}

func (e *FatalInvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

func (e *FatalInvariantError) Is(target error) bool { return target == ErrFatalInvariant }

// UserSafeMessage returns a message that can be shown to the caller.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFatalInvariant):
		return "internal ledger error"
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrDuplicateBarcode),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrIrreversibleState),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotFound):
		return err.Error()
	default:
		return "unexpected error"
	}
}
