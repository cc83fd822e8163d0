package stockrequest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Status enumerates the request lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusFulfilled Status = "fulfilled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusFulfilled:
		return true
	}
	return false
}

// Decision is an action taken on a request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionFulfill Decision = "fulfill"
)

// Transition returns the status the decision requires and the one it produces.
func (d Decision) Transition() (from, to Status, ok bool) {
	switch d {
	case DecisionApprove:
		return StatusPending, StatusApproved, true
	case DecisionReject:
		return StatusPending, StatusRejected, true
	case DecisionFulfill:
		return StatusApproved, StatusFulfilled, true
	}
	return "", "", false
}

func (d Decision) approvalAction() shared.ApprovalAction {
	switch d {
	case DecisionApprove:
		return shared.ApprovalApprove
	case DecisionReject:
		return shared.ApprovalReject
	default:
		return shared.ApprovalFulfill
	}
}

// ErrRequestNotFound indicates a missing request.
var ErrRequestNotFound = fmt.Errorf("stock request %w", shared.ErrNotFound)

// ErrStatusChanged is returned by conditional updates that found another status.
var ErrStatusChanged = fmt.Errorf("stock request status changed: %w", shared.ErrConflict)

// Request asks the warehouse for items on behalf of one engineer.
type Request struct {
	ID           int64      `json:"id"`
	CompanyID    int64      `json:"company_id"`
	RequesterID  int64      `json:"requester_id"`
	Status       Status     `json:"status"`
	Notes        string     `json:"notes,omitempty"`
	DecidedBy    *int64     `json:"decided_by,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecisionNote string     `json:"decision_note,omitempty"`
	BatchID      *int64     `json:"batch_id,omitempty"`
	FulfilledAt  *time.Time `json:"fulfilled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Lines        []Line     `json:"lines"`
}

// Source is the batch source tag used when the request is fulfilled.
func (r Request) Source() string {
	return "stock_request:" + strconv.FormatInt(r.ID, 10)
}

// BatchName is the reference given to the fulfilling issuance batch.
func (r Request) BatchName() string {
	return "REQ-" + strconv.FormatInt(r.ID, 10)
}

// Line is one requested item.
type Line struct {
	ID             int64           `json:"id"`
	RequestID      int64           `json:"request_id"`
	LineNo         int             `json:"line_no"`
	ItemName       string          `json:"item_name"`
	CatalogEntryID *int64          `json:"catalog_entry_id,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitOfMeasure  string          `json:"unit_of_measure,omitempty"`
}

// LineInput describes a requested item. CatalogEntryID takes precedence over ItemName.
type LineInput struct {
	CatalogEntryID int64
	ItemName       string
	Quantity       decimal.Decimal
	UnitOfMeasure  string
}

// CreateInput is a new request.
type CreateInput struct {
	RequesterID int64
	Notes       string
	Lines       []LineInput
}

// DecisionInput carries a decision. Barcodes maps line numbers to the units picked
// for serialized items and is only read when fulfilling.
type DecisionInput struct {
	Decision Decision
	Note     string
	Barcodes map[int][]string
}

// ListFilter narrows request listings.
type ListFilter struct {
	Status      Status
	RequesterID int64
	Limit       int
}

// DecidedEvent announces a decision that was committed.
type DecidedEvent struct {
	CompanyID   int64     `json:"company_id"`
	RequestID   int64     `json:"request_id"`
	RequesterID int64     `json:"requester_id"`
	Decision    Decision  `json:"decision"`
	Status      Status    `json:"status"`
	ActorID     int64     `json:"actor_id"`
	BatchID     *int64    `json:"batch_id,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}
