package batch

import (
	"context"
	"time"
)

// CommittedEvent announces a committed batch.
type CommittedEvent struct {
	CompanyID   int64     `json:"company_id"`
	BatchID     int64     `json:"batch_id"`
	Kind        Kind      `json:"kind"`
	Reference   string    `json:"reference"`
	PersonnelID *int64    `json:"personnel_id,omitempty"`
	Lines       int       `json:"lines"`
	Units       int       `json:"units"`
	CommittedAt time.Time `json:"committed_at"`
}

// DeletedEvent announces a reversed batch.
type DeletedEvent struct {
	CompanyID int64     `json:"company_id"`
	BatchID   int64     `json:"batch_id"`
	Kind      Kind      `json:"kind"`
	Reference string    `json:"reference"`
	Effects   int       `json:"effects"`
	DeletedAt time.Time `json:"deleted_at"`
}

// IntegrationHandler receives batch events after commit.
type IntegrationHandler interface {
	HandleBatchCommitted(ctx context.Context, evt CommittedEvent) error
	HandleBatchDeleted(ctx context.Context, evt DeletedEvent) error
}

// Metrics records batch outcomes.
type Metrics interface {
	ObserveBatch(kind, outcome string)
	ObserveInsufficientStock()
	ObserveReversal(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBatch(string, string) {}
func (noopMetrics) ObserveInsufficientStock()   {}
func (noopMetrics) ObserveReversal(string)      {}
