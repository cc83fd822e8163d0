package integration

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fieldstock/fieldstock/internal/batch"
	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/stockrequest"
)

// Publisher delivers an event envelope under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, evt Event) error
}

// Hooks turns committed domain events into published messages.
type Hooks struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewHooks constructs integration hooks. A nil publisher drops every event.
func NewHooks(publisher Publisher, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{publisher: publisher, logger: logger}
}

func (h *Hooks) emit(ctx context.Context, eventType string, companyID int64, data any) error {
	if h == nil || h.publisher == nil {
		return nil
	}
	evt, err := NewEvent(eventType, companyID, data)
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(ctx, eventType, evt); err != nil {
		return err
	}
	h.logger.Debug("event published",
		slog.String("event_type", eventType),
		slog.String("event_id", evt.ID.String()),
		slog.Int64("company_id", companyID))
	return nil
}

// HandleBatchCommitted publishes batch.committed.
func (h *Hooks) HandleBatchCommitted(ctx context.Context, evt batch.CommittedEvent) error {
	if evt.BatchID == 0 {
		return errors.New("integration: batch id required")
	}
	return h.emit(ctx, EventBatchCommitted, evt.CompanyID, evt)
}

// HandleBatchDeleted publishes batch.deleted.
func (h *Hooks) HandleBatchDeleted(ctx context.Context, evt batch.DeletedEvent) error {
	if evt.BatchID == 0 {
		return errors.New("integration: batch id required")
	}
	return h.emit(ctx, EventBatchDeleted, evt.CompanyID, evt)
}

// HandleStockRequestDecided publishes stock_request.decided.
func (h *Hooks) HandleStockRequestDecided(ctx context.Context, evt stockrequest.DecidedEvent) error {
	if evt.RequestID == 0 {
		return errors.New("integration: request id required")
	}
	return h.emit(ctx, EventStockRequestDecided, evt.CompanyID, evt)
}

// HandleLowStock publishes catalog.low_stock when the scan found anything.
func (h *Hooks) HandleLowStock(ctx context.Context, evt catalog.LowStockEvent) error {
	if len(evt.Items) == 0 {
		return nil
	}
	return h.emit(ctx, EventLowStock, evt.CompanyID, evt)
}

var (
	_ batch.IntegrationHandler        = (*Hooks)(nil)
	_ stockrequest.IntegrationHandler = (*Hooks)(nil)
)
