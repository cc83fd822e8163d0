package integration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Routing keys on the events exchange.
const (
	EventBatchCommitted      = "batch.committed"
	EventBatchDeleted        = "batch.deleted"
	EventStockRequestDecided = "stock_request.decided"
	EventLowStock            = "catalog.low_stock"
)

const eventSource = "fieldstock"

// Event is the envelope every message is wrapped in.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	CompanyID int64           `json:"company_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps data in an envelope with a fresh id.
func NewEvent(eventType string, companyID int64, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("integration: encode %s: %w", eventType, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    eventSource,
		CompanyID: companyID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// UnmarshalData decodes the payload into v.
func (e Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}
