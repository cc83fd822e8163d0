package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan flags catalog entries at or below their threshold.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskReconciliationWarmup precomputes recent reconciliation reports.
	TaskReconciliationWarmup = "reconciliation:warmup"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// LowStockScanPayload limits a scan to one company; zero scans all.
type LowStockScanPayload struct {
	CompanyID   int64     `json:"company_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewLowStockScanTask constructs the scan task.
func NewLowStockScanTask(companyID int64, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{CompanyID: companyID, RequestedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewReconciliationWarmupTask constructs the warmup task.
func NewReconciliationWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskReconciliationWarmup, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}
