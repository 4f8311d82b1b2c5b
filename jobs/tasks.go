package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity sweeps every customer's prior-month statement
	// and verifies the closing balance against the ledger.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencyCleanup prunes settled idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// LedgerIntegrityPayload scopes an integrity sweep. A zero value means
// the prior calendar month for all customers.
type LedgerIntegrityPayload struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
}

// NewLedgerIntegrityTask constructs the integrity sweep task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// IdempotencyCleanupPayload bounds the key retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
