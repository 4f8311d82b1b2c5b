package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const defaultIdempotencyRetention = 7 * 24 * time.Hour

// NewIdempotencyCleanupHandler prunes idempotency keys past retention.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger, metrics *observability.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		retention := payload.Retention
		if retention <= 0 {
			retention = defaultIdempotencyRetention
		}
		if err := store.Cleanup(ctx, retention); err != nil {
			metrics.JobFinished(TaskIdempotencyCleanup, "error")
			return fmt.Errorf("idempotency cleanup: %w", err)
		}
		logger.Info("idempotency keys pruned", slog.Duration("retention", retention))
		metrics.JobFinished(TaskIdempotencyCleanup, "ok")
		return nil
	}
}
