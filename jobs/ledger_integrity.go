package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/ar"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// NewLedgerIntegrityHandler rebuilds each customer's statement for the
// target month. A statement whose closing balance disagrees with the
// ledger fails the sweep so the alert fires.
func NewLedgerIntegrityHandler(service *ar.Service, store ledger.Store, logger *slog.Logger, metrics *observability.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerIntegrityPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		year, month := payload.Year, payload.Month
		if year == 0 || month == 0 {
			prior := time.Now().UTC().AddDate(0, -1, 0)
			year, month = prior.Year(), int(prior.Month())
		}

		customers, err := store.Customers(ctx)
		if err != nil {
			metrics.JobFinished(TaskLedgerIntegrity, "error")
			return fmt.Errorf("list customers: %w", err)
		}

		var failures int
		for _, customerID := range customers {
			if _, err := service.BuildStatement(ctx, customerID, year, month); err != nil {
				if shared.KindOf(err) == shared.KindInternalConsistency {
					failures++
					logger.Error("ledger integrity violation",
						slog.Int64("customer_id", customerID),
						slog.Int("year", year),
						slog.Int("month", month),
						slog.Any("error", err),
					)
					continue
				}
				metrics.JobFinished(TaskLedgerIntegrity, "error")
				return fmt.Errorf("customer %d: %w", customerID, err)
			}
		}

		if failures > 0 {
			metrics.JobFinished(TaskLedgerIntegrity, "violation")
			return fmt.Errorf("ledger integrity: %d customer(s) failed the closing balance check for %04d-%02d", failures, year, month)
		}
		logger.Info("ledger integrity sweep clean",
			slog.Int("customers", len(customers)),
			slog.Int("year", year),
			slog.Int("month", month),
		)
		metrics.JobFinished(TaskLedgerIntegrity, "ok")
		return nil
	}
}
