// Package settlement runs the asynchronous payout leg of paid transactions.
package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/internal/queue"
	"github.com/globalexchange/cambios/internal/rails"
	"github.com/globalexchange/cambios/pkg/metrics"
	"github.com/globalexchange/cambios/pkg/models"
)

// Worker consumes settle jobs and pays the client out through the
// transaction's collection method. Delivery is at-least-once, so Process is
// idempotent: anything past PAID is a no-op.
type Worker struct {
	logger     *zap.Logger
	db         *gorm.DB
	collection *rails.CollectionDispatcher
}

// NewWorker creates the settlement worker.
func NewWorker(logger *zap.Logger, db *gorm.DB, collection *rails.CollectionDispatcher) *Worker {
	return &Worker{logger: logger, db: db, collection: collection}
}

// Process settles one transaction: PAID becomes COMPLETE on payout success
// or PAYOUT_FAILED when the rail declines. A rail infrastructure error is
// returned so the queue can retry.
func (w *Worker) Process(ctx context.Context, job queue.Job) error {
	var tx models.Transaction
	if err := w.db.WithContext(ctx).First(&tx, "id = ?", job.TransactionID).Error; err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}

	if tx.State != models.StatePaid {
		w.logger.Info("settlement skipped",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("state", string(tx.State)))
		return nil
	}

	out, err := w.collection.Payout(ctx, &tx)
	if err != nil {
		return fmt.Errorf("payout dispatch failed: %w", err)
	}

	state := models.StatePayoutFailed
	if out.Status == rails.StatusSuccess {
		state = models.StateComplete
	}

	updates := map[string]interface{}{
		"state":      state,
		"updated_at": time.Now(),
	}
	// Guard on the current state so a racing duplicate delivery cannot
	// overwrite a finished settlement.
	res := w.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND state = ?", tx.ID, models.StatePaid).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update transaction state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		w.logger.Info("settlement already applied", zap.String("transaction_id", tx.ID.String()))
		return nil
	}

	metrics.SettlementJobsTotal.WithLabelValues(string(state)).Inc()
	w.logger.Info("settlement finished",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("state", string(state)),
		zap.String("payout_ref", out.ExternalRef),
		zap.String("payout_message", out.Message))
	return nil
}
