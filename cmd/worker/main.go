// Background worker: consumes settlement and invoicing jobs from Kafka and
// runs the time-driven maintenance loops.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/internal/config"
	"github.com/globalexchange/cambios/internal/database"
	"github.com/globalexchange/cambios/internal/invoice"
	"github.com/globalexchange/cambios/internal/limits"
	"github.com/globalexchange/cambios/internal/orchestrator"
	"github.com/globalexchange/cambios/internal/queue"
	"github.com/globalexchange/cambios/internal/rails"
	"github.com/globalexchange/cambios/internal/sequence"
	"github.com/globalexchange/cambios/internal/settlement"
	"github.com/globalexchange/cambios/pkg/logger"
	"github.com/globalexchange/cambios/pkg/metrics"
	"github.com/globalexchange/cambios/pkg/models"
)

const maxJobAttempts = 5

func main() {
	cfg := config.Load()

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	metrics.Init()
	go serveMetrics(zapLogger, cfg.HTTP.MetricsAddr)

	db, err := database.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	jobs := queue.NewKafkaQueue(zapLogger, cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer jobs.Close()

	consumer := queue.NewConsumer(zapLogger, cfg.Kafka.Brokers, cfg.Kafka.Topic,
		cfg.Kafka.GroupID, jobs, maxJobAttempts)
	defer consumer.Close()

	settler := settlement.NewWorker(zapLogger, db, rails.NewCollectionDispatcher(zapLogger, db))
	consumer.Handle(queue.JobSettle, settler.Process)

	if cfg.Invoicing.Enabled {
		seq := sequence.NewService(zapLogger, db)
		proxy := invoice.NewHTTPProxy(zapLogger, cfg.Invoicing.ProxyURL, cfg.Invoicing.ProxyTimeout)
		coordinator := invoice.NewCoordinator(zapLogger, db, seq, proxy, cfg.Invoicing)
		consumer.Handle(queue.JobInvoice, func(ctx context.Context, job queue.Job) error {
			_, err := coordinator.Issue(ctx, job.TransactionID)
			return err
		})
	} else {
		consumer.Handle(queue.JobInvoice, func(ctx context.Context, job queue.Job) error {
			zapLogger.Warn("invoice job received with invoicing disabled",
				zap.String("transaction_id", job.TransactionID.String()))
			return nil
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger := limits.NewService(zapLogger, db)
	go expiryLoop(ctx, zapLogger, db, cfg)
	go resetLoop(ctx, zapLogger, db, ledger)

	zapLogger.Info("worker consuming", zap.String("topic", cfg.Kafka.Topic))
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		zapLogger.Fatal("consumer failed", zap.Error(err))
	}
	zapLogger.Info("worker stopped")
}

// serveMetrics exposes the worker's counters; the worker has no other HTTP
// surface.
func serveMetrics(logger *zap.Logger, addr string) {
	logger.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, metricsMux()); err != nil {
		logger.Error("metrics listener failed", zap.Error(err))
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// expiryLoop sweeps stale pending transactions on the configured cadence.
func expiryLoop(ctx context.Context, logger *zap.Logger, db *gorm.DB, cfg *config.Config) {
	ticker := time.NewTicker(cfg.Transfers.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orchestrator.ExpireStale(ctx, logger, db, cfg.Transfers.PendingExpiry); err != nil {
				logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// resetLoop restores limit balances: daily caps at every local midnight,
// monthly caps additionally on the first of the month.
func resetLoop(ctx context.Context, logger *zap.Logger, db *gorm.DB, ledger limits.Ledger) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		resetAll(ctx, logger, db, ledger, limits.PeriodDaily)
		if next.Day() == 1 {
			resetAll(ctx, logger, db, ledger, limits.PeriodMonthly)
		}
	}
}

func resetAll(ctx context.Context, logger *zap.Logger, db *gorm.DB, ledger limits.Ledger, period limits.Period) {
	var configs []models.LimitConfig
	if err := db.WithContext(ctx).Find(&configs).Error; err != nil {
		logger.Error("failed to list limit configs", zap.Error(err))
		return
	}
	var total int64
	for _, cfg := range configs {
		n, err := ledger.Reset(ctx, cfg.ID, period)
		if err != nil {
			logger.Error("limit reset failed",
				zap.String("config_id", cfg.ID.String()),
				zap.String("period", string(period)),
				zap.Error(err))
			continue
		}
		total += n
	}
	logger.Info("limit balances reset",
		zap.String("period", string(period)),
		zap.Int64("balances", total))
}
