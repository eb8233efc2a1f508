// API server for the exchange engine: HTTP in, Kafka jobs out.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/globalexchange/cambios/internal/auth"
	"github.com/globalexchange/cambios/internal/config"
	"github.com/globalexchange/cambios/internal/database"
	"github.com/globalexchange/cambios/internal/flow"
	"github.com/globalexchange/cambios/internal/invoice"
	"github.com/globalexchange/cambios/internal/limits"
	"github.com/globalexchange/cambios/internal/orchestrator"
	"github.com/globalexchange/cambios/internal/queue"
	"github.com/globalexchange/cambios/internal/rails"
	"github.com/globalexchange/cambios/internal/sequence"
	"github.com/globalexchange/cambios/internal/server"
	"github.com/globalexchange/cambios/pkg/logger"
	"github.com/globalexchange/cambios/pkg/metrics"
)

// Suspended flows outlive the one-time code TTL so a late PIN entry still
// finds its draft.
const flowTTL = 15 * time.Minute

func main() {
	cfg := config.Load()

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	metrics.Init()

	db, err := database.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("failed to migrate schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	flows := flow.NewRedisStore(redisClient, flowTTL)

	jobs := queue.NewKafkaQueue(zapLogger, cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer jobs.Close()

	var cards *rails.CardClient
	if cfg.Cards.APIKey != "" {
		cards = rails.NewCardClient(cfg.Cards.APIKey)
	}
	payments := rails.NewPaymentDispatcher(zapLogger, db, cards)

	ledger := limits.NewService(zapLogger, db)
	codes := auth.NewService(zapLogger, db, &auth.LogSender{Logger: zapLogger}, cfg.Auth.CodeTTL)
	exchange := orchestrator.NewService(zapLogger, db, ledger, codes, flows, payments, jobs, cfg)

	var invoices *invoice.Coordinator
	if cfg.Invoicing.Enabled {
		seq := sequence.NewService(zapLogger, db)
		proxy := invoice.NewHTTPProxy(zapLogger, cfg.Invoicing.ProxyURL, cfg.Invoicing.ProxyTimeout)
		invoices = invoice.NewCoordinator(zapLogger, db, seq, proxy, cfg.Invoicing)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(zapLogger, db, exchange, ledger, invoices, cfg)
	if err := srv.Run(ctx); err != nil {
		zapLogger.Fatal("server failed", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}
