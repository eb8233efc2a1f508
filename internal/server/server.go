// Package server exposes the exchange engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/internal/config"
	"github.com/globalexchange/cambios/internal/invoice"
	"github.com/globalexchange/cambios/internal/limits"
	"github.com/globalexchange/cambios/internal/orchestrator"
)

// Server wires the HTTP handlers to the engine services.
type Server struct {
	logger   *zap.Logger
	db       *gorm.DB
	exchange *orchestrator.Service
	ledger   limits.Ledger
	invoices *invoice.Coordinator
	cfg      *config.Config
	http     *http.Server
}

// New builds the server. invoices may be nil when invoicing is disabled.
func New(logger *zap.Logger, db *gorm.DB, exchange *orchestrator.Service,
	ledger limits.Ledger, invoices *invoice.Coordinator, cfg *config.Config) *Server {
	return &Server{
		logger:   logger,
		db:       db,
		exchange: exchange,
		ledger:   ledger,
		invoices: invoices,
		cfg:      cfg,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(TraceIDMiddleware())
	router.Use(MetricsMiddleware())

	router.GET("/health", s.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/rates/quote", s.QuoteHandler)

		v1.POST("/exchange", s.CreateExchangeHandler)
		v1.POST("/exchange/resume", s.ResumeExchangeHandler)

		v1.GET("/transactions/:id", s.GetTransactionHandler)
		v1.POST("/transactions/:id/transfer", s.ConfirmTransferHandler)
		v1.POST("/transactions/:id/cancel", s.CancelTransactionHandler)
		v1.POST("/transactions/:id/annul", s.AnnulTransactionHandler)

		v1.GET("/clients/:id/limits/:currency", s.RemainingLimitHandler)

		v1.GET("/invoices/:id", s.GetInvoiceHandler)
		v1.POST("/invoices/:id/retry", s.RetryInvoiceHandler)
	}

	return router
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.HTTP.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// HealthHandler reports liveness and database reachability.
func (s *Server) HealthHandler(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
