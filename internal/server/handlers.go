package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/internal/auth"
	"github.com/globalexchange/cambios/internal/flow"
	"github.com/globalexchange/cambios/internal/limits"
	"github.com/globalexchange/cambios/internal/orchestrator"
	"github.com/globalexchange/cambios/internal/rates"
	"github.com/globalexchange/cambios/internal/sequence"
	"github.com/globalexchange/cambios/pkg/metrics"
	"github.com/globalexchange/cambios/pkg/models"
)

// QuoteHandler previews the rate and converted amount for a prospective
// exchange without touching limits or creating anything.
func (s *Server) QuoteHandler(c *gin.Context) {
	direction := models.Direction(c.Query("direction"))
	if direction != models.DirectionBuy && direction != models.DirectionSell {
		s.badRequest(c, "INVALID_DIRECTION", "direction must be BUY or SELL")
		return
	}

	code := c.Query("currency")
	var quoted models.Currency
	if err := s.db.WithContext(c.Request.Context()).
		First(&quoted, "code = ? AND active = ?", code, true).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":    "CURRENCY_NOT_FOUND",
				"message":  "currency is not quoted",
				"trace_id": traceID(c),
			})
			return
		}
		s.internalError(c, "failed to load currency", err)
		return
	}

	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || amount.Sign() <= 0 {
		s.badRequest(c, "INVALID_AMOUNT", "amount must be a positive number")
		return
	}

	params := rates.Params{Discount: decimal.Zero}
	if clientID := c.Query("client_id"); clientID != "" {
		id, err := uuid.Parse(clientID)
		if err != nil {
			s.badRequest(c, "INVALID_CLIENT_ID", "client_id must be a uuid")
			return
		}
		var client models.Client
		if err := s.db.WithContext(c.Request.Context()).
			Preload("Category").First(&client, "id = ?", id).Error; err == nil && client.Category != nil {
			params.Discount = client.Category.Discount
		}
	}
	params.PaymentCommission = s.methodCommission(c, c.Query("payment_kind"), true)
	params.CollectionCommission = s.methodCommission(c, c.Query("collection_kind"), false)

	rate := rates.Rate(direction, rates.PricingFor(&quoted), params)

	sourceCurrency, targetCurrency := models.BaseCurrency, quoted.Code
	targetDecimals := quoted.AmountDecimals
	if direction == models.DirectionBuy {
		sourceCurrency, targetCurrency = quoted.Code, models.BaseCurrency
		targetDecimals = 0
	}
	converted := rates.Convert(sourceCurrency, targetCurrency, amount, rate, targetDecimals)

	c.JSON(http.StatusOK, gin.H{
		"direction":        direction,
		"source_currency":  sourceCurrency,
		"target_currency":  targetCurrency,
		"rate":             rate,
		"source_amount":    amount,
		"target_amount":    converted,
		"target_formatted": rates.FormatAmount(converted, targetDecimals),
	})
}

// CreateExchangeHandler starts an exchange transaction for the caller.
func (s *Server) CreateExchangeHandler(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		return
	}

	var req orchestrator.ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	logger := s.logger.With(
		zap.String("trace_id", traceID(c)),
		zap.String("client_id", req.ClientID.String()),
		zap.String("direction", string(req.Direction)))

	res, err := s.exchange.Create(c.Request.Context(), userID, &req)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues(string(req.Direction), "rejected").Inc()
		s.exchangeError(c, logger, err)
		return
	}

	metrics.TransactionsTotal.WithLabelValues(string(req.Direction), string(res.Status)).Inc()
	status := http.StatusCreated
	if res.Status == orchestrator.ResultSuspended || res.Status == orchestrator.ResultFailed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// ResumeExchangeHandler continues a suspended flow with the step-up code or
// wallet PIN.
func (s *Server) ResumeExchangeHandler(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		return
	}

	var req struct {
		Token     string `json:"token" binding:"required"`
		Code      string `json:"code"`
		WalletPIN string `json:"wallet_pin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	logger := s.logger.With(zap.String("trace_id", traceID(c)))

	res, err := s.exchange.Resume(c.Request.Context(), userID, req.Token, req.Code, req.WalletPIN)
	if err != nil {
		switch {
		case errors.Is(err, flow.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":    "FLOW_NOT_FOUND",
				"message":  "no suspended flow for this token",
				"trace_id": traceID(c),
			})
		case errors.Is(err, auth.ErrInvalidCode), errors.Is(err, auth.ErrCodeExpired):
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":    "INVALID_CODE",
				"message":  err.Error(),
				"trace_id": traceID(c),
			})
		default:
			s.exchangeError(c, logger, err)
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetTransactionHandler returns one transaction by id.
func (s *Server) GetTransactionHandler(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var tx models.Transaction
	if err := s.db.WithContext(c.Request.Context()).First(&tx, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			s.notFound(c, "TRANSACTION_NOT_FOUND")
			return
		}
		s.internalError(c, "failed to load transaction", err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ConfirmTransferHandler applies a manually entered bank reference.
func (s *Server) ConfirmTransferHandler(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var req struct {
		Reference string `json:"reference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := s.exchange.ConfirmTransfer(c.Request.Context(), id, req.Reference)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotPending) {
			s.conflict(c, "NOT_PENDING", err.Error())
			return
		}
		s.internalError(c, "failed to confirm transfer", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CancelTransactionHandler aborts a pending transaction.
func (s *Server) CancelTransactionHandler(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	if err := s.exchange.Cancel(c.Request.Context(), id); err != nil {
		if errors.Is(err, orchestrator.ErrNotPending) {
			s.conflict(c, "NOT_PENDING", err.Error())
			return
		}
		s.internalError(c, "failed to cancel transaction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": models.StateCancelled})
}

// AnnulTransactionHandler administratively voids a transaction.
func (s *Server) AnnulTransactionHandler(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	if err := s.exchange.Annul(c.Request.Context(), id); err != nil {
		if errors.Is(err, orchestrator.ErrNotAnnullable) {
			s.conflict(c, "NOT_ANNULLABLE", err.Error())
			return
		}
		s.internalError(c, "failed to annul transaction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": models.StateAnnulled})
}

// RemainingLimitHandler returns the client's remaining exchange limit for a
// currency.
func (s *Server) RemainingLimitHandler(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	balance, err := s.ledger.Remaining(c.Request.Context(), id, c.Param("currency"))
	if err != nil {
		if errors.Is(err, limits.ErrNoLimitConfig) {
			s.notFound(c, "NO_LIMIT_CONFIG")
			return
		}
		s.internalError(c, "failed to load limit balance", err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// GetInvoiceHandler returns an invoice, refreshing its status from the
// fiscal proxy when it has been submitted.
func (s *Server) GetInvoiceHandler(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	if s.invoices != nil {
		inv, err := s.invoices.Refresh(c.Request.Context(), id)
		if err == nil {
			c.JSON(http.StatusOK, inv)
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.notFound(c, "INVOICE_NOT_FOUND")
			return
		}
		s.logger.Warn("invoice status refresh failed",
			zap.String("trace_id", traceID(c)), zap.Error(err))
	}

	var inv models.Invoice
	if err := s.db.WithContext(c.Request.Context()).First(&inv, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			s.notFound(c, "INVOICE_NOT_FOUND")
			return
		}
		s.internalError(c, "failed to load invoice", err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// RetryInvoiceHandler resubmits a rejected fiscal document.
func (s *Server) RetryInvoiceHandler(c *gin.Context) {
	if s.invoices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":    "INVOICING_DISABLED",
			"message":  "fiscal document issuance is not enabled",
			"trace_id": traceID(c),
		})
		return
	}
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	inv, err := s.invoices.Retry(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.notFound(c, "INVOICE_NOT_FOUND")
		case errors.Is(err, sequence.ErrRangeExhausted):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":    "RANGE_EXHAUSTED",
				"message":  "the fiscal numbering range has no numbers left",
				"trace_id": traceID(c),
			})
		default:
			s.internalError(c, "failed to retry invoice", err)
		}
		return
	}
	c.JSON(http.StatusOK, inv)
}

// exchangeError maps orchestrator failures to HTTP status codes.
func (s *Server) exchangeError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrMethodDisabled):
		s.conflict(c, "METHOD_DISABLED", err.Error())
	case errors.Is(err, orchestrator.ErrInvalidAmount),
		errors.Is(err, orchestrator.ErrInvalidPair),
		errors.Is(err, orchestrator.ErrNationalCardCurrency):
		s.badRequest(c, "INVALID_EXCHANGE", err.Error())
	case errors.Is(err, limits.ErrLimitExceeded):
		metrics.LimitRejectionsTotal.Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "LIMIT_EXCEEDED",
			"message":  "the exchange limit does not cover this operation",
			"trace_id": traceID(c),
		})
	case errors.Is(err, limits.ErrNoLimitConfig):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "NO_LIMIT_CONFIG",
			"message":  "no exchange limit is configured for this client and currency",
			"trace_id": traceID(c),
		})
	default:
		logger.Error("exchange request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "EXCHANGE_FAILED",
			"message":  "failed to process the exchange request",
			"trace_id": traceID(c),
		})
	}
}

func (s *Server) methodCommission(c *gin.Context, kind string, forPayment bool) *decimal.Decimal {
	if kind == "" {
		return nil
	}
	var cfg models.MethodConfig
	err := s.db.WithContext(c.Request.Context()).
		Where("kind = ? AND for_payment = ?", kind, forPayment).
		First(&cfg).Error
	if err != nil || cfg.Commission.IsZero() {
		return nil
	}
	commission := cfg.Commission
	return &commission
}

// callerID reads the authenticated user id injected by the gateway.
func (s *Server) callerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":    "MISSING_USER",
			"message":  "X-User-ID header is required",
			"trace_id": traceID(c),
		})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.badRequest(c, "INVALID_ID", "id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":    code,
		"message":  message,
		"trace_id": traceID(c),
	})
}

func (s *Server) conflict(c *gin.Context, code, message string) {
	c.JSON(http.StatusConflict, gin.H{
		"error":    code,
		"message":  message,
		"trace_id": traceID(c),
	})
}

func (s *Server) notFound(c *gin.Context, code string) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":    code,
		"trace_id": traceID(c),
	})
}

func (s *Server) internalError(c *gin.Context, message string, err error) {
	s.logger.Error(message, zap.String("trace_id", traceID(c)), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":    "INTERNAL_ERROR",
		"message":  message,
		"trace_id": traceID(c),
	})
}
