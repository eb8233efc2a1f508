package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/globalexchange/cambios/internal/auth"
	"github.com/globalexchange/cambios/internal/config"
	"github.com/globalexchange/cambios/internal/flow"
	"github.com/globalexchange/cambios/internal/limits"
	"github.com/globalexchange/cambios/internal/orchestrator"
	"github.com/globalexchange/cambios/internal/queue"
	"github.com/globalexchange/cambios/internal/rails"
	"github.com/globalexchange/cambios/pkg/models"
)

type nopSender struct{}

func (nopSender) Send(ctx context.Context, userID uuid.UUID, code string) error { return nil }

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	client models.Client
	kiosk  models.Kiosk
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Category{}, &models.Client{}, &models.Currency{},
		&models.LimitConfig{}, &models.LimitBalance{}, &models.OneTimeCode{},
		&models.Transaction{}, &models.MethodConfig{},
		&models.NationalCard{}, &models.Wallet{}, &models.BankAccount{}, &models.Kiosk{},
	))

	category := models.Category{ID: uuid.New(), Name: "standard", Discount: decimal.Zero}
	require.NoError(t, db.Create(&category).Error)
	client := models.Client{
		ID: uuid.New(), Kind: models.ClientNaturalPerson, Name: "HTTP Client",
		Email: "http@example.com", CategoryID: category.ID,
	}
	require.NoError(t, db.Create(&client).Error)
	require.NoError(t, db.Create(&models.Currency{
		Code: "USD", Name: "US Dollar",
		BasePrice:      decimal.NewFromInt(7500),
		BuyCommission:  decimal.NewFromInt(100),
		SellCommission: decimal.NewFromInt(100),
		AmountDecimals: 2, RateDecimals: 2, Active: true,
	}).Error)
	require.NoError(t, db.Create(&models.LimitConfig{
		ID: uuid.New(), CategoryID: category.ID, CurrencyCode: "USD",
		DailyCap: decimal.NewFromInt(10000), MonthlyCap: decimal.NewFromInt(50000),
	}).Error)
	for _, forPayment := range []bool{true, false} {
		require.NoError(t, db.Create(&models.MethodConfig{
			ID: uuid.New(), Kind: models.MethodKiosk, ForPayment: forPayment, Enabled: true,
		}).Error)
	}
	kiosk := models.Kiosk{ID: uuid.New(), Name: "Centro", Active: true}
	require.NoError(t, db.Create(&kiosk).Error)

	cfg := &config.Config{}
	cfg.Auth.CodeTTL = 5 * time.Minute
	cfg.Transfers.PendingExpiry = 2 * time.Minute

	logger := zap.NewNop()
	ledger := limits.NewService(logger, db)
	exchange := orchestrator.NewService(logger, db, ledger,
		auth.NewService(logger, db, nopSender{}, cfg.Auth.CodeTTL),
		flow.NewMemoryStore(10*time.Minute),
		rails.NewPaymentDispatcher(logger, db, nil),
		queue.NewMemoryQueue(), cfg)

	srv := New(logger, db, exchange, ledger, nil, cfg)
	return &testServer{router: srv.Router(), db: db, client: client, kiosk: kiosk}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestQuoteEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/rates/quote?direction=SELL&currency=USD&amount=7600000", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Rate         decimal.Decimal `json:"rate"`
		TargetAmount decimal.Decimal `json:"target_amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Rate.Equal(decimal.NewFromInt(7600)))
	assert.True(t, got.TargetAmount.Equal(decimal.NewFromInt(1000)))

	rec = s.do(t, http.MethodGet, "/v1/rates/quote?direction=SELL&currency=EUR&amount=100", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/rates/quote?direction=SWAP&currency=USD&amount=100", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateExchangeEndpoint(t *testing.T) {
	s := newTestServer(t)
	userID := uuid.New()

	body := map[string]interface{}{
		"client_id":       s.client.ID,
		"direction":       "SELL",
		"source_currency": "PYG",
		"target_currency": "USD",
		"source_amount":   "7600000",
		"payment":         map[string]interface{}{"kind": "kiosk", "id": s.kiosk.ID},
		"collection":      map[string]interface{}{"kind": "kiosk", "id": s.kiosk.ID},
	}

	// The user header is mandatory.
	rec := s.do(t, http.MethodPost, "/v1/exchange", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/exchange", body, userID.String())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res orchestrator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, orchestrator.ResultPaid, res.Status)
	require.NotNil(t, res.Transaction)

	// The transaction is retrievable by id.
	rec = s.do(t, http.MethodGet, "/v1/transactions/"+res.Transaction.ID.String(), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// The limit balance reflects the debit.
	rec = s.do(t, http.MethodGet,
		fmt.Sprintf("/v1/clients/%s/limits/USD", s.client.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var balance models.LimitBalance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.True(t, balance.DailyRemaining.Equal(decimal.NewFromInt(9000)),
		"daily remaining = %s", balance.DailyRemaining)
}

func TestExchangeValidationMapping(t *testing.T) {
	s := newTestServer(t)
	userID := uuid.New().String()

	body := map[string]interface{}{
		"client_id":       s.client.ID,
		"direction":       "SELL",
		"source_currency": "USD",
		"target_currency": "PYG",
		"source_amount":   "100",
		"payment":         map[string]interface{}{"kind": "kiosk", "id": s.kiosk.ID},
		"collection":      map[string]interface{}{"kind": "kiosk", "id": s.kiosk.ID},
	}
	rec := s.do(t, http.MethodPost, "/v1/exchange", body, userID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A disabled method maps to a conflict.
	require.NoError(t, s.db.Model(&models.MethodConfig{}).
		Where("kind = ? AND for_payment = ?", models.MethodKiosk, true).
		Update("enabled", false).Error)
	body["source_currency"] = "PYG"
	body["target_currency"] = "USD"
	rec = s.do(t, http.MethodPost, "/v1/exchange", body, userID)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelEndpointConflicts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/transactions/"+uuid.NewString()+"/cancel", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/transactions/not-a-uuid/cancel", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvoiceRetryDisabled(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/invoices/"+uuid.NewString()+"/retry", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
