package limits

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/globalexchange/cambios/pkg/models"
)

func setupLedger(t *testing.T) (*Service, *gorm.DB, uuid.UUID, uuid.UUID) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Category{},
		&models.Client{},
		&models.Currency{},
		&models.LimitConfig{},
		&models.LimitBalance{},
	))

	category := models.Category{ID: uuid.New(), Name: "standard", Discount: decimal.Zero}
	require.NoError(t, db.Create(&category).Error)

	client := models.Client{
		ID:         uuid.New(),
		Kind:       models.ClientNaturalPerson,
		Name:       "Test Client",
		Email:      "client@example.com",
		CategoryID: category.ID,
	}
	require.NoError(t, db.Create(&client).Error)

	usd := models.Currency{
		Code:           "USD",
		Name:           "US Dollar",
		BasePrice:      decimal.NewFromInt(7500),
		AmountDecimals: 2,
		RateDecimals:   2,
		Active:         true,
	}
	require.NoError(t, db.Create(&usd).Error)

	cfg := models.LimitConfig{
		ID:           uuid.New(),
		CategoryID:   category.ID,
		CurrencyCode: "USD",
		DailyCap:     decimal.NewFromInt(10000),
		MonthlyCap:   decimal.NewFromInt(50000),
	}
	require.NoError(t, db.Create(&cfg).Error)

	svc := NewService(zap.NewNop(), db)
	return svc, db, client.ID, cfg.ID
}

func TestDebitSequential(t *testing.T) {
	svc, _, clientID, _ := setupLedger(t)
	ctx := context.Background()

	err := svc.Debit(ctx, clientID, "USD", decimal.NewFromInt(6000))
	require.NoError(t, err)

	bal, err := svc.Remaining(ctx, clientID, "USD")
	require.NoError(t, err)
	assert.True(t, bal.DailyRemaining.Equal(decimal.NewFromInt(4000)), "daily remaining = %s", bal.DailyRemaining)
	assert.True(t, bal.MonthlyRemaining.Equal(decimal.NewFromInt(44000)))

	// Second 6000 exceeds the remaining 4000 daily balance.
	err = svc.Debit(ctx, clientID, "USD", decimal.NewFromInt(6000))
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// The failed debit must not have touched the balance.
	bal, err = svc.Remaining(ctx, clientID, "USD")
	require.NoError(t, err)
	assert.True(t, bal.DailyRemaining.Equal(decimal.NewFromInt(4000)))
}

func TestDebitNonPositiveAmount(t *testing.T) {
	svc, _, clientID, _ := setupLedger(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Debit(ctx, clientID, "USD", decimal.Zero), ErrLimitExceeded)
	assert.ErrorIs(t, svc.Debit(ctx, clientID, "USD", decimal.NewFromInt(-100)), ErrLimitExceeded)
}

func TestDebitMonthlyCapBinds(t *testing.T) {
	svc, db, clientID, cfgID := setupLedger(t)
	ctx := context.Background()

	// Shrink the monthly cap below the daily cap.
	require.NoError(t, db.Model(&models.LimitConfig{}).Where("id = ?", cfgID).
		Update("monthly_cap", decimal.NewFromInt(5000)).Error)

	assert.ErrorIs(t, svc.Debit(ctx, clientID, "USD", decimal.NewFromInt(6000)), ErrLimitExceeded)
	assert.NoError(t, svc.Debit(ctx, clientID, "USD", decimal.NewFromInt(5000)))
}

func TestDebitTruncatesToCurrencyPrecision(t *testing.T) {
	svc, _, clientID, _ := setupLedger(t)
	ctx := context.Background()

	// Sub-cent precision is dropped, never rounded up: 100.009 debits 100.00.
	require.NoError(t, svc.Debit(ctx, clientID, "USD", decimal.RequireFromString("100.009")))

	bal, err := svc.Remaining(ctx, clientID, "USD")
	require.NoError(t, err)
	assert.True(t, bal.DailyRemaining.Equal(decimal.RequireFromString("9900.00")),
		"daily remaining = %s", bal.DailyRemaining)
	assert.True(t, bal.MonthlyRemaining.Equal(decimal.RequireFromString("49900.00")))

	require.NoError(t, svc.Debit(ctx, clientID, "USD", decimal.RequireFromString("0.995")))

	bal, err = svc.Remaining(ctx, clientID, "USD")
	require.NoError(t, err)
	assert.True(t, bal.DailyRemaining.Equal(decimal.RequireFromString("9899.01")),
		"daily remaining = %s", bal.DailyRemaining)
}

func TestDebitNeverGoesNegative(t *testing.T) {
	svc, _, clientID, _ := setupLedger(t)
	ctx := context.Background()

	amounts := []int64{3000, 2500, 4500}
	var sum int64
	for _, a := range amounts {
		require.NoError(t, svc.Debit(ctx, clientID, "USD", decimal.NewFromInt(a)))
		sum += a
	}

	bal, err := svc.Remaining(ctx, clientID, "USD")
	require.NoError(t, err)
	assert.True(t, bal.DailyRemaining.Equal(decimal.NewFromInt(10000-sum)))
	assert.True(t, bal.DailyRemaining.GreaterThanOrEqual(decimal.Zero))

	// Balance is exactly zero now; any further debit must fail.
	assert.ErrorIs(t, svc.Debit(ctx, clientID, "USD", decimal.NewFromInt(1)), ErrLimitExceeded)
}

func TestDebitNoConfig(t *testing.T) {
	svc, db, clientID, _ := setupLedger(t)
	ctx := context.Background()

	eur := models.Currency{Code: "EUR", Name: "Euro", AmountDecimals: 2, Active: true}
	require.NoError(t, db.Create(&eur).Error)

	assert.ErrorIs(t, svc.Debit(ctx, clientID, "EUR", decimal.NewFromInt(100)), ErrNoLimitConfig)
}

func TestReset(t *testing.T) {
	svc, _, clientID, cfgID := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, svc.Debit(ctx, clientID, "USD", decimal.NewFromInt(8000)))

	rows, err := svc.Reset(ctx, cfgID, PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	bal, err := svc.Remaining(ctx, clientID, "USD")
	require.NoError(t, err)
	assert.True(t, bal.DailyRemaining.Equal(decimal.NewFromInt(10000)))
	// Monthly is untouched until its own reset.
	assert.True(t, bal.MonthlyRemaining.Equal(decimal.NewFromInt(42000)))

	rows, err = svc.Reset(ctx, cfgID, PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	bal, err = svc.Remaining(ctx, clientID, "USD")
	require.NoError(t, err)
	assert.True(t, bal.MonthlyRemaining.Equal(decimal.NewFromInt(50000)))
}
