package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/globalexchange/cambios/pkg/models"
)

// ErrLimitExceeded is returned when a debit would drive a daily or monthly
// balance negative, or when the amount itself is not positive.
var ErrLimitExceeded = errors.New("exchange limit exceeded")

// ErrNoLimitConfig is returned when no cap is configured for the client's
// category and the requested currency.
var ErrNoLimitConfig = errors.New("no limit configured for category/currency")

// Period selects which balance a reset restores.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Ledger tracks per-client daily/monthly spendable balances and debits them
// atomically under a row lock.
type Ledger interface {
	Debit(ctx context.Context, clientID uuid.UUID, currencyCode string, amount decimal.Decimal) error
	Remaining(ctx context.Context, clientID uuid.UUID, currencyCode string) (*models.LimitBalance, error)
	Reset(ctx context.Context, configID uuid.UUID, period Period) (int64, error)
}

// Service implements Ledger on a gorm database.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a limit ledger service.
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{logger: logger, db: db}
}

// Debit decrements both the daily and monthly remaining balance by amount,
// quantized to the currency's precision. The balance row is locked for the
// whole check-and-decrement so concurrent debits for the same client/currency
// are linearized; two requests can never both pass validation against a
// balance only one of them can afford.
func (s *Service) Debit(ctx context.Context, clientID uuid.UUID, currencyCode string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrLimitExceeded
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, currency, err := s.configFor(tx, clientID, currencyCode)
		if err != nil {
			return err
		}

		// Excess precision is dropped, never rounded up, so a debit can
		// only consume at most the amount the caller stated.
		quantized := amount.Truncate(int32(currency.AmountDecimals))

		balance, err := s.lockedBalance(tx, clientID, cfg)
		if err != nil {
			return err
		}

		if quantized.GreaterThan(balance.DailyRemaining) || quantized.GreaterThan(balance.MonthlyRemaining) {
			s.logger.Info("limit debit rejected",
				zap.String("client_id", clientID.String()),
				zap.String("currency", currencyCode),
				zap.String("amount", quantized.String()),
				zap.String("daily_remaining", balance.DailyRemaining.String()),
				zap.String("monthly_remaining", balance.MonthlyRemaining.String()))
			return ErrLimitExceeded
		}

		balance.DailyRemaining = balance.DailyRemaining.Sub(quantized)
		balance.MonthlyRemaining = balance.MonthlyRemaining.Sub(quantized)
		balance.UpdatedAt = time.Now()
		if err := tx.Save(balance).Error; err != nil {
			return fmt.Errorf("failed to save limit balance: %w", err)
		}

		s.logger.Debug("limit debited",
			zap.String("client_id", clientID.String()),
			zap.String("currency", currencyCode),
			zap.String("amount", quantized.String()),
			zap.String("daily_remaining", balance.DailyRemaining.String()))
		return nil
	})
}

// Remaining reports the current balance for a client/currency pair, creating
// it at the configured maximums if the client has never been checked before.
func (s *Service) Remaining(ctx context.Context, clientID uuid.UUID, currencyCode string) (*models.LimitBalance, error) {
	var balance *models.LimitBalance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, _, err := s.configFor(tx, clientID, currencyCode)
		if err != nil {
			return err
		}
		balance, err = s.lockedBalance(tx, clientID, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// Reset restores the selected balance to the configured maximum for every
// client tracked under the config. Returns the number of rows touched.
// Invoked by the scheduler, daily and monthly respectively.
func (s *Service) Reset(ctx context.Context, configID uuid.UUID, period Period) (int64, error) {
	var cfg models.LimitConfig
	if err := s.db.WithContext(ctx).First(&cfg, "id = ?", configID).Error; err != nil {
		return 0, fmt.Errorf("failed to find limit config: %w", err)
	}

	column := "daily_remaining"
	full := cfg.DailyCap
	if period == PeriodMonthly {
		column = "monthly_remaining"
		full = cfg.MonthlyCap
	}

	res := s.db.WithContext(ctx).Model(&models.LimitBalance{}).
		Where("limit_config_id = ?", configID).
		Updates(map[string]interface{}{column: full, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset limit balances: %w", res.Error)
	}

	s.logger.Info("limit balances reset",
		zap.String("config_id", configID.String()),
		zap.String("period", string(period)),
		zap.Int64("rows", res.RowsAffected))
	return res.RowsAffected, nil
}

// configFor resolves the LimitConfig for the client's category and the
// currency, along with the currency itself for precision.
func (s *Service) configFor(tx *gorm.DB, clientID uuid.UUID, currencyCode string) (*models.LimitConfig, *models.Currency, error) {
	var client models.Client
	if err := tx.First(&client, "id = ?", clientID).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to find client: %w", err)
	}

	var currency models.Currency
	if err := tx.First(&currency, "code = ?", currencyCode).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to find currency: %w", err)
	}

	var cfg models.LimitConfig
	if err := tx.Where("category_id = ? AND currency_code = ?", client.CategoryID, currencyCode).First(&cfg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, ErrNoLimitConfig
		}
		return nil, nil, fmt.Errorf("failed to find limit config: %w", err)
	}
	return &cfg, &currency, nil
}

// lockedBalance loads the client's balance row under FOR UPDATE, creating it
// lazily at the configured maximums on first use. The insert happens inside
// the same transaction, so a racing creator is serialized by the unique index
// on (client_id, limit_config_id).
func (s *Service) lockedBalance(tx *gorm.DB, clientID uuid.UUID, cfg *models.LimitConfig) (*models.LimitBalance, error) {
	var balance models.LimitBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("client_id = ? AND limit_config_id = ?", clientID, cfg.ID).
		First(&balance).Error
	if err == nil {
		return &balance, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to find limit balance: %w", err)
	}

	balance = models.LimitBalance{
		ID:               uuid.New(),
		ClientID:         clientID,
		LimitConfigID:    cfg.ID,
		DailyRemaining:   cfg.DailyCap,
		MonthlyRemaining: cfg.MonthlyCap,
		UpdatedAt:        time.Now(),
	}
	if err := tx.Create(&balance).Error; err != nil {
		return nil, fmt.Errorf("failed to create limit balance: %w", err)
	}
	return &balance, nil
}
