package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/pkg/models"
)

// ErrInvalidCode is returned when no unused code exists for the user or the
// supplied code does not match the most recent one.
var ErrInvalidCode = errors.New("invalid verification code")

// ErrCodeExpired is returned when the most recent unused code is older than
// the configured TTL; the caller must request a fresh one.
var ErrCodeExpired = errors.New("verification code expired")

// CodeSender delivers a one-time code to the user out-of-band.
type CodeSender interface {
	Send(ctx context.Context, userID uuid.UUID, code string) error
}

// LogSender writes codes to the log instead of delivering them. Used in
// development and tests.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) Send(ctx context.Context, userID uuid.UUID, code string) error {
	s.Logger.Info("one-time code issued",
		zap.String("user_id", userID.String()),
		zap.String("code", code))
	return nil
}

// Service issues and verifies one-time step-up codes. Verification always
// looks at the newest unused code, so requesting a new code supersedes any
// older outstanding ones.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
	sender CodeSender
	ttl    time.Duration
}

// NewService creates the step-up code service.
func NewService(logger *zap.Logger, db *gorm.DB, sender CodeSender, ttl time.Duration) *Service {
	return &Service{logger: logger, db: db, sender: sender, ttl: ttl}
}

// Generate creates a fresh 6-digit code for the user, persists it and hands
// it to the sender.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID) error {
	code, err := randomCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	record := models.OneTimeCode{
		ID:        uuid.New(),
		UserID:    userID,
		Code:      code,
		Used:      false,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to persist code: %w", err)
	}

	if err := s.sender.Send(ctx, userID, code); err != nil {
		return fmt.Errorf("failed to deliver code: %w", err)
	}
	return nil
}

// Verify checks the supplied code against the user's most recent unused one
// and marks it used on success.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID, code string) error {
	var record models.OneTimeCode
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND used = ?", userID, false).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrInvalidCode
		}
		return fmt.Errorf("failed to load code: %w", err)
	}

	if time.Since(record.CreatedAt) > s.ttl {
		return ErrCodeExpired
	}
	if record.Code != code {
		return ErrInvalidCode
	}

	if err := s.db.WithContext(ctx).Model(&record).Update("used", true).Error; err != nil {
		return fmt.Errorf("failed to mark code used: %w", err)
	}
	return nil
}

// randomCode draws a uniform 6-digit code.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
