package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/globalexchange/cambios/pkg/models"
)

// ErrRangeExhausted is returned when a sequence cursor has reached its
// ceiling. The range must be replaced before any further numbers can be
// issued; the proxy treats reuse of an approved number as a hard rejection.
var ErrRangeExhausted = errors.New("document number range exhausted")

// Sequencer hands out fiscal document numbers, one at a time, never the same
// number twice.
type Sequencer interface {
	Next(ctx context.Context, establishment, issuingPoint string) (string, error)
}

// Service implements Sequencer on a gorm-backed DocumentSequence row.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a document sequencer.
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{logger: logger, db: db}
}

// Next issues the next number for the establishment/issuing-point pair,
// zero-padded to 7 digits. The sequence row is held under an exclusive lock
// for the read-check-increment so concurrent callers are serialized.
func (s *Service) Next(ctx context.Context, establishment, issuingPoint string) (string, error) {
	var issued int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seq models.DocumentSequence
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("establishment = ? AND issuing_point = ?", establishment, issuingPoint).
			First(&seq).Error; err != nil {
			return fmt.Errorf("failed to find document sequence: %w", err)
		}

		if seq.Cursor >= seq.Ceiling {
			return ErrRangeExhausted
		}

		seq.Cursor++
		seq.UpdatedAt = time.Now()
		if err := tx.Save(&seq).Error; err != nil {
			return fmt.Errorf("failed to advance document sequence: %w", err)
		}
		issued = seq.Cursor
		return nil
	})
	if err != nil {
		return "", err
	}

	number := fmt.Sprintf("%07d", issued)
	s.logger.Debug("document number issued",
		zap.String("establishment", establishment),
		zap.String("issuing_point", issuingPoint),
		zap.String("number", number))
	return number, nil
}
