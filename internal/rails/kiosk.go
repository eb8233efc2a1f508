package rails

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/pkg/models"
)

// KioskRail is the in-person channel. Cash changes hands with the attendant,
// so both charge and payout succeed immediately; when both legs of a
// transaction are kiosk the orchestrator skips background settlement
// entirely.
type KioskRail struct {
	logger *zap.Logger
	db     *gorm.DB
}

// Charge records an in-person cash intake at the kiosk.
func (r *KioskRail) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	kiosk, err := r.kiosk(ctx, req.MethodID)
	if err != nil {
		return Outcome{}, err
	}
	return Success("kiosk:" + kiosk.Name), nil
}

// Payout records an in-person cash handout at the kiosk.
func (r *KioskRail) Payout(ctx context.Context, req PayoutRequest) (Outcome, error) {
	kiosk, err := r.kiosk(ctx, req.MethodID)
	if err != nil {
		return Outcome{}, err
	}
	return Success("kiosk:" + kiosk.Name), nil
}

func (r *KioskRail) kiosk(ctx context.Context, id uuid.UUID) (*models.Kiosk, error) {
	var kiosk models.Kiosk
	if err := r.db.WithContext(ctx).First(&kiosk, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to find kiosk: %w", err)
	}
	if !kiosk.Active {
		return nil, fmt.Errorf("kiosk %s is not active", kiosk.Name)
	}
	return &kiosk, nil
}
