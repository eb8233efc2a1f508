package rails

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/pkg/models"
)

// NationalCardRail charges locally issued cards through the domestic
// processor. The sandbox processor decides by the token's last digit:
// 0 always approves, 1 always declines, anything else is random.
type NationalCardRail struct {
	logger *zap.Logger
	db     *gorm.DB
}

// Charge runs the domestic card authorization. National cards only settle in
// the base currency; the orchestrator rejects other selections before
// dispatch.
func (r *NationalCardRail) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	var card models.NationalCard
	if err := r.db.WithContext(ctx).First(&card, "id = ? AND client_id = ?", req.MethodID, req.Client.ID).Error; err != nil {
		return Outcome{}, fmt.Errorf("failed to find national card: %w", err)
	}

	switch lastDigit(card.TokenNumber) {
	case 0:
		return Success(authRef()), nil
	case 1:
		return Failure("charge rejected by the issuing entity"), nil
	case -1:
		return Failure("card token has no valid trailing digit"), nil
	default:
		if rand.Intn(2) == 0 {
			return Success(authRef()), nil
		}
		return Failure("charge could not be completed"), nil
	}
}

// lastDigit returns the trailing digit of s, or -1 when there is none.
func lastDigit(s string) int {
	if s == "" {
		return -1
	}
	c := s[len(s)-1]
	if c < '0' || c > '9' {
		return -1
	}
	return int(c - '0')
}

func authRef() string {
	return "auth_" + uuid.NewString()
}
