package rails

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/pkg/models"
)

// WalletChargeRail debits an e-wallet. The holder must authorize with a PIN,
// so the first attempt always suspends; the sandbox then decides by the PIN's
// last digit: 0 approves, 1 rejects with retry, anything else is random.
type WalletChargeRail struct {
	logger *zap.Logger
	db     *gorm.DB
}

// Charge runs the wallet debit, challenging for a PIN when none was supplied.
func (r *WalletChargeRail) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).First(&wallet, "id = ? AND client_id = ?", req.MethodID, req.Client.ID).Error; err != nil {
		return Outcome{}, fmt.Errorf("failed to find wallet: %w", err)
	}
	if wallet.Phone == "" {
		return Failure("wallet has no phone number"), nil
	}

	pin := req.WalletPIN
	if pin == "" {
		return NeedsPIN("a PIN is required to authorize the charge", true), nil
	}
	if !allDigits(pin) || len(pin) != 4 {
		return NeedsPIN("invalid PIN, it must be exactly 4 digits", true), nil
	}

	switch lastDigit(pin) {
	case 1:
		return NeedsPIN("wrong PIN, try again", true), nil
	case 0:
		return Success(authRef()), nil
	default:
		if rand.Intn(2) == 0 {
			return Success(authRef()), nil
		}
		return NeedsPIN("wrong PIN, try again", true), nil
	}
}

// WalletPayoutRail credits an e-wallet. The sandbox decides by the phone
// number's last digit: 0 succeeds, 1 fails, anything else is random.
type WalletPayoutRail struct {
	logger *zap.Logger
	db     *gorm.DB
}

// Payout pushes the target amount to the client's wallet.
func (r *WalletPayoutRail) Payout(ctx context.Context, req PayoutRequest) (Outcome, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).First(&wallet, "id = ?", req.MethodID).Error; err != nil {
		return Outcome{}, fmt.Errorf("failed to find wallet: %w", err)
	}

	switch lastDigit(wallet.Phone) {
	case 1:
		return Failure("wallet credit rejected"), nil
	case 0:
		return Success(authRef()), nil
	case -1:
		return Failure("wallet has no valid phone number"), nil
	default:
		if rand.Intn(2) == 0 {
			return Success(authRef()), nil
		}
		return Failure("wallet credit could not be completed"), nil
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
