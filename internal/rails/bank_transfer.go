package rails

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/pkg/models"
)

// BankTransferChargeRail covers payment by bank transfer. There is no
// synchronous processor call; the client wires the money and later confirms
// with the bank's reference id, so the rail always suspends.
type BankTransferChargeRail struct {
	logger *zap.Logger
}

// Charge returns the awaiting-reference outcome; the orchestrator's manual
// confirmation path finishes the payment.
func (r *BankTransferChargeRail) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	return AwaitingRef("wire the funds and confirm with the transfer reference id"), nil
}

// ValidateTransferReference checks a bank transfer reference id against the
// banking network. The sandbox decides by the last digit: 0 validates,
// 1 rejects, anything else is random.
func ValidateTransferReference(ref string) Outcome {
	switch lastDigit(ref) {
	case 0:
		return Success(ref)
	case 1:
		return Failure("the transfer reference was rejected by the banking network")
	case -1:
		return Failure("the transfer reference has no valid trailing digit")
	default:
		if rand.Intn(2) == 0 {
			return Success(ref)
		}
		return Failure("the transfer could not be validated")
	}
}

// BankTransferPayoutRail wires the target amount to the client's bank
// account. The sandbox decides by the account number's last digit: 0
// succeeds, 1 fails, anything else is random.
type BankTransferPayoutRail struct {
	logger *zap.Logger
	db     *gorm.DB
}

// Payout runs the outbound wire.
func (r *BankTransferPayoutRail) Payout(ctx context.Context, req PayoutRequest) (Outcome, error) {
	var account models.BankAccount
	if err := r.db.WithContext(ctx).First(&account, "id = ?", req.MethodID).Error; err != nil {
		return Outcome{}, fmt.Errorf("failed to find bank account: %w", err)
	}
	if account.AccountNumber == "" {
		return Outcome{}, fmt.Errorf("bank account %s has no account number", account.ID)
	}

	switch lastDigit(account.AccountNumber) {
	case 1:
		return Failure("outbound transfer rejected"), nil
	case 0:
		return Success(authRef()), nil
	case -1:
		return Failure("account number has no valid trailing digit"), nil
	default:
		if rand.Intn(2) == 0 {
			return Success(authRef()), nil
		}
		return Failure("outbound transfer could not be completed"), nil
	}
}
