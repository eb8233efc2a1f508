package rails

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/pkg/metrics"
	"github.com/globalexchange/cambios/pkg/models"
)

// ErrUnknownMethod is returned when a transaction references a method kind no
// rail is registered for.
var ErrUnknownMethod = errors.New("unknown payment method kind")

// ChargeRequest carries everything a payment rail needs to move money from
// the client to the house.
type ChargeRequest struct {
	Transaction *models.Transaction
	Client      *models.Client
	MethodID    uuid.UUID
	// WalletPIN is empty until the wallet holder supplies it on resume.
	WalletPIN string
}

// PayoutRequest carries everything a collection rail needs to move money from
// the house to the client.
type PayoutRequest struct {
	Transaction *models.Transaction
	MethodID    uuid.UUID
}

// PaymentRail charges the client through one concrete channel.
type PaymentRail interface {
	Charge(ctx context.Context, req ChargeRequest) (Outcome, error)
}

// CollectionRail pays the client out through one concrete channel.
type CollectionRail interface {
	Payout(ctx context.Context, req PayoutRequest) (Outcome, error)
}

// PaymentDispatcher resolves a transaction's payment method reference to a
// concrete rail exactly once and forwards the charge.
type PaymentDispatcher struct {
	logger *zap.Logger
	rails  map[models.MethodKind]PaymentRail
}

// NewPaymentDispatcher wires the default payment rails. The card client may
// be nil in deployments without the international card channel.
func NewPaymentDispatcher(logger *zap.Logger, db *gorm.DB, cards *CardClient) *PaymentDispatcher {
	d := &PaymentDispatcher{
		logger: logger,
		rails:  make(map[models.MethodKind]PaymentRail),
	}
	d.Register(models.MethodInternationalCard, &InternationalCardRail{logger: logger, db: db, cards: cards})
	d.Register(models.MethodNationalCard, &NationalCardRail{logger: logger, db: db})
	d.Register(models.MethodWallet, &WalletChargeRail{logger: logger, db: db})
	d.Register(models.MethodBankTransfer, &BankTransferChargeRail{logger: logger})
	d.Register(models.MethodKiosk, &KioskRail{logger: logger, db: db})
	return d
}

// Register swaps in a rail implementation for a kind.
func (d *PaymentDispatcher) Register(kind models.MethodKind, rail PaymentRail) {
	d.rails[kind] = rail
}

// Charge dispatches to the rail selected by the transaction's payment method.
func (d *PaymentDispatcher) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	ref := req.Transaction.PaymentMethodRef()
	rail, ok := d.rails[ref.Kind]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownMethod, ref.Kind)
	}
	if req.MethodID == uuid.Nil {
		req.MethodID = ref.ID
	}

	out, err := rail.Charge(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	metrics.ChargeOutcomesTotal.WithLabelValues(string(ref.Kind), string(out.Status)).Inc()
	d.logger.Info("payment dispatched",
		zap.String("transaction_id", req.Transaction.ID.String()),
		zap.String("kind", string(ref.Kind)),
		zap.String("status", string(out.Status)))
	return out, nil
}

// CollectionDispatcher is the payout-side counterpart of PaymentDispatcher.
type CollectionDispatcher struct {
	logger *zap.Logger
	rails  map[models.MethodKind]CollectionRail
}

// NewCollectionDispatcher wires the default collection rails.
func NewCollectionDispatcher(logger *zap.Logger, db *gorm.DB) *CollectionDispatcher {
	d := &CollectionDispatcher{
		logger: logger,
		rails:  make(map[models.MethodKind]CollectionRail),
	}
	d.Register(models.MethodBankTransfer, &BankTransferPayoutRail{logger: logger, db: db})
	d.Register(models.MethodWallet, &WalletPayoutRail{logger: logger, db: db})
	d.Register(models.MethodKiosk, &KioskRail{logger: logger, db: db})
	return d
}

// Register swaps in a rail implementation for a kind.
func (d *CollectionDispatcher) Register(kind models.MethodKind, rail CollectionRail) {
	d.rails[kind] = rail
}

// Payout dispatches to the rail selected by the transaction's collection
// method.
func (d *CollectionDispatcher) Payout(ctx context.Context, tx *models.Transaction) (Outcome, error) {
	ref := tx.CollectionMethodRef()
	rail, ok := d.rails[ref.Kind]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownMethod, ref.Kind)
	}

	out, err := rail.Payout(ctx, PayoutRequest{Transaction: tx, MethodID: ref.ID})
	if err != nil {
		return Outcome{}, err
	}
	d.logger.Info("payout dispatched",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("kind", string(ref.Kind)),
		zap.String("status", string(out.Status)))
	return out, nil
}
