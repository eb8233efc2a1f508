package rails

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/paymentintent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/pkg/models"
)

// CardClient wraps the card processor's PaymentIntent API.
type CardClient struct {
	apiKey string
}

// NewCardClient creates a card processor client.
func NewCardClient(apiKey string) *CardClient {
	return &CardClient{apiKey: apiKey}
}

// ChargeSavedCard creates and confirms a PaymentIntent against a saved
// payment method, off-session. Amount is in the currency's minor units.
func (c *CardClient) ChargeSavedCard(ctx context.Context, amount int64, currency, customerRef, cardToken, idempotencyKey, description string) (*stripe.PaymentIntent, error) {
	stripe.Key = c.apiKey
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		Customer:      stripe.String(customerRef),
		PaymentMethod: stripe.String(cardToken),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(description),
	}
	params.SetIdempotencyKey(idempotencyKey)
	// Stripe Go SDK v75 does not support context, so we cannot pass ctx directly.
	return paymentintent.New(params)
}

// InternationalCardRail charges tokenized cards through the external card
// processor.
type InternationalCardRail struct {
	logger *zap.Logger
	db     *gorm.DB
	cards  *CardClient
}

// Charge creates and confirms a PaymentIntent for the transaction amount.
// The transaction id doubles as the idempotency key, so a redelivered charge
// cannot bill the client twice.
func (r *InternationalCardRail) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	if r.cards == nil {
		return Outcome{}, fmt.Errorf("card processor not configured")
	}
	if req.Client.CardCustomerRef == "" {
		return Failure("client has no card processor profile"), nil
	}

	var card models.InternationalCard
	if err := r.db.WithContext(ctx).First(&card, "id = ? AND client_id = ?", req.MethodID, req.Client.ID).Error; err != nil {
		return Outcome{}, fmt.Errorf("failed to find card: %w", err)
	}

	// The client always pays the source leg of the exchange.
	tx := req.Transaction
	decimals := 0
	if tx.SourceCurrency != models.BaseCurrency {
		var currency models.Currency
		if err := r.db.WithContext(ctx).First(&currency, "code = ?", tx.SourceCurrency).Error; err != nil {
			return Outcome{}, fmt.Errorf("failed to load currency %s: %w", tx.SourceCurrency, err)
		}
		decimals = currency.AmountDecimals
	}
	minor := minorUnits(tx.SourceAmount, decimals)

	intent, err := r.cards.ChargeSavedCard(ctx, minor, tx.SourceCurrency, req.Client.CardCustomerRef, card.CardToken,
		tx.ID.String(), "currency exchange "+tx.SourceCurrency+"/"+tx.TargetCurrency)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			r.logger.Warn("card declined",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("decline_code", string(stripeErr.DeclineCode)))
			return Failure("card declined: " + stripeErr.Msg), nil
		}
		return Outcome{}, fmt.Errorf("card processor error: %w", err)
	}

	return Success(intent.ID), nil
}

// minorUnits converts a decimal amount to the processor's integer minor
// units at the currency's configured precision.
func minorUnits(amount decimal.Decimal, decimals int) int64 {
	return amount.Shift(int32(decimals)).Round(0).IntPart()
}
