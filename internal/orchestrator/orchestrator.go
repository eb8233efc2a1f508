// Package orchestrator drives the multi-step exchange transaction flow:
// validation, limit enforcement, authentication step-up, payment dispatch,
// persistence and background scheduling.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/internal/auth"
	"github.com/globalexchange/cambios/internal/config"
	"github.com/globalexchange/cambios/internal/flow"
	"github.com/globalexchange/cambios/internal/limits"
	"github.com/globalexchange/cambios/internal/queue"
	"github.com/globalexchange/cambios/internal/rails"
	"github.com/globalexchange/cambios/internal/rates"
	"github.com/globalexchange/cambios/pkg/models"
)

var (
	// ErrMethodDisabled means the selected payment or collection kind is
	// globally switched off.
	ErrMethodDisabled = errors.New("payment method is disabled")
	// ErrInvalidAmount means the requested amount is not strictly positive.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidPair means the currency pair does not match the direction;
	// every operation has the base currency on exactly one side.
	ErrInvalidPair = errors.New("currency pair does not match direction")
	// ErrNationalCardCurrency means a national card was selected for a
	// charge outside the base currency.
	ErrNationalCardCurrency = errors.New("national cards only charge the base currency")
	// ErrNotPending means a manual confirmation or cancel arrived for a
	// transaction that is no longer pending.
	ErrNotPending = errors.New("transaction is not pending")
	// ErrNotAnnullable means an annulment arrived for a transaction already
	// in a terminal state.
	ErrNotAnnullable = errors.New("transaction can no longer be annulled")
)

// ExchangeRequest is the caller's intent to exchange currency.
type ExchangeRequest struct {
	ClientID       uuid.UUID        `json:"client_id"`
	Direction      models.Direction `json:"direction"`
	SourceCurrency string           `json:"source_currency"`
	TargetCurrency string           `json:"target_currency"`
	SourceAmount   decimal.Decimal  `json:"source_amount"`
	Payment        models.MethodRef `json:"payment"`
	Collection     models.MethodRef `json:"collection"`
}

// ResultStatus tells the caller what happened to the flow.
type ResultStatus string

const (
	// ResultPaid means the charge succeeded and settlement is scheduled.
	ResultPaid ResultStatus = "paid"
	// ResultPending means the transaction awaits a manual transfer
	// reference before any money moves.
	ResultPending ResultStatus = "pending"
	// ResultSuspended means the flow is parked; resume with the token.
	ResultSuspended ResultStatus = "suspended"
	// ResultFailed means the charge was declined; nothing was persisted.
	ResultFailed ResultStatus = "failed"
)

// Result is the orchestrator's answer to a create or resume call.
type Result struct {
	Status      ResultStatus        `json:"status"`
	Token       string              `json:"token,omitempty"`
	Stage       flow.Stage          `json:"stage,omitempty"`
	Message     string              `json:"message,omitempty"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

// Service implements the transaction flow.
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	ledger   limits.Ledger
	codes    *auth.Service
	flows    flow.Store
	payments *rails.PaymentDispatcher
	jobs     queue.Enqueuer
	cfg      *config.Config
}

// NewService wires the orchestrator.
func NewService(logger *zap.Logger, db *gorm.DB, ledger limits.Ledger, codes *auth.Service,
	flows flow.Store, payments *rails.PaymentDispatcher, jobs queue.Enqueuer, cfg *config.Config) *Service {
	return &Service{
		logger:   logger,
		db:       db,
		ledger:   ledger,
		codes:    codes,
		flows:    flows,
		payments: payments,
		jobs:     jobs,
		cfg:      cfg,
	}
}

// Create validates the request, debits the exchange limit, and either
// suspends for the step-up code or charges immediately when step-up is
// disabled.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req *ExchangeRequest) (*Result, error) {
	draft, err := s.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	if err := s.debitLimit(ctx, draft); err != nil {
		return nil, err
	}

	if !s.cfg.Auth.StepUpEnabled {
		res, err := s.charge(ctx, draft, "")
		if err != nil {
			return nil, err
		}
		if res.Status == ResultSuspended {
			// Wallet PIN challenge with step-up disabled: park the draft so
			// the PIN can be supplied against a resumable token.
			parked, err := s.suspend(ctx, userID, draft, flow.StageAwaitingPIN)
			if err != nil {
				return nil, err
			}
			parked.Message = res.Message
			return parked, nil
		}
		return res, nil
	}

	if err := s.codes.Generate(ctx, userID); err != nil {
		return nil, err
	}
	return s.suspend(ctx, userID, draft, flow.StageAwaitingCode)
}

// Resume continues a suspended flow: the step-up stage consumes the one-time
// code, the PIN stage retries the wallet charge. An invalid or expired code
// keeps the flow parked so the caller can retry within the window.
func (s *Service) Resume(ctx context.Context, userID uuid.UUID, token, code, walletPIN string) (*Result, error) {
	susp, err := s.flows.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if susp.UserID != userID {
		return nil, flow.ErrNotFound
	}

	var draft models.Transaction
	if err := json.Unmarshal(susp.Request, &draft); err != nil {
		return nil, fmt.Errorf("failed to decode suspended flow: %w", err)
	}

	switch susp.Stage {
	case flow.StageAwaitingCode:
		if err := s.codes.Verify(ctx, userID, code); err != nil {
			return nil, err
		}
	case flow.StageAwaitingPIN:
		// The code was already consumed before the PIN stage.
	default:
		return nil, fmt.Errorf("flow stage %q cannot be resumed here", susp.Stage)
	}

	res, err := s.charge(ctx, &draft, walletPIN)
	if err != nil {
		return nil, err
	}

	if res.Status == ResultSuspended {
		// Keep the same token, move the stage to the PIN challenge.
		susp.Stage = flow.StageAwaitingPIN
		if err := s.flows.Put(ctx, susp); err != nil {
			return nil, err
		}
		res.Token = token
		return res, nil
	}

	if err := s.flows.Delete(ctx, token); err != nil {
		s.logger.Warn("failed to delete finished flow", zap.Error(err))
	}
	return res, nil
}

// ConfirmTransfer applies the manually entered bank reference to a pending
// transaction. Acceptance moves it to PAID and schedules settlement; a
// rejected reference leaves it pending for another attempt.
func (s *Service) ConfirmTransfer(ctx context.Context, transactionID uuid.UUID, reference string) (*Result, error) {
	var tx models.Transaction
	if err := s.db.WithContext(ctx).First(&tx, "id = ?", transactionID).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx.State != models.StatePending {
		return nil, ErrNotPending
	}

	out := rails.ValidateTransferReference(reference)
	if out.Status != rails.StatusSuccess {
		return &Result{Status: ResultFailed, Message: out.Message, Transaction: &tx}, nil
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND state = ?", tx.ID, models.StatePending).
		Updates(map[string]interface{}{
			"state":        models.StatePaid,
			"transfer_ref": reference,
			"paid_at":      now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to mark transaction paid: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotPending
	}

	tx.State = models.StatePaid
	tx.TransferRef = reference
	tx.PaidAt = &now
	if err := s.schedule(ctx, &tx); err != nil {
		return nil, err
	}

	s.logger.Info("transfer confirmed",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("reference", reference))
	return &Result{Status: ResultPaid, Transaction: &tx}, nil
}

// Cancel aborts a pending transaction at the client's request.
func (s *Service) Cancel(ctx context.Context, transactionID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND state = ?", transactionID, models.StatePending).
		Updates(map[string]interface{}{"state": models.StateCancelled, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

// Annul administratively voids a transaction that has not completed.
func (s *Service) Annul(ctx context.Context, transactionID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND state IN ?", transactionID,
			[]models.TransactionState{models.StatePending, models.StatePaid}).
		Updates(map[string]interface{}{"state": models.StateAnnulled, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to annul transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotAnnullable
	}
	return nil
}

// ExpireStale cancels pending transactions older than the configured expiry
// window. Safe to run redundantly; rows already past PENDING are untouched.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return ExpireStale(ctx, s.logger, s.db, s.cfg.Transfers.PendingExpiry)
}

// ExpireStale is the sweep behind Service.ExpireStale; the worker runs it on
// a timer without the rest of the orchestrator.
func ExpireStale(ctx context.Context, logger *zap.Logger, db *gorm.DB, pendingExpiry time.Duration) (int64, error) {
	cutoff := time.Now().Add(-pendingExpiry)
	res := db.WithContext(ctx).Model(&models.Transaction{}).
		Where("state = ? AND created_at < ?", models.StatePending, cutoff).
		Updates(map[string]interface{}{"state": models.StateCancelled, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire pending transactions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logger.Info("expired pending transactions", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// prepare validates the request and snapshots pricing into a draft
// transaction; nothing is persisted yet.
func (s *Service) prepare(ctx context.Context, userID uuid.UUID, req *ExchangeRequest) (*models.Transaction, error) {
	payCfg, err := s.methodConfig(ctx, req.Payment.Kind, true)
	if err != nil {
		return nil, err
	}
	colCfg, err := s.methodConfig(ctx, req.Collection.Kind, false)
	if err != nil {
		return nil, err
	}

	if req.SourceAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	var quotedCode string
	switch req.Direction {
	case models.DirectionSell:
		if req.SourceCurrency != models.BaseCurrency || req.TargetCurrency == models.BaseCurrency {
			return nil, ErrInvalidPair
		}
		quotedCode = req.TargetCurrency
	case models.DirectionBuy:
		if req.TargetCurrency != models.BaseCurrency || req.SourceCurrency == models.BaseCurrency {
			return nil, ErrInvalidPair
		}
		quotedCode = req.SourceCurrency
	default:
		return nil, ErrInvalidPair
	}

	if req.Payment.Kind == models.MethodNationalCard && req.SourceCurrency != models.BaseCurrency {
		return nil, ErrNationalCardCurrency
	}

	var client models.Client
	if err := s.db.WithContext(ctx).Preload("Category").First(&client, "id = ?", req.ClientID).Error; err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	var quoted models.Currency
	if err := s.db.WithContext(ctx).First(&quoted, "code = ? AND active = ?", quotedCode, true).Error; err != nil {
		return nil, fmt.Errorf("failed to load currency %s: %w", quotedCode, err)
	}

	discount := decimal.Zero
	if client.Category != nil {
		discount = client.Category.Discount
	}
	params := rates.Params{
		Discount:             discount,
		PaymentCommission:    commissionOf(payCfg),
		CollectionCommission: commissionOf(colCfg),
	}
	rate := rates.Rate(req.Direction, rates.PricingFor(&quoted), params)

	targetDecimals := 0
	if req.TargetCurrency != models.BaseCurrency {
		targetDecimals = quoted.AmountDecimals
	}
	targetAmount := rates.Convert(req.SourceCurrency, req.TargetCurrency, req.SourceAmount, rate, targetDecimals)
	if targetAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	now := time.Now()
	return &models.Transaction{
		ID:                 uuid.New(),
		ClientID:           client.ID,
		UserID:             userID,
		Direction:          req.Direction,
		State:              models.StatePending,
		SourceCurrency:     req.SourceCurrency,
		TargetCurrency:     req.TargetCurrency,
		Rate:               rate,
		SourceAmount:       req.SourceAmount,
		TargetAmount:       targetAmount,
		CategoryDiscount:   discount,
		PaymentCommission:  payCfg.Commission,
		CollectCommission:  colCfg.Commission,
		PaymentKind:        req.Payment.Kind,
		PaymentMethodID:    req.Payment.ID,
		CollectionKind:     req.Collection.Kind,
		CollectionMethodID: req.Collection.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// debitLimit charges the exchange-limit ledger for operations the business
// rule covers: SELL always, BUY only when the policy switch is on.
func (s *Service) debitLimit(ctx context.Context, draft *models.Transaction) error {
	switch draft.Direction {
	case models.DirectionSell:
		return s.ledger.Debit(ctx, draft.ClientID, draft.TargetCurrency, draft.TargetAmount)
	case models.DirectionBuy:
		if !s.cfg.Limits.CheckBuy {
			return nil
		}
		return s.ledger.Debit(ctx, draft.ClientID, draft.SourceCurrency, draft.SourceAmount)
	}
	return nil
}

// charge dispatches the payment and persists the transaction by outcome.
func (s *Service) charge(ctx context.Context, draft *models.Transaction, walletPIN string) (*Result, error) {
	var client models.Client
	if err := s.db.WithContext(ctx).First(&client, "id = ?", draft.ClientID).Error; err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	out, err := s.payments.Charge(ctx, rails.ChargeRequest{
		Transaction: draft,
		Client:      &client,
		MethodID:    draft.PaymentMethodID,
		WalletPIN:   walletPIN,
	})
	if err != nil {
		return nil, err
	}

	switch out.Status {
	case rails.StatusSuccess:
		now := time.Now()
		draft.State = models.StatePaid
		draft.ChargeRef = out.ExternalRef
		draft.PaidAt = &now
		draft.UpdatedAt = now
		if err := s.db.WithContext(ctx).Create(draft).Error; err != nil {
			return nil, fmt.Errorf("failed to persist transaction: %w", err)
		}
		if err := s.schedule(ctx, draft); err != nil {
			return nil, err
		}
		s.logger.Info("transaction paid",
			zap.String("transaction_id", draft.ID.String()),
			zap.String("charge_ref", out.ExternalRef))
		return &Result{Status: ResultPaid, Transaction: draft}, nil

	case rails.StatusAwaitingRef:
		draft.State = models.StatePending
		draft.UpdatedAt = time.Now()
		if err := s.db.WithContext(ctx).Create(draft).Error; err != nil {
			return nil, fmt.Errorf("failed to persist transaction: %w", err)
		}
		s.logger.Info("transaction awaiting transfer reference",
			zap.String("transaction_id", draft.ID.String()))
		return &Result{Status: ResultPending, Message: out.Message, Transaction: draft}, nil

	case rails.StatusNeedsPIN:
		return &Result{Status: ResultSuspended, Stage: flow.StageAwaitingPIN, Message: out.Message}, nil

	default:
		s.logger.Info("charge declined",
			zap.String("client_id", draft.ClientID.String()),
			zap.String("reason", out.Message))
		return &Result{Status: ResultFailed, Message: out.Message}, nil
	}
}

// schedule enqueues the background work for a paid transaction. The all-kiosk
// case settles in person, so only invoicing is queued for it.
func (s *Service) schedule(ctx context.Context, tx *models.Transaction) error {
	allKiosk := tx.PaymentKind == models.MethodKiosk && tx.CollectionKind == models.MethodKiosk
	if !allKiosk {
		if err := s.jobs.Enqueue(ctx, queue.Job{Kind: queue.JobSettle, TransactionID: tx.ID}); err != nil {
			return fmt.Errorf("failed to enqueue settlement: %w", err)
		}
	} else {
		// In-person exchange: the attendant hands over the cash, no payout
		// leg remains, the transaction completes immediately.
		now := time.Now()
		res := s.db.WithContext(ctx).Model(&models.Transaction{}).
			Where("id = ? AND state = ?", tx.ID, models.StatePaid).
			Updates(map[string]interface{}{"state": models.StateComplete, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to complete kiosk transaction: %w", res.Error)
		}
		tx.State = models.StateComplete
	}

	if s.cfg.Invoicing.Enabled {
		if err := s.jobs.Enqueue(ctx, queue.Job{Kind: queue.JobInvoice, TransactionID: tx.ID}); err != nil {
			return fmt.Errorf("failed to enqueue invoicing: %w", err)
		}
	}
	return nil
}

func (s *Service) suspend(ctx context.Context, userID uuid.UUID, draft *models.Transaction, stage flow.Stage) (*Result, error) {
	payload, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("failed to encode draft: %w", err)
	}
	susp := &flow.Suspended{
		Token:     flow.NewToken(),
		Stage:     stage,
		UserID:    userID,
		Request:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.flows.Put(ctx, susp); err != nil {
		return nil, err
	}
	return &Result{Status: ResultSuspended, Token: susp.Token, Stage: stage}, nil
}

func (s *Service) methodConfig(ctx context.Context, kind models.MethodKind, forPayment bool) (*models.MethodConfig, error) {
	var cfg models.MethodConfig
	err := s.db.WithContext(ctx).
		Where("kind = ? AND for_payment = ?", kind, forPayment).
		First(&cfg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrMethodDisabled
		}
		return nil, fmt.Errorf("failed to load method config: %w", err)
	}
	if !cfg.Enabled {
		return nil, ErrMethodDisabled
	}
	return &cfg, nil
}

// commissionOf returns the method surcharge, or nil when it is zero so the
// rate math skips the factor entirely.
func commissionOf(cfg *models.MethodConfig) *decimal.Decimal {
	if cfg.Commission.IsZero() {
		return nil
	}
	c := cfg.Commission
	return &c
}
