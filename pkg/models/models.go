package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BaseCurrency is the local settlement currency. Exchange limits and fiscal
// documents are always expressed in it.
const BaseCurrency = "PYG"

// ClientKind distinguishes natural persons from legal entities; the fiscal
// receptor block differs between the two.
type ClientKind string

const (
	ClientNaturalPerson ClientKind = "natural_person"
	ClientLegalEntity   ClientKind = "legal_entity"
)

// Client represents a registered exchange client.
type Client struct {
	ID              uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Kind            ClientKind `json:"kind" validate:"required,oneof=natural_person legal_entity"`
	Name            string     `json:"name" validate:"required,min=1,max=150"`
	LegalName       string     `json:"legal_name" validate:"omitempty,max=150"`
	DocumentID      string     `json:"document_id" validate:"omitempty,max=20"`
	TaxID           string     `json:"tax_id" validate:"omitempty,max=20"` // RUC, optionally with check digit
	Email           string     `json:"email" gorm:"uniqueIndex" validate:"required,email,max=150"`
	Phone           string     `json:"phone" validate:"omitempty,max=30"`
	Address         string     `json:"address" validate:"omitempty,max=200"`
	CategoryID      uuid.UUID  `json:"category_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Category        *Category  `json:"category,omitempty" gorm:"foreignKey:CategoryID"`
	CardCustomerRef string     `json:"-" gorm:"column:card_customer_ref"` // card-processor customer token
	Active          bool       `json:"active" gorm:"default:true"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Category is a client tier carrying a commission discount in [0,1].
type Category struct {
	ID       uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Name     string          `json:"name" gorm:"uniqueIndex" validate:"required,min=1,max=50"`
	Discount decimal.Decimal `json:"discount" gorm:"type:decimal(5,4)" validate:"min=0,max=1"`
}

// Currency holds the quoted pair configuration against the base currency.
type Currency struct {
	Code           string          `json:"code" gorm:"primaryKey;size:3" validate:"required,len=3"`
	Name           string          `json:"name" validate:"required,max=100"`
	BasePrice      decimal.Decimal `json:"base_price" gorm:"type:decimal(30,8)"`
	BuyCommission  decimal.Decimal `json:"buy_commission" gorm:"type:decimal(30,8)"`
	SellCommission decimal.Decimal `json:"sell_commission" gorm:"type:decimal(30,8)"`
	AmountDecimals int             `json:"amount_decimals" validate:"min=0,max=8"`
	RateDecimals   int             `json:"rate_decimals" validate:"min=0,max=8"`
	Active         bool            `json:"active" gorm:"default:true"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Direction of an exchange operation, from the house's point of view:
// SELL hands foreign currency to the client, BUY takes it in.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// TransactionState is the orchestrator state machine.
// PENDING -> PAID -> COMPLETE, with side exits PAID -> PAYOUT_FAILED and
// PENDING -> CANCELLED / ANNULLED.
type TransactionState string

const (
	StatePending      TransactionState = "PENDING"
	StatePaid         TransactionState = "PAID"
	StateComplete     TransactionState = "COMPLETE"
	StateCancelled    TransactionState = "CANCELLED"
	StateAnnulled     TransactionState = "ANNULLED"
	StatePayoutFailed TransactionState = "PAYOUT_FAILED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TransactionState) Terminal() bool {
	switch s {
	case StateComplete, StateCancelled, StateAnnulled, StatePayoutFailed:
		return true
	}
	return false
}

// MethodKind tags the polymorphic payment/collection method reference.
type MethodKind string

const (
	MethodInternationalCard MethodKind = "international_card"
	MethodNationalCard      MethodKind = "national_card"
	MethodWallet            MethodKind = "wallet"
	MethodBankTransfer      MethodKind = "bank_transfer"
	MethodKiosk             MethodKind = "kiosk"
)

// MethodRef is the kind-plus-id pointer to one concrete instrument record.
type MethodRef struct {
	Kind MethodKind `json:"kind"`
	ID   uuid.UUID  `json:"id"`
}

// Transaction is the exchange operation record. Snapshots of the category
// discount and method commissions are taken at creation so later
// configuration edits never change a past transaction.
type Transaction struct {
	ID                 uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	ClientID           uuid.UUID        `json:"client_id" gorm:"type:uuid;index" validate:"required,uuid"`
	UserID             uuid.UUID        `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Direction          Direction        `json:"direction" validate:"required,oneof=BUY SELL"`
	State              TransactionState `json:"state" gorm:"index" validate:"required"`
	SourceCurrency     string           `json:"source_currency" gorm:"size:3" validate:"required,len=3"`
	TargetCurrency     string           `json:"target_currency" gorm:"size:3" validate:"required,len=3"`
	Rate               decimal.Decimal  `json:"rate" gorm:"type:decimal(30,8)"`
	SourceAmount       decimal.Decimal  `json:"source_amount" gorm:"type:decimal(30,8)"`
	TargetAmount       decimal.Decimal  `json:"target_amount" gorm:"type:decimal(30,8)"`
	CategoryDiscount   decimal.Decimal  `json:"category_discount" gorm:"type:decimal(5,4)"`
	PaymentCommission  decimal.Decimal  `json:"payment_commission" gorm:"type:decimal(10,4)"`
	CollectCommission  decimal.Decimal  `json:"collect_commission" gorm:"type:decimal(10,4)"`
	PaymentKind        MethodKind       `json:"payment_kind" validate:"required"`
	PaymentMethodID    uuid.UUID        `json:"payment_method_id" gorm:"type:uuid" validate:"required,uuid"`
	CollectionKind     MethodKind       `json:"collection_kind" validate:"required"`
	CollectionMethodID uuid.UUID        `json:"collection_method_id" gorm:"type:uuid" validate:"required,uuid"`
	ChargeRef          string           `json:"charge_ref" validate:"omitempty,max=255"` // external processor charge id
	TransferRef        string           `json:"transfer_ref" validate:"omitempty,max=255"`
	InvoiceID          *uuid.UUID       `json:"invoice_id" gorm:"type:uuid" validate:"omitempty,uuid"`
	CreatedAt          time.Time        `json:"created_at"`
	PaidAt             *time.Time       `json:"paid_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// PaymentMethodRef returns the polymorphic reference to the charge instrument.
func (t *Transaction) PaymentMethodRef() MethodRef {
	return MethodRef{Kind: t.PaymentKind, ID: t.PaymentMethodID}
}

// CollectionMethodRef returns the polymorphic reference to the payout instrument.
func (t *Transaction) CollectionMethodRef() MethodRef {
	return MethodRef{Kind: t.CollectionKind, ID: t.CollectionMethodID}
}

// BaseAmount returns the leg of the transaction denominated in the base
// currency; fiscal documents and exchange limits are expressed in it.
func (t *Transaction) BaseAmount() decimal.Decimal {
	if t.SourceCurrency == BaseCurrency {
		return t.SourceAmount
	}
	return t.TargetAmount
}

// LimitConfig caps daily/monthly spend per (category, currency) pair.
type LimitConfig struct {
	ID           uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	CategoryID   uuid.UUID       `json:"category_id" gorm:"type:uuid;index:idx_limit_config,unique" validate:"required,uuid"`
	CurrencyCode string          `json:"currency_code" gorm:"size:3;index:idx_limit_config,unique" validate:"required,len=3"`
	DailyCap     decimal.Decimal `json:"daily_cap" gorm:"type:decimal(30,8)"`
	MonthlyCap   decimal.Decimal `json:"monthly_cap" gorm:"type:decimal(30,8)"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LimitBalance is the per-client remaining balance under a LimitConfig.
// Mutated only by the ledger's debit and reset operations.
type LimitBalance struct {
	ID               uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	ClientID         uuid.UUID       `json:"client_id" gorm:"type:uuid;index:idx_limit_balance,unique" validate:"required,uuid"`
	LimitConfigID    uuid.UUID       `json:"limit_config_id" gorm:"type:uuid;index:idx_limit_balance,unique" validate:"required,uuid"`
	DailyRemaining   decimal.Decimal `json:"daily_remaining" gorm:"type:decimal(30,8)"`
	MonthlyRemaining decimal.Decimal `json:"monthly_remaining" gorm:"type:decimal(30,8)"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OneTimeCode is the step-up authentication challenge. Valid only while
// unused and younger than the configured TTL; a newer code supersedes older
// ones because verification always looks at the most recent unused code.
type OneTimeCode struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Code      string    `json:"-" validate:"required,len=6,numeric"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentSequence is the fiscal numbering range for one establishment /
// issuing-point pair. Issuance is the only mutation and always runs under an
// exclusive row lock.
type DocumentSequence struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Establishment string    `json:"establishment" gorm:"size:3;index:idx_doc_seq,unique" validate:"required,len=3"`
	IssuingPoint  string    `json:"issuing_point" gorm:"size:3;index:idx_doc_seq,unique" validate:"required,len=3"`
	Floor         int64     `json:"floor"`
	Ceiling       int64     `json:"ceiling"`
	Cursor        int64     `json:"cursor"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// InvoiceStatus tracks the fiscal document lifecycle against the proxy.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceSubmitted InvoiceStatus = "SUBMITTED"
	InvoiceApproved  InvoiceStatus = "APPROVED"
	InvoiceRejected  InvoiceStatus = "REJECTED"
)

// Invoice is the fiscal document tied 1:1 to a transaction.
type Invoice struct {
	ID            uuid.UUID     `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	TransactionID uuid.UUID     `json:"transaction_id" gorm:"type:uuid;uniqueIndex" validate:"required,uuid"`
	DocNumber     string        `json:"doc_number" gorm:"size:7" validate:"required,len=7,numeric"`
	Establishment string        `json:"establishment" gorm:"size:3" validate:"required,len=3"`
	IssuingPoint  string        `json:"issuing_point" gorm:"size:3" validate:"required,len=3"`
	StampNumber   string        `json:"stamp_number" validate:"required,max=20"`
	ExternalID    string        `json:"external_id" validate:"omitempty,max=64"` // proxy-assigned document id
	Status        InvoiceStatus `json:"status" validate:"required"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Number renders the visual document number, e.g. "001-003-0000151".
func (i *Invoice) Number() string {
	return i.Establishment + "-" + i.IssuingPoint + "-" + i.DocNumber
}
