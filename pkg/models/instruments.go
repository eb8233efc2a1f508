package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MethodConfig is the administrator-managed configuration for one rail kind:
// whether it is globally enabled and what commission surcharge it carries.
// The commission is a percentage (e.g. 1.5 means 1.5%).
type MethodConfig struct {
	ID         uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Kind       MethodKind      `json:"kind" gorm:"index:idx_method_config,unique" validate:"required"`
	ForPayment bool            `json:"for_payment" gorm:"index:idx_method_config,unique"`
	Enabled    bool            `json:"enabled" gorm:"default:true"`
	Commission decimal.Decimal `json:"commission" gorm:"type:decimal(10,4)"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// InternationalCard is a tokenized card held at the external card processor.
type InternationalCard struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	ClientID   uuid.UUID `json:"client_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Label      string    `json:"label" validate:"omitempty,max=100"`
	LastDigits string    `json:"last_digits" gorm:"size:4" validate:"required,len=4,numeric"`
	CardToken  string    `json:"-" gorm:"column:card_token" validate:"required"` // processor payment-method token
	Active     bool      `json:"active" gorm:"default:true"`
	CreatedAt  time.Time `json:"created_at"`
}

// NationalCard is a locally issued card; charges are restricted to the base
// currency.
type NationalCard struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	ClientID    uuid.UUID `json:"client_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Label       string    `json:"label" validate:"omitempty,max=100"`
	LastDigits  string    `json:"last_digits" gorm:"size:4" validate:"required,len=4,numeric"`
	TokenNumber string    `json:"-" gorm:"column:token_number" validate:"required"`
	Entity      string    `json:"entity" validate:"omitempty,max=100"`
	Currency    string    `json:"currency" gorm:"size:3" validate:"required,len=3"`
	Active      bool      `json:"active" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
}

// Wallet is an e-wallet identified by a phone number; charges require a PIN
// confirmation from the holder.
type Wallet struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	ClientID  uuid.UUID `json:"client_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Label     string    `json:"label" validate:"omitempty,max=100"`
	Phone     string    `json:"phone" validate:"required,max=30"`
	Entity    string    `json:"entity" validate:"omitempty,max=100"`
	Currency  string    `json:"currency" gorm:"size:3" validate:"required,len=3"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
}

// BankAccount is a client bank account used for transfer payment (manual
// reference confirmation) or payout.
type BankAccount struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	ClientID      uuid.UUID `json:"client_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Label         string    `json:"label" validate:"omitempty,max=100"`
	AccountNumber string    `json:"account_number" validate:"required,max=34"`
	Entity        string    `json:"entity" validate:"omitempty,max=100"`
	Currency      string    `json:"currency" gorm:"size:3" validate:"required,len=3"`
	Active        bool      `json:"active" gorm:"default:true"`
	CreatedAt     time.Time `json:"created_at"`
}

// Kiosk is an in-person exchange point; it serves both payment and
// collection and is not tied to a single client.
type Kiosk struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Name      string    `json:"name" validate:"required,max=100"`
	Location  string    `json:"location" validate:"omitempty,max=200"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
}
