package rails

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/globalexchange/cambios/pkg/models"
)

func setupRails(t *testing.T) (*gorm.DB, *models.Client) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Client{},
		&models.NationalCard{},
		&models.Wallet{},
		&models.BankAccount{},
		&models.Kiosk{},
	))

	client := &models.Client{
		ID:    uuid.New(),
		Kind:  models.ClientNaturalPerson,
		Name:  "Test Client",
		Email: "rails@example.com",
	}
	require.NoError(t, db.Create(client).Error)
	return db, client
}

func testTransaction(client *models.Client, paymentKind, collectionKind models.MethodKind, paymentID, collectionID uuid.UUID) *models.Transaction {
	return &models.Transaction{
		ID:                 uuid.New(),
		ClientID:           client.ID,
		Direction:          models.DirectionSell,
		SourceCurrency:     models.BaseCurrency,
		TargetCurrency:     "USD",
		SourceAmount:       decimal.NewFromInt(7500000),
		TargetAmount:       decimal.NewFromInt(1000),
		Rate:               decimal.NewFromInt(7500),
		State:              models.StatePending,
		PaymentKind:        paymentKind,
		PaymentMethodID:    paymentID,
		CollectionKind:     collectionKind,
		CollectionMethodID: collectionID,
	}
}

func TestNationalCardChargeDeterministic(t *testing.T) {
	db, client := setupRails(t)
	d := NewPaymentDispatcher(zap.NewNop(), db, nil)
	ctx := context.Background()

	ok := models.NationalCard{ID: uuid.New(), ClientID: client.ID, LastDigits: "1230",
		TokenNumber: "tok_900", Currency: models.BaseCurrency, Active: true}
	declined := models.NationalCard{ID: uuid.New(), ClientID: client.ID, LastDigits: "1231",
		TokenNumber: "tok_901", Currency: models.BaseCurrency, Active: true}
	require.NoError(t, db.Create(&ok).Error)
	require.NoError(t, db.Create(&declined).Error)

	tx := testTransaction(client, models.MethodNationalCard, models.MethodKiosk, ok.ID, uuid.New())
	out, err := d.Charge(ctx, ChargeRequest{Transaction: tx, Client: client})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.NotEmpty(t, out.ExternalRef)

	tx = testTransaction(client, models.MethodNationalCard, models.MethodKiosk, declined.ID, uuid.New())
	out, err = d.Charge(ctx, ChargeRequest{Transaction: tx, Client: client})
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, out.Status)
}

func TestWalletChargePINFlow(t *testing.T) {
	db, client := setupRails(t)
	d := NewPaymentDispatcher(zap.NewNop(), db, nil)
	ctx := context.Background()

	wallet := models.Wallet{ID: uuid.New(), ClientID: client.ID, Phone: "0981555000",
		Currency: models.BaseCurrency, Active: true}
	require.NoError(t, db.Create(&wallet).Error)

	tx := testTransaction(client, models.MethodWallet, models.MethodKiosk, wallet.ID, uuid.New())

	// No PIN yet: the rail suspends.
	out, err := d.Charge(ctx, ChargeRequest{Transaction: tx, Client: client})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsPIN, out.Status)
	assert.True(t, out.RetryAllowed)

	// Malformed PIN keeps asking.
	out, err = d.Charge(ctx, ChargeRequest{Transaction: tx, Client: client, WalletPIN: "12a4"})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsPIN, out.Status)

	out, err = d.Charge(ctx, ChargeRequest{Transaction: tx, Client: client, WalletPIN: "123"})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsPIN, out.Status)

	// PIN ending in 1 is wrong but retryable.
	out, err = d.Charge(ctx, ChargeRequest{Transaction: tx, Client: client, WalletPIN: "1231"})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsPIN, out.Status)
	assert.True(t, out.RetryAllowed)

	// PIN ending in 0 approves.
	out, err = d.Charge(ctx, ChargeRequest{Transaction: tx, Client: client, WalletPIN: "1230"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
}

func TestBankTransferChargeSuspends(t *testing.T) {
	db, client := setupRails(t)
	d := NewPaymentDispatcher(zap.NewNop(), db, nil)

	tx := testTransaction(client, models.MethodBankTransfer, models.MethodKiosk, uuid.New(), uuid.New())
	out, err := d.Charge(context.Background(), ChargeRequest{Transaction: tx, Client: client})
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingRef, out.Status)
}

func TestValidateTransferReference(t *testing.T) {
	assert.Equal(t, StatusSuccess, ValidateTransferReference("TRF-1000").Status)
	assert.Equal(t, StatusFailure, ValidateTransferReference("TRF-1001").Status)
	assert.Equal(t, StatusFailure, ValidateTransferReference("").Status)
	assert.Equal(t, StatusFailure, ValidateTransferReference("TRF-X").Status)
}

func TestPayoutRails(t *testing.T) {
	db, client := setupRails(t)
	d := NewCollectionDispatcher(zap.NewNop(), db)
	ctx := context.Background()

	okAccount := models.BankAccount{ID: uuid.New(), ClientID: client.ID,
		AccountNumber: "620001230", Currency: "USD", Active: true}
	badWallet := models.Wallet{ID: uuid.New(), ClientID: client.ID,
		Phone: "0981555001", Currency: "USD", Active: true}
	require.NoError(t, db.Create(&okAccount).Error)
	require.NoError(t, db.Create(&badWallet).Error)

	tx := testTransaction(client, models.MethodKiosk, models.MethodBankTransfer, uuid.New(), okAccount.ID)
	out, err := d.Payout(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)

	tx = testTransaction(client, models.MethodKiosk, models.MethodWallet, uuid.New(), badWallet.ID)
	out, err = d.Payout(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, out.Status)
}

func TestKioskRail(t *testing.T) {
	db, client := setupRails(t)
	pd := NewPaymentDispatcher(zap.NewNop(), db, nil)
	cd := NewCollectionDispatcher(zap.NewNop(), db)
	ctx := context.Background()

	kiosk := models.Kiosk{ID: uuid.New(), Name: "Centro", Location: "Asuncion", Active: true}
	require.NoError(t, db.Create(&kiosk).Error)

	tx := testTransaction(client, models.MethodKiosk, models.MethodKiosk, kiosk.ID, kiosk.ID)

	out, err := pd.Charge(ctx, ChargeRequest{Transaction: tx, Client: client})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "kiosk:Centro", out.ExternalRef)

	out, err = cd.Payout(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
}

func TestMinorUnitsHonorsCurrencyDecimals(t *testing.T) {
	assert.Equal(t, int64(7500000), minorUnits(decimal.NewFromInt(7500000), 0))
	assert.Equal(t, int64(100050), minorUnits(decimal.NewFromFloat(1000.50), 2))
	assert.Equal(t, int64(1000500), minorUnits(decimal.NewFromFloat(1000.50), 3))
	assert.Equal(t, int64(250), minorUnits(decimal.NewFromFloat(2.5), 2))
}

func TestUnknownKind(t *testing.T) {
	db, client := setupRails(t)
	d := NewPaymentDispatcher(zap.NewNop(), db, nil)

	tx := testTransaction(client, models.MethodKind("carrier_pigeon"), models.MethodKiosk, uuid.New(), uuid.New())
	_, err := d.Charge(context.Background(), ChargeRequest{Transaction: tx, Client: client})
	assert.ErrorIs(t, err, ErrUnknownMethod)
}
