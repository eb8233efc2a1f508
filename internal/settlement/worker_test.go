package settlement

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

	"github.com/globalexchange/cambios/internal/queue"
	"github.com/globalexchange/cambios/internal/rails"
	"github.com/globalexchange/cambios/pkg/models"
)

func setupWorker(t *testing.T) (*Worker, *gorm.DB, *models.Client) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Client{},
		&models.Transaction{},
		&models.BankAccount{},
		&models.Wallet{},
		&models.Kiosk{},
	))

	client := &models.Client{ID: uuid.New(), Kind: models.ClientNaturalPerson,
		Name: "Settle Client", Email: "settle@example.com"}
	require.NoError(t, db.Create(client).Error)

	w := NewWorker(zap.NewNop(), db, rails.NewCollectionDispatcher(zap.NewNop(), db))
	return w, db, client
}

func paidTransaction(t *testing.T, db *gorm.DB, client *models.Client, collectionKind models.MethodKind, collectionID uuid.UUID) *models.Transaction {
	t.Helper()
	tx := &models.Transaction{
		ID:                 uuid.New(),
		ClientID:           client.ID,
		UserID:             uuid.New(),
		Direction:          models.DirectionSell,
		State:              models.StatePaid,
		SourceCurrency:     models.BaseCurrency,
		TargetCurrency:     "USD",
		SourceAmount:       decimal.NewFromInt(7500000),
		TargetAmount:       decimal.NewFromInt(1000),
		Rate:               decimal.NewFromInt(7500),
		PaymentKind:        models.MethodKiosk,
		PaymentMethodID:    uuid.New(),
		CollectionKind:     collectionKind,
		CollectionMethodID: collectionID,
	}
	require.NoError(t, db.Create(tx).Error)
	return tx
}

func TestProcessCompletes(t *testing.T) {
	w, db, client := setupWorker(t)
	ctx := context.Background()

	account := models.BankAccount{ID: uuid.New(), ClientID: client.ID,
		AccountNumber: "880210", Currency: "USD", Active: true}
	require.NoError(t, db.Create(&account).Error)

	tx := paidTransaction(t, db, client, models.MethodBankTransfer, account.ID)
	require.NoError(t, w.Process(ctx, queue.Job{Kind: queue.JobSettle, TransactionID: tx.ID}))

	var got models.Transaction
	require.NoError(t, db.First(&got, "id = ?", tx.ID).Error)
	assert.Equal(t, models.StateComplete, got.State)
}

func TestProcessPayoutFailed(t *testing.T) {
	w, db, client := setupWorker(t)
	ctx := context.Background()

	account := models.BankAccount{ID: uuid.New(), ClientID: client.ID,
		AccountNumber: "880211", Currency: "USD", Active: true}
	require.NoError(t, db.Create(&account).Error)

	tx := paidTransaction(t, db, client, models.MethodBankTransfer, account.ID)
	require.NoError(t, w.Process(ctx, queue.Job{Kind: queue.JobSettle, TransactionID: tx.ID}))

	var got models.Transaction
	require.NoError(t, db.First(&got, "id = ?", tx.ID).Error)
	assert.Equal(t, models.StatePayoutFailed, got.State)
}

func TestProcessIdempotent(t *testing.T) {
	w, db, client := setupWorker(t)
	ctx := context.Background()

	account := models.BankAccount{ID: uuid.New(), ClientID: client.ID,
		AccountNumber: "880210", Currency: "USD", Active: true}
	require.NoError(t, db.Create(&account).Error)

	tx := paidTransaction(t, db, client, models.MethodBankTransfer, account.ID)

	// Simulate a redelivered job after settlement already finished.
	require.NoError(t, w.Process(ctx, queue.Job{Kind: queue.JobSettle, TransactionID: tx.ID}))
	require.NoError(t, w.Process(ctx, queue.Job{Kind: queue.JobSettle, TransactionID: tx.ID}))

	var got models.Transaction
	require.NoError(t, db.First(&got, "id = ?", tx.ID).Error)
	assert.Equal(t, models.StateComplete, got.State)
}

func TestProcessUnknownTransaction(t *testing.T) {
	w, _, _ := setupWorker(t)
	err := w.Process(context.Background(), queue.Job{Kind: queue.JobSettle, TransactionID: uuid.New()})
	assert.Error(t, err)
}
