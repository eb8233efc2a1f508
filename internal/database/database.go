package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/globalexchange/cambios/pkg/models"
)

// NewPostgresDB opens a PostgreSQL connection with pooling tuned for the
// transaction engine.
func NewPostgresDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	return db, nil
}

// Migrate creates or updates the schema for every persisted model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Category{},
		&models.Client{},
		&models.Currency{},
		&models.MethodConfig{},
		&models.InternationalCard{},
		&models.NationalCard{},
		&models.Wallet{},
		&models.BankAccount{},
		&models.Kiosk{},
		&models.LimitConfig{},
		&models.LimitBalance{},
		&models.OneTimeCode{},
		&models.Transaction{},
		&models.DocumentSequence{},
		&models.Invoice{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
