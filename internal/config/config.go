package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config carries every knob the engine needs, loaded once at startup and
// injected into the components; nothing reads the environment ad hoc.
type Config struct {
	Env      string
	LogLevel string

	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	Limits    LimitsConfig
	Transfers TransfersConfig
	Invoicing InvoicingConfig
	Cards     CardsConfig
}

type HTTPConfig struct {
	Addr string
	// MetricsAddr is the standalone /metrics listener for processes without
	// an API surface, such as the worker.
	MetricsAddr string
}

type DatabaseConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// AuthConfig controls the one-time-code step-up.
type AuthConfig struct {
	StepUpEnabled bool
	CodeTTL       time.Duration
}

// LimitsConfig controls the exchange-limit ledger. CheckBuy extends limit
// enforcement to BUY operations; the default matches the historical rule of
// checking only SELL into the base currency.
type LimitsConfig struct {
	CheckBuy bool
}

// TransfersConfig controls the manual bank-transfer confirmation path.
type TransfersConfig struct {
	PendingExpiry time.Duration
	SweepInterval time.Duration
}

// InvoicingConfig controls fiscal document issuance.
type InvoicingConfig struct {
	Enabled        bool
	Establishment  string
	IssuingPoint   string
	StampNumber    string
	StampValidFrom string
	ProxyURL       string
	ProxyTimeout   time.Duration

	IssuerTaxID      string
	IssuerCheckDigit string
	IssuerName       string
	IssuerAddress    string
	IssuerEmail      string
	IssuerPhone      string
}

type CardsConfig struct {
	APIKey string
}

// Load reads configuration from the environment and an optional .env file.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found: %v", err)
	}

	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("METRICS_ADDR", ":9091")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_TOPIC", "cambios.jobs")
	viper.SetDefault("KAFKA_GROUP_ID", "cambios-worker")
	viper.SetDefault("AUTH_STEP_UP_ENABLED", true)
	viper.SetDefault("AUTH_CODE_TTL", 5*time.Minute)
	viper.SetDefault("LIMITS_CHECK_BUY", false)
	viper.SetDefault("TRANSFER_PENDING_EXPIRY", 2*time.Minute)
	viper.SetDefault("TRANSFER_SWEEP_INTERVAL", 30*time.Second)
	viper.SetDefault("INVOICING_ENABLED", false)
	viper.SetDefault("INVOICING_ESTABLISHMENT", "001")
	viper.SetDefault("INVOICING_ISSUING_POINT", "003")
	viper.SetDefault("INVOICING_PROXY_TIMEOUT", 15*time.Second)

	return &Config{
		Env:      viper.GetString("ENV"),
		LogLevel: viper.GetString("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Addr:        viper.GetString("HTTP_ADDR"),
			MetricsAddr: viper.GetString("METRICS_ADDR"),
		},
		Database: DatabaseConfig{
			DSN: viper.GetString("DB_DSN"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Kafka: KafkaConfig{
			Brokers: viper.GetStringSlice("KAFKA_BROKERS"),
			Topic:   viper.GetString("KAFKA_TOPIC"),
			GroupID: viper.GetString("KAFKA_GROUP_ID"),
		},
		Auth: AuthConfig{
			StepUpEnabled: viper.GetBool("AUTH_STEP_UP_ENABLED"),
			CodeTTL:       viper.GetDuration("AUTH_CODE_TTL"),
		},
		Limits: LimitsConfig{
			CheckBuy: viper.GetBool("LIMITS_CHECK_BUY"),
		},
		Transfers: TransfersConfig{
			PendingExpiry: viper.GetDuration("TRANSFER_PENDING_EXPIRY"),
			SweepInterval: viper.GetDuration("TRANSFER_SWEEP_INTERVAL"),
		},
		Invoicing: InvoicingConfig{
			Enabled:          viper.GetBool("INVOICING_ENABLED"),
			Establishment:    viper.GetString("INVOICING_ESTABLISHMENT"),
			IssuingPoint:     viper.GetString("INVOICING_ISSUING_POINT"),
			StampNumber:      viper.GetString("INVOICING_STAMP_NUMBER"),
			StampValidFrom:   viper.GetString("INVOICING_STAMP_VALID_FROM"),
			ProxyURL:         viper.GetString("INVOICING_PROXY_URL"),
			ProxyTimeout:     viper.GetDuration("INVOICING_PROXY_TIMEOUT"),
			IssuerTaxID:      viper.GetString("INVOICING_ISSUER_TAX_ID"),
			IssuerCheckDigit: viper.GetString("INVOICING_ISSUER_CHECK_DIGIT"),
			IssuerName:       viper.GetString("INVOICING_ISSUER_NAME"),
			IssuerAddress:    viper.GetString("INVOICING_ISSUER_ADDRESS"),
			IssuerEmail:      viper.GetString("INVOICING_ISSUER_EMAIL"),
			IssuerPhone:      viper.GetString("INVOICING_ISSUER_PHONE"),
		},
		Cards: CardsConfig{
			APIKey: viper.GetString("CARD_PROCESSOR_KEY"),
		},
	}
}
