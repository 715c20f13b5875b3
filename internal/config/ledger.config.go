package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AppConfig struct {
	HTTPAddr     string
	RedisAddr    string
	RedisPass    string
	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret      string
	AuthServiceURL string

	VASProviderURL   string
	VASProviderKey   string
	BankProviderURL  string
	BankProviderKey  string
	TopUpProviderURL string
	TopUpProviderKey string
	ProviderTimeout  time.Duration

	Currency string

	TransferMin        decimal.Decimal
	TransferMax        decimal.Decimal
	TransferDailyCap   decimal.Decimal
	TransferDailyCount int
	TransferFeeBps     int64

	WithdrawalMin        decimal.Decimal
	WithdrawalMax        decimal.Decimal
	WithdrawalDailyCap   decimal.Decimal
	WithdrawalDailyCount int
	WithdrawalFeeFixed   decimal.Decimal

	IdempotencyTTL time.Duration

	ReconcileInterval  time.Duration
	ReconcileBatchSize int
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8031"),
		RedisAddr:    getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:    getEnv("REDIS_PASS", ""),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "transaction_events"),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		AuthServiceURL: getEnv("AUTH_SERVICE_URL", "http://auth-service:8001"),

		VASProviderURL:   getEnv("VAS_PROVIDER_URL", ""),
		VASProviderKey:   getEnv("VAS_PROVIDER_KEY", ""),
		BankProviderURL:  getEnv("BANK_PROVIDER_URL", ""),
		BankProviderKey:  getEnv("BANK_PROVIDER_KEY", ""),
		TopUpProviderURL: getEnv("TOPUP_PROVIDER_URL", ""),
		TopUpProviderKey: getEnv("TOPUP_PROVIDER_KEY", ""),
		ProviderTimeout:  getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),

		Currency: getEnv("CURRENCY", "NGN"),

		TransferMin:        getEnvDecimal("TRANSFER_MIN", "100"),
		TransferMax:        getEnvDecimal("TRANSFER_MAX", "1000000"),
		TransferDailyCap:   getEnvDecimal("TRANSFER_DAILY_CAP", "5000000"),
		TransferDailyCount: getEnvInt("TRANSFER_DAILY_COUNT", 20),
		TransferFeeBps:     int64(getEnvInt("TRANSFER_FEE_BPS", 0)),

		WithdrawalMin:        getEnvDecimal("WITHDRAWAL_MIN", "500"),
		WithdrawalMax:        getEnvDecimal("WITHDRAWAL_MAX", "500000"),
		WithdrawalDailyCap:   getEnvDecimal("WITHDRAWAL_DAILY_CAP", "2000000"),
		WithdrawalDailyCount: getEnvInt("WITHDRAWAL_DAILY_COUNT", 10),
		WithdrawalFeeFixed:   getEnvDecimal("WITHDRAWAL_FEE_FIXED", "50"),

		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", 24*time.Hour),
		ReconcileBatchSize: getEnvInt("RECONCILE_BATCH_SIZE", 200),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
