package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// Database
	DBDriver   string
	SQLitePath string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Security
	JWTSecret        string
	InternalAPIToken string

	// Payment gateway
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	CheckoutBaseURL       string
	Currency              string

	// Notifications (optional)
	BotToken        string
	NotifyQueueSize int

	// Application
	AppEnv        string
	AppPort       string
	LogLevel      string
	UploadDir     string
	UploadBaseURL string
	UploadMaxSize int64

	// Rate Limiting
	RateLimitPerUser int
	RateLimitPerIP   int

	// Ledger
	MinDeposit      decimal.Decimal
	MinWithdrawal   decimal.Decimal
	ReferralBonus   decimal.Decimal
	ConflictRetries int

	// Expiry sweeper
	PendingOrderTTLMinutes int
	PendingDepositTTLHours int
	SweepIntervalSeconds   int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		SQLitePath: getEnv("SQLITE_PATH", "szludo_wallet.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "szludo"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "szludo_wallet"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:        getEnv("JWT_SECRET_KEY", ""),
		InternalAPIToken: getEnv("INTERNAL_API_TOKEN", ""),

		RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		CheckoutBaseURL:       getEnv("CHECKOUT_BASE_URL", "http://localhost:8080/checkout"),
		Currency:              getEnv("CURRENCY", "INR"),

		BotToken:        getEnv("BOT_TOKEN", ""),
		NotifyQueueSize: getEnvInt("NOTIFY_QUEUE_SIZE", 256),

		AppEnv:        getEnv("APP_ENV", "development"),
		AppPort:       getEnv("APP_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		UploadBaseURL: getEnv("UPLOAD_BASE_URL", "http://localhost:8080/uploads"),
		UploadMaxSize: getEnvInt64("UPLOAD_MAX_SIZE", 5242880),

		RateLimitPerUser: getEnvInt("RATE_LIMIT_PER_USER", 20),
		RateLimitPerIP:   getEnvInt("RATE_LIMIT_PER_IP", 100),

		ConflictRetries: getEnvInt("CONFLICT_RETRIES", 3),

		PendingOrderTTLMinutes: getEnvInt("PENDING_ORDER_TTL_MINUTES", 30),
		PendingDepositTTLHours: getEnvInt("PENDING_DEPOSIT_TTL_HOURS", 0),
		SweepIntervalSeconds:   getEnvInt("SWEEP_INTERVAL_SECONDS", 60),
	}

	var err error
	if cfg.MinDeposit, err = getEnvDecimal("MIN_DEPOSIT", "10"); err != nil {
		return nil, err
	}
	if cfg.MinWithdrawal, err = getEnvDecimal("MIN_WITHDRAWAL", "100"); err != nil {
		return nil, err
	}
	if cfg.ReferralBonus, err = getEnvDecimal("REFERRAL_BONUS", "25"); err != nil {
		return nil, err
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case "sqlite":
		if c.AppEnv == "production" {
			return fmt.Errorf("DB_DRIVER=sqlite is not allowed in production")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters")
	}
	if c.InternalAPIToken == "" {
		return fmt.Errorf("INTERNAL_API_TOKEN is required")
	}
	if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
		return fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
	}
	if c.RazorpayWebhookSecret == "" {
		return fmt.Errorf("RAZORPAY_WEBHOOK_SECRET is required")
	}
	if !c.MinDeposit.IsPositive() {
		return fmt.Errorf("MIN_DEPOSIT must be positive")
	}
	if !c.MinWithdrawal.IsPositive() {
		return fmt.Errorf("MIN_WITHDRAWAL must be positive")
	}
	if c.ReferralBonus.IsNegative() {
		return fmt.Errorf("REFERRAL_BONUS cannot be negative")
	}
	if c.ConflictRetries < 1 {
		return fmt.Errorf("CONFLICT_RETRIES must be at least 1")
	}
	if c.PendingOrderTTLMinutes < 1 {
		return fmt.Errorf("PENDING_ORDER_TTL_MINUTES must be at least 1")
	}
	return nil
}

func (c *Config) ValidateProductionSecurity() error {
	if c.AppEnv != "production" {
		return nil
	}

	if c.DBSSLMode != "require" {
		return fmt.Errorf("DB_SSLMODE must be 'require' in production")
	}
	if c.JWTSecret == "your_jwt_secret_minimum_32_chars_here_change_this" {
		return fmt.Errorf("JWT_SECRET_KEY must be changed from default in production")
	}
	if len(c.InternalAPIToken) < 24 {
		return fmt.Errorf("INTERNAL_API_TOKEN must be at least 24 characters in production")
	}
	if len(c.RazorpayKeyID) < 8 || c.RazorpayKeyID[:8] != "rzp_live" {
		return fmt.Errorf("RAZORPAY_KEY_ID must be a live key in production")
	}

	return nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) GetPendingOrderTTL() time.Duration {
	return time.Duration(c.PendingOrderTTLMinutes) * time.Minute
}

// GetPendingDepositTTL is zero when manual deposit expiry is disabled.
func (c *Config) GetPendingDepositTTL() time.Duration {
	return time.Duration(c.PendingDepositTTLHours) * time.Hour
}

func (c *Config) GetSweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
