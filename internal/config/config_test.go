package config

import (
	"testing"
	"time"
)

var requiredEnv = map[string]string{
	"DB_PASSWORD":             "test_password",
	"JWT_SECRET_KEY":          "this_is_a_test_secret_key_with_32_chars_minimum",
	"INTERNAL_API_TOKEN":      "internal_token",
	"RAZORPAY_KEY_ID":         "rzp_test_key",
	"RAZORPAY_KEY_SECRET":     "rzp_test_secret",
	"RAZORPAY_WEBHOOK_SECRET": "whsec",
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoadConfig(t *testing.T) {
	setEnv(t, requiredEnv)
	t.Setenv("MIN_DEPOSIT", "50.50")
	t.Setenv("REFERRAL_BONUS", "30")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.DBPassword != "test_password" {
		t.Errorf("DBPassword = %q, want %q", cfg.DBPassword, "test_password")
	}
	if cfg.MinDeposit.String() != "50.5" {
		t.Errorf("MinDeposit = %s, want 50.5", cfg.MinDeposit)
	}
	if cfg.ReferralBonus.String() != "30" {
		t.Errorf("ReferralBonus = %s, want 30", cfg.ReferralBonus)
	}
	if cfg.ConflictRetries != 3 {
		t.Errorf("ConflictRetries = %d, want 3", cfg.ConflictRetries)
	}
	if cfg.Currency != "INR" {
		t.Errorf("Currency = %q, want INR", cfg.Currency)
	}
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	for key := range requiredEnv {
		t.Run("Missing "+key, func(t *testing.T) {
			setEnv(t, requiredEnv)
			t.Setenv(key, "")

			_, err := LoadConfig()
			if err == nil {
				t.Errorf("LoadConfig() expected error without %s, got nil", key)
			}
		})
	}
}

func TestLoadConfig_InvalidDecimal(t *testing.T) {
	setEnv(t, requiredEnv)
	t.Setenv("MIN_WITHDRAWAL", "one hundred")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() expected error for invalid MIN_WITHDRAWAL, got nil")
	}
}

func TestValidate_JWTSecretTooShort(t *testing.T) {
	setEnv(t, requiredEnv)
	t.Setenv("JWT_SECRET_KEY", "short")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() expected error for short JWT secret, got nil")
	}
}

func TestValidateProductionSecurity(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		shouldErr bool
	}{
		{
			name: "Valid production config",
			cfg: &Config{
				AppEnv:           "production",
				DBSSLMode:        "require",
				JWTSecret:        "production_secret_key_different_from_default",
				InternalAPIToken: "a_long_internal_token_value_123",
				RazorpayKeyID:    "rzp_live_abcdef",
			},
			shouldErr: false,
		},
		{
			name: "Development mode - no validation",
			cfg: &Config{
				AppEnv:    "development",
				DBSSLMode: "disable",
			},
			shouldErr: false,
		},
		{
			name: "Production without SSL",
			cfg: &Config{
				AppEnv:           "production",
				DBSSLMode:        "disable",
				JWTSecret:        "production_secret",
				InternalAPIToken: "a_long_internal_token_value_123",
				RazorpayKeyID:    "rzp_live_abcdef",
			},
			shouldErr: true,
		},
		{
			name: "Production with test gateway key",
			cfg: &Config{
				AppEnv:           "production",
				DBSSLMode:        "require",
				JWTSecret:        "production_secret_key_different_from_default",
				InternalAPIToken: "a_long_internal_token_value_123",
				RazorpayKeyID:    "rzp_test_abcdef",
			},
			shouldErr: true,
		},
		{
			name: "Production with short internal token",
			cfg: &Config{
				AppEnv:           "production",
				DBSSLMode:        "require",
				JWTSecret:        "production_secret_key_different_from_default",
				InternalAPIToken: "short",
				RazorpayKeyID:    "rzp_live_abcdef",
			},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateProductionSecurity()
			if tt.shouldErr && err == nil {
				t.Error("ValidateProductionSecurity() expected error, got nil")
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("ValidateProductionSecurity() unexpected error = %v", err)
			}
		})
	}
}

func TestGetDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "localhost",
		DBPort:     "5432",
		DBUser:     "testuser",
		DBPassword: "testpass",
		DBName:     "testdb",
		DBSSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	if dsn := cfg.GetDSN(); dsn != expected {
		t.Errorf("GetDSN() = %q, want %q", dsn, expected)
	}
}

func TestDurations(t *testing.T) {
	cfg := &Config{PendingOrderTTLMinutes: 30, PendingDepositTTLHours: 48, SweepIntervalSeconds: 0}

	if got := cfg.GetPendingOrderTTL(); got != 30*time.Minute {
		t.Errorf("GetPendingOrderTTL() = %v", got)
	}
	if got := cfg.GetPendingDepositTTL(); got != 48*time.Hour {
		t.Errorf("GetPendingDepositTTL() = %v", got)
	}
	if got := cfg.GetSweepInterval(); got != time.Minute {
		t.Errorf("GetSweepInterval() = %v, want fallback of 1m", got)
	}
}

func TestValidate_DBDriver(t *testing.T) {
	setEnv(t, requiredEnv)
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() with sqlite driver error = %v", err)
	}
	if cfg.SQLitePath != "szludo_wallet.db" {
		t.Errorf("SQLitePath = %q", cfg.SQLitePath)
	}

	t.Setenv("DB_DRIVER", "mysql")
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() expected error for unsupported driver, got nil")
	}
}
