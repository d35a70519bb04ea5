package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", "testdata/does-not-exist.env")
	t.Setenv("JWT_SECRET_KEY", testSecret)
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.IdleTimeout != 20*time.Minute {
		t.Errorf("IdleTimeout = %v, want 20m", cfg.Session.IdleTimeout)
	}
	if cfg.Session.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v, want 1m", cfg.Session.PollInterval)
	}
	if cfg.Session.LoginRoute != "/login" {
		t.Errorf("LoginRoute = %q, want /login", cfg.Session.LoginRoute)
	}
	if cfg.OTP.Length != 6 || cfg.OTP.Expiry != 5*time.Minute {
		t.Errorf("OTP = %+v, want 6 digits expiring after 5m", cfg.OTP)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v, want [*]", cfg.Server.AllowedOrigins)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SESSION_IDLE_TIMEOUT", "5m")
	t.Setenv("SESSION_POLL_INTERVAL", "10s")
	t.Setenv("OTP_MAX_ATTEMPTS", "3")
	t.Setenv("OTP_LOG_CODES", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.IdleTimeout != 5*time.Minute || cfg.Session.PollInterval != 10*time.Second {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.OTP.MaxAttempts != 3 || !cfg.OTP.LogCodes {
		t.Errorf("OTP = %+v", cfg.OTP)
	}
	if got := strings.Join(cfg.Server.AllowedOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("AllowedOrigins = %q", got)
	}
	if cfg.Redis.DB != 0 {
		t.Errorf("Redis.DB = %d, want fallback 0", cfg.Redis.DB)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{"JWT_SECRET_KEY": ""}, "JWT_SECRET_KEY environment variable is required"},
		{"short secret", map[string]string{"JWT_SECRET_KEY": "short"}, "at least 32 bytes"},
		{"otp length", map[string]string{"OTP_LENGTH": "4"}, "OTP_LENGTH must be 6"},
		{"zero poll", map[string]string{"SESSION_POLL_INTERVAL": "0s"}, "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
