package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	configJSON := `{
		"server": {
			"addr": ":8080",
			"base_url": "https://plans.example.com/",
			"allowed_origins": ["http://localhost:3000"]
		},
		"auth": {
			"jwt_secret": "my-super-secret-jwt-key-at-least-32",
			"session_expiry": "48h",
			"magic_link_auto_approve": false,
			"initial_admin": {
				"email": "admin@example.com",
				"password": "admin-password"
			}
		},
		"storage": {
			"driver": "sqlite",
			"dsn": "test.db"
		},
		"billing": {
			"stripe_secret_key": "sk_test_123",
			"price_ids": {"monthly-subscription": "price_abc"}
		},
		"jobs": {
			"interval": 30,
			"total_phases": 3,
			"enabled": false
		},
		"logging": {
			"level": "debug",
			"format": "text"
		},
		"rate_limit": {
			"requests_per_second": 20,
			"burst": 40
		}
	}`

	path := writeTempConfig(t, configJSON)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr: got %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Server.BaseURL != "https://plans.example.com" {
		t.Errorf("Server.BaseURL: got %q, want trailing slash trimmed", cfg.Server.BaseURL)
	}
	if cfg.Auth.SessionExpiry.Duration != 48*time.Hour {
		t.Errorf("Auth.SessionExpiry: got %v, want 48h", cfg.Auth.SessionExpiry.Duration)
	}
	if cfg.Auth.AdminExpiry.Duration != 7*24*time.Hour {
		t.Errorf("Auth.AdminExpiry: got %v, want 168h", cfg.Auth.AdminExpiry.Duration)
	}
	if cfg.Auth.AutoApproveMagicLinks() {
		t.Error("AutoApproveMagicLinks: got true, want false")
	}
	if cfg.Auth.InitialAdmin == nil || cfg.Auth.InitialAdmin.Email != "admin@example.com" {
		t.Errorf("InitialAdmin: got %+v", cfg.Auth.InitialAdmin)
	}
	if !cfg.Billing.Enabled() {
		t.Error("Billing.Enabled: got false, want true")
	}
	if cfg.Billing.PriceIDs["monthly-subscription"] != "price_abc" {
		t.Errorf("Billing.PriceIDs: got %v", cfg.Billing.PriceIDs)
	}
	if cfg.Jobs.Interval.Duration != 30*time.Second {
		t.Errorf("Jobs.Interval: got %v, want 30s", cfg.Jobs.Interval.Duration)
	}
	if cfg.Jobs.TotalPhases != 3 {
		t.Errorf("Jobs.TotalPhases: got %d, want 3", cfg.Jobs.TotalPhases)
	}
	if cfg.Jobs.TickerEnabled() {
		t.Error("Jobs.TickerEnabled: got true, want false")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
	if cfg.RateLimit.RequestsPerSecond != 20 || cfg.RateLimit.Burst != 40 {
		t.Errorf("RateLimit: got %+v", cfg.RateLimit)
	}
}

func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {"addr": ":9090"},
		"auth": {"jwt_secret": "another-secret-that-is-long-enough-ok"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver: got %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN != "mealplan.db" {
		t.Errorf("Storage.DSN: got %q, want mealplan.db", cfg.Storage.DSN)
	}
	if cfg.Server.BaseURL != "http://localhost:9090" {
		t.Errorf("Server.BaseURL: got %q", cfg.Server.BaseURL)
	}
	if cfg.Auth.SessionExpiry.Duration != 30*24*time.Hour {
		t.Errorf("Auth.SessionExpiry: got %v, want 720h", cfg.Auth.SessionExpiry.Duration)
	}
	if !cfg.Auth.AutoApproveMagicLinks() {
		t.Error("AutoApproveMagicLinks should default to true")
	}
	if cfg.Billing.Enabled() {
		t.Error("Billing should be disabled without a key")
	}
	if cfg.Jobs.BatchSize != 5 || cfg.Jobs.TotalPhases != 5 || cfg.Jobs.SnackCount != 4 {
		t.Errorf("Jobs defaults: got %+v", cfg.Jobs)
	}
	if !cfg.Jobs.TickerEnabled() {
		t.Error("Jobs ticker should default to enabled")
	}
	if cfg.Blob.Driver != "local" {
		t.Errorf("Blob.Driver: got %q, want local", cfg.Blob.Driver)
	}
	if cfg.AI.RequestTimeout.Duration != 60*time.Second {
		t.Errorf("AI.RequestTimeout: got %v", cfg.AI.RequestTimeout.Duration)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins: got %v", cfg.Server.AllowedOrigins)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_env")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/mealplan")
	t.Setenv("GCS_BUCKET", "plans-bucket")
	t.Setenv("CRON_SECRET", "cron-env")

	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "my-super-secret-jwt-key-at-least-32"},
		"billing": {"stripe_secret_key": "sk_file"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Billing.StripeSecretKey != "sk_env" {
		t.Errorf("StripeSecretKey: got %q, want env value", cfg.Billing.StripeSecretKey)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver: got %q, want postgres", cfg.Storage.Driver)
	}
	if cfg.Blob.Driver != "gcs" || cfg.Blob.Bucket != "plans-bucket" {
		t.Errorf("Blob: got %+v", cfg.Blob)
	}
	if cfg.Jobs.CronSecret != "cron-env" {
		t.Errorf("CronSecret: got %q", cfg.Jobs.CronSecret)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name:    "missing addr",
			config:  `{"auth": {"jwt_secret": "my-super-secret-jwt-key-at-least-32"}}`,
			wantErr: "server.addr is required",
		},
		{
			name:    "missing jwt secret",
			config:  `{"server": {"addr": ":8080"}}`,
			wantErr: "auth.jwt_secret is required",
		},
		{
			name:    "short jwt secret",
			config:  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "short"}}`,
			wantErr: "at least 32 characters",
		},
		{
			name:    "weak jwt secret",
			config:  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "local-dev-secret-for-testing-only-32chars!"}}`,
			wantErr: "well-known weak secret",
		},
		{
			name:    "bad storage driver",
			config:  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "my-super-secret-jwt-key-at-least-32"}, "storage": {"driver": "mysql"}}`,
			wantErr: "storage.driver",
		},
		{
			name:    "gcs without bucket",
			config:  `{"server": {"addr": ":8080"}, "auth": {"jwt_secret": "my-super-secret-jwt-key-at-least-32"}, "blob": {"driver": "gcs"}}`,
			wantErr: "blob.bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.config)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error: got %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGenerateRandomSecret(t *testing.T) {
	a, err := GenerateRandomSecret()
	if err != nil {
		t.Fatalf("GenerateRandomSecret: %v", err)
	}
	b, _ := GenerateRandomSecret()
	if len(a) != 64 {
		t.Errorf("length: got %d, want 64", len(a))
	}
	if a == b {
		t.Error("two generated secrets should differ")
	}
}
