// Package config handles service configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"your-secret-key-change-in-production":       true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT or cron secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Billing   BillingConfig   `json:"billing,omitempty"`
	AI        AIConfig        `json:"ai,omitempty"`
	Email     EmailConfig     `json:"email,omitempty"`
	Blob      BlobConfig      `json:"blob,omitempty"`
	Jobs      JobsConfig      `json:"jobs,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                       // e.g. ":8080"
	BaseURL        string   `json:"base_url,omitempty"`         // public origin used in redirects and emails
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	UIStaticDir    string   `json:"ui_static_dir,omitempty"`    // path to built UI files
	AllowedOrigins []string `json:"allowed_origins,omitempty"`  // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`   // default 1MB
	StaticPlansDir string   `json:"static_plans_dir,omitempty"` // overrides the bundled monthly plans
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that overwrites those headers.
	TrustProxyHeaders bool `json:"trust_proxy_headers,omitempty"`
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	JWTSecret            string        `json:"jwt_secret"`
	SessionExpiry        Duration      `json:"session_expiry,omitempty"`          // default 30 days
	AdminExpiry          Duration      `json:"admin_expiry,omitempty"`            // default 7 days
	MagicLinkExpiry      Duration      `json:"magic_link_expiry,omitempty"`       // default 15m
	ResetExpiry          Duration      `json:"reset_expiry,omitempty"`            // default 1h
	MagicLinkAutoApprove *bool         `json:"magic_link_auto_approve,omitempty"` // default true
	SecureCookies        bool          `json:"secure_cookies,omitempty"`
	InitialAdmin         *InitialAdmin `json:"initial_admin,omitempty"`
}

// AutoApproveMagicLinks reports whether magic-link requests log the user in
// without an email round trip.
func (a AuthConfig) AutoApproveMagicLinks() bool {
	return a.MagicLinkAutoApprove == nil || *a.MagicLinkAutoApprove
}

// InitialAdmin is used to bootstrap the first admin user.
type InitialAdmin struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn"`    // e.g. "mealplan.db" or "postgres://..."
}

// BillingConfig defines Stripe settings. Checkout answers 503 while the secret key is empty.
type BillingConfig struct {
	StripeSecretKey      string            `json:"stripe_secret_key,omitempty"`
	StripeWebhookSecret  string            `json:"stripe_webhook_secret,omitempty"`
	StripePublishableKey string            `json:"stripe_publishable_key,omitempty"`
	Currency             string            `json:"currency,omitempty"`  // default "usd"
	PriceIDs             map[string]string `json:"price_ids,omitempty"` // product id -> Stripe price id
}

// Enabled reports whether a Stripe key is configured.
func (b BillingConfig) Enabled() bool { return b.StripeSecretKey != "" }

// AIConfig defines the recipe generation backends.
type AIConfig struct {
	AnthropicAPIKey string   `json:"anthropic_api_key,omitempty"`
	AnthropicModel  string   `json:"anthropic_model,omitempty"`
	OpenAIAPIKey    string   `json:"openai_api_key,omitempty"`
	OpenAIModel     string   `json:"openai_model,omitempty"`
	ImageModel      string   `json:"image_model,omitempty"`
	GenerateImages  bool     `json:"generate_images,omitempty"`
	MaxTokens       int      `json:"max_tokens,omitempty"`      // default 2000
	RequestTimeout  Duration `json:"request_timeout,omitempty"` // default 60s
}

// EmailConfig defines outbound mail settings. Without an API key mail is only logged.
type EmailConfig struct {
	ResendAPIKey string `json:"resend_api_key,omitempty"`
	From         string `json:"from,omitempty"`
	ReplyTo      string `json:"reply_to,omitempty"`
}

// BlobConfig defines where rendered PDFs are stored.
type BlobConfig struct {
	Driver    string   `json:"driver,omitempty"`     // "local" (default) or "gcs"
	LocalDir  string   `json:"local_dir,omitempty"`  // default "./mealplan-files"
	Bucket    string   `json:"bucket,omitempty"`     // GCS bucket
	Endpoint  string   `json:"endpoint,omitempty"`   // GCS emulator host, disables auth
	AccessID  string   `json:"access_id,omitempty"`  // service account email for URL signing
	URLExpiry Duration `json:"url_expiry,omitempty"` // signed URL lifetime; default 7 days
}

// JobsConfig defines the meal plan job processor.
type JobsConfig struct {
	Enabled     *bool    `json:"enabled,omitempty"`      // default true
	Interval    Duration `json:"interval,omitempty"`     // default 1m
	BatchSize   int      `json:"batch_size,omitempty"`   // default 5
	TotalPhases int      `json:"total_phases,omitempty"` // default 5
	SnackCount  int      `json:"snack_count,omitempty"`  // default 4
	Lease       Duration `json:"lease,omitempty"`        // default 10m
	CronSecret  string   `json:"cron_secret,omitempty"`
}

// TickerEnabled reports whether the in-process job ticker should run.
func (j JobsConfig) TickerEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads a config file, overlays environment variables (a .env file in the
// working directory is honored), validates and applies defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv lets deployment secrets override whatever the file holds.
func (c *Config) applyEnv() {
	setFromEnv(&c.Server.BaseURL, "BASE_URL")
	setFromEnv(&c.Auth.JWTSecret, "JWT_SECRET")
	setFromEnv(&c.Billing.StripeSecretKey, "STRIPE_SECRET_KEY")
	setFromEnv(&c.Billing.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setFromEnv(&c.Billing.StripePublishableKey, "STRIPE_PUBLISHABLE_KEY")
	setFromEnv(&c.AI.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setFromEnv(&c.AI.OpenAIAPIKey, "OPENAI_API_KEY")
	setFromEnv(&c.Email.ResendAPIKey, "RESEND_API_KEY")
	setFromEnv(&c.Email.From, "EMAIL_FROM")
	setFromEnv(&c.Jobs.CronSecret, "CRON_SECRET")
	setFromEnv(&c.Blob.Bucket, "GCS_BUCKET")
	setFromEnv(&c.Blob.Endpoint, "GCS_EMULATOR_HOST")

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			c.Storage.Driver = "postgres"
		}
	}
	if c.Blob.Bucket != "" && c.Blob.Driver == "" {
		c.Blob.Driver = "gcs"
	}
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	switch c.Blob.Driver {
	case "", "local":
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required when driver is gcs")
		}
	default:
		return fmt.Errorf("blob.driver must be local or gcs, got %q", c.Blob.Driver)
	}
	if c.Jobs.TotalPhases < 0 || c.Jobs.BatchSize < 0 || c.Jobs.SnackCount < 0 {
		return fmt.Errorf("jobs settings must not be negative")
	}
	if c.Auth.InitialAdmin != nil && c.Auth.InitialAdmin.Email == "" {
		return fmt.Errorf("auth.initial_admin.email is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost" + c.Server.Addr
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Auth.SessionExpiry.Duration == 0 {
		c.Auth.SessionExpiry.Duration = 30 * 24 * time.Hour
	}
	if c.Auth.AdminExpiry.Duration == 0 {
		c.Auth.AdminExpiry.Duration = 7 * 24 * time.Hour
	}
	if c.Auth.MagicLinkExpiry.Duration == 0 {
		c.Auth.MagicLinkExpiry.Duration = 15 * time.Minute
	}
	if c.Auth.ResetExpiry.Duration == 0 {
		c.Auth.ResetExpiry.Duration = time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "mealplan.db"
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "usd"
	}
	if c.AI.AnthropicModel == "" {
		c.AI.AnthropicModel = "claude-sonnet-4-5"
	}
	if c.AI.OpenAIModel == "" {
		c.AI.OpenAIModel = "gpt-4o"
	}
	if c.AI.ImageModel == "" {
		c.AI.ImageModel = "dall-e-3"
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 2000
	}
	if c.AI.RequestTimeout.Duration == 0 {
		c.AI.RequestTimeout.Duration = 60 * time.Second
	}
	if c.Email.From == "" {
		c.Email.From = "Meal Plans <plans@localhost>"
	}
	if c.Blob.Driver == "" {
		c.Blob.Driver = "local"
	}
	if c.Blob.LocalDir == "" {
		c.Blob.LocalDir = "./mealplan-files"
	}
	if c.Blob.URLExpiry.Duration == 0 {
		c.Blob.URLExpiry.Duration = 7 * 24 * time.Hour
	}
	if c.Jobs.Interval.Duration == 0 {
		c.Jobs.Interval.Duration = time.Minute
	}
	if c.Jobs.BatchSize == 0 {
		c.Jobs.BatchSize = 5
	}
	if c.Jobs.TotalPhases == 0 {
		c.Jobs.TotalPhases = 5
	}
	if c.Jobs.SnackCount == 0 {
		c.Jobs.SnackCount = 4
	}
	if c.Jobs.Lease.Duration == 0 {
		c.Jobs.Lease.Duration = 10 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

// Default returns a configuration with defaults applied, for tests and the
// non-interactive wizard.
func Default(addr, jwtSecret string) *Config {
	cfg := &Config{
		Server: ServerConfig{Addr: addr},
		Auth:   AuthConfig{JWTSecret: jwtSecret},
	}
	cfg.applyDefaults()
	return cfg
}
