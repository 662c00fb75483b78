package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	Shopify     ShopifyConfig
	Courier     CourierConfig
	Fiscal      FiscalConfig
	Ledger      LedgerConfig
	Schedule    ScheduleConfig
	API         APIConfig
	// RequireFiscalReceipt (REQUIRE_FISCAL_RECEIPT) makes a failed receipt abort processing before shipment
	RequireFiscalReceipt bool
	HTTPClientTimeout    time.Duration
}

type ShopifyConfig struct {
	ShopDomain        string
	AccessToken       string
	APIVersion        string
	WebhookSecret     string // SHOPIFY_WEBHOOK_SECRET: verify incoming webhooks (X-Shopify-Hmac-Sha256)
	RequestsPerSecond float64
}

// CourierConfig is used to create draft shipments with the courier
type CourierConfig struct {
	BaseURL     string
	APIKey      string
	Company     string // tracking company name written back to the storefront
	TrackingURL string // printf pattern with one %s for the tracking number
}

// FiscalConfig is used to issue and reverse fiscal receipts. Empty BaseURL disables receipts.
type FiscalConfig struct {
	BaseURL     string
	Username    string
	Password    string
	PartnerTIN  string
	Dep         int
	TokenHeader string // response header carrying the session token after login
}

// Enabled reports whether a receipt service is configured
func (f FiscalConfig) Enabled() bool {
	return f.BaseURL != ""
}

// LedgerConfig locates the idempotency ledger. Empty Path (LEDGER_PATH=memory) keeps the ledger in memory.
type LedgerConfig struct {
	Path               string
	WebhookRetention   time.Duration
	RecordCompactAfter time.Duration
	// RecoverStaleAfter releases processing runs and refund claims left untouched this long
	RecoverStaleAfter time.Duration
}

// ScheduleConfig drives the background confirmation triggers
type ScheduleConfig struct {
	PollInterval        time.Duration
	ConfirmWaitInterval time.Duration
	ConfirmWaitCeiling  time.Duration
	ProcessTimeout      time.Duration
}

type APIConfig struct {
	AdminKeyHash string // ADMIN_API_KEY_HASH: bcrypt hash; empty disables manual endpoints
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.SetConfigName(".env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")

	// Read from environment variables
	v.AutomaticEnv()

	// Try to read .env file (optional)
	if err := v.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	p := parser{v: v}
	cfg := &Config{
		Port:        p.str("PORT", "8080"),
		Environment: p.str("ENVIRONMENT", "development"),
		LogLevel:    p.str("LOG_LEVEL", "info"),
		Shopify: ShopifyConfig{
			ShopDomain:        p.str("SHOPIFY_SHOP_DOMAIN", ""),
			AccessToken:       p.str("SHOPIFY_ACCESS_TOKEN", ""),
			APIVersion:        p.str("SHOPIFY_API_VERSION", "2024-10"),
			WebhookSecret:     p.str("SHOPIFY_WEBHOOK_SECRET", ""),
			RequestsPerSecond: p.number("SHOPIFY_REQUESTS_PER_SECOND", 2),
		},
		Courier: CourierConfig{
			BaseURL:     p.str("COURIER_BASE_URL", "https://transimpexexpress.am"),
			APIKey:      p.str("COURIER_API_KEY", ""),
			Company:     p.str("COURIER_COMPANY", "TransImpex Express"),
			TrackingURL: p.str("COURIER_TRACKING_URL", "https://transimpexexpress.am/tracking/%s"),
		},
		Fiscal: FiscalConfig{
			BaseURL:     p.str("FISCAL_BASE_URL", ""),
			Username:    p.str("FISCAL_USERNAME", ""),
			Password:    p.str("FISCAL_PASSWORD", ""),
			PartnerTIN:  p.str("FISCAL_PARTNER_TIN", ""),
			Dep:         p.integer("FISCAL_DEP", 1),
			TokenHeader: p.str("FISCAL_TOKEN_HEADER", "Authorization"),
		},
		Ledger: LedgerConfig{
			Path:               ledgerPath(p.str("LEDGER_PATH", "data/ledger.db")),
			WebhookRetention:   p.duration("WEBHOOK_RETENTION", 72*time.Hour),
			RecordCompactAfter: p.duration("RECORD_COMPACT_AFTER", 720*time.Hour),
			RecoverStaleAfter:  p.duration("RECOVER_STALE_AFTER", 15*time.Minute),
		},
		Schedule: ScheduleConfig{
			PollInterval:        p.duration("POLL_INTERVAL", 5*time.Minute),
			ConfirmWaitInterval: p.duration("CONFIRM_WAIT_INTERVAL", 30*time.Second),
			ConfirmWaitCeiling:  p.duration("CONFIRM_WAIT_CEILING", 30*time.Minute),
			ProcessTimeout:      p.duration("PROCESS_TIMEOUT", 3*time.Minute),
		},
		API: APIConfig{
			AdminKeyHash: p.str("ADMIN_API_KEY_HASH", ""),
		},
		RequireFiscalReceipt: p.flag("REQUIRE_FISCAL_RECEIPT", false),
		HTTPClientTimeout:    p.duration("HTTP_CLIENT_TIMEOUT", 30*time.Second),
	}
	if p.err != nil {
		return nil, p.err
	}

	// Validate required fields
	if cfg.Shopify.ShopDomain == "" {
		return nil, fmt.Errorf("SHOPIFY_SHOP_DOMAIN is required")
	}
	if cfg.Shopify.AccessToken == "" {
		return nil, fmt.Errorf("SHOPIFY_ACCESS_TOKEN is required")
	}
	if cfg.Courier.APIKey == "" {
		return nil, fmt.Errorf("COURIER_API_KEY is required")
	}
	if !strings.Contains(cfg.Courier.TrackingURL, "%s") {
		return nil, fmt.Errorf("COURIER_TRACKING_URL must contain %%s")
	}
	if cfg.Ledger.RecoverStaleAfter > 0 && cfg.Ledger.RecoverStaleAfter <= cfg.Schedule.ProcessTimeout {
		return nil, fmt.Errorf("RECOVER_STALE_AFTER must exceed PROCESS_TIMEOUT")
	}
	if cfg.Fiscal.Enabled() && (cfg.Fiscal.Username == "" || cfg.Fiscal.Password == "") {
		return nil, fmt.Errorf("FISCAL_USERNAME and FISCAL_PASSWORD are required when FISCAL_BASE_URL is set")
	}

	return cfg, nil
}

// parser reads typed keys and keeps the first conversion error
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) str(key, defaultValue string) string {
	return strings.TrimSpace(getEnvOrViper(p.v, key, defaultValue))
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	raw := p.str(key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return defaultValue
	}
	return d
}

func (p *parser) flag(key string, defaultValue bool) bool {
	raw := p.str(key, "")
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return defaultValue
	}
	return b
}

func (p *parser) integer(key string, defaultValue int) int {
	raw := p.str(key, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return defaultValue
	}
	return n
}

func (p *parser) number(key string, defaultValue float64) float64 {
	raw := p.str(key, "")
	if raw == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return defaultValue
	}
	return f
}

func ledgerPath(raw string) string {
	if strings.EqualFold(raw, "memory") || raw == ":memory:" {
		return ""
	}
	return raw
}

func getEnvOrViper(v *viper.Viper, key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return defaultValue
}
