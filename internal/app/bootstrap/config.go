package bootstrap

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config is the resolved runtime configuration for both binaries.
type Config struct {
	ServiceID string

	HTTPPort       int
	GRPCPort       int
	TrustedProxies []netip.Prefix

	StoreDriver  string
	DatabaseURL  string
	MaxDBConns   int32
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	HMACSecret            string
	JWTSecret             string
	AffiliateCode         string
	WebhookSecret         string
	AllowInsecureDefaults bool

	RedirectBaseURL string
	ProductBaseURL  string
	ProductHosts    []string
	AffiliateSource string

	SignatureWindow time.Duration
	RedirectTTL     time.Duration
	DedupWindow     time.Duration
	ActivationTTL   time.Duration

	ActivationRateLimit  int
	ActivationRateWindow time.Duration
	PayoutRateLimit      int
	PayoutRateWindow     time.Duration
	NewUserHold          time.Duration

	CashbackAmount   decimal.Decimal
	CommissionAmount decimal.Decimal
	MinimumPayout    decimal.Decimal

	ExecutorTimeout         time.Duration
	StalePayoutAge          time.Duration
	PayoutQueueBuffer       int
	PayoutWorkers           int
	SimulatedFailingIDs     []string
	SimulatedMaxAmount      decimal.Decimal
	SimulatedLatency        time.Duration
	ClickBuffer             int
	ShutdownTimeout         time.Duration
	MaintenanceInterval     time.Duration
	RetentionPeriod         time.Duration
	OutboxPollInterval      time.Duration
	OutboxBatchSize         int
	OutboxClaimTTL          time.Duration
	OutboxMaxRetries        int
	DBStatsInterval         time.Duration
	MaintenanceBatch        int
	insecureDefaultsApplied []string
}

// InsecureDefaults lists the secrets that fell back to development values.
func (c Config) InsecureDefaults() []string {
	return append([]string(nil), c.insecureDefaultsApplied...)
}

// configFile mirrors configs/default.yaml. Secrets are never read from it.
type configFile struct {
	Service struct {
		ID             string   `yaml:"id"`
		HTTPPort       int      `yaml:"http_port"`
		GRPCPort       int      `yaml:"grpc_port"`
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"service"`
	Dependencies struct {
		StoreDriver      string   `yaml:"store_driver"`
		PostgresURL      string   `yaml:"postgres_url"`
		RedisURL         string   `yaml:"redis_url"`
		KafkaBrokers     []string `yaml:"kafka_brokers"`
		KafkaTopicPrefix string   `yaml:"kafka_topic_prefix"`
	} `yaml:"dependencies"`
	Redirect struct {
		BaseURL         string   `yaml:"base_url"`
		ProductBaseURL  string   `yaml:"product_base_url"`
		ProductHosts    []string `yaml:"product_hosts"`
		AffiliateSource string   `yaml:"affiliate_source"`
		TTLSeconds      int      `yaml:"ttl_seconds"`
	} `yaml:"redirect"`
	Ledger struct {
		CashbackAmount   string `yaml:"cashback_amount"`
		CommissionAmount string `yaml:"commission_amount"`
		MinimumPayout    string `yaml:"minimum_payout"`
	} `yaml:"ledger"`
	Payout struct {
		ExecutorTimeoutSeconds int      `yaml:"executor_timeout_seconds"`
		Workers                int      `yaml:"workers"`
		SimulatedFailingIDs    []string `yaml:"simulated_failing_identifiers"`
		SimulatedMaxAmount     string   `yaml:"simulated_max_amount"`
	} `yaml:"payout"`
	AllowInsecureDefaults *bool `yaml:"allow_insecure_defaults"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:            "Cashback-Activation-Service",
		HTTPPort:             8080,
		GRPCPort:             9090,
		StoreDriver:          StoreDriverPostgres,
		MaxDBConns:           20,
		KafkaTopic:           "cashback",
		RedirectBaseURL:      "http://localhost:8080",
		ProductBaseURL:       "https://www.daraz.com.np",
		AffiliateSource:      "daraz_cashback_ext",
		SignatureWindow:      5 * time.Minute,
		RedirectTTL:          5 * time.Minute,
		DedupWindow:          24 * time.Hour,
		ActivationTTL:        24 * time.Hour,
		ActivationRateLimit:  10,
		ActivationRateWindow: time.Hour,
		PayoutRateLimit:      5,
		PayoutRateWindow:     24 * time.Hour,
		NewUserHold:          30 * 24 * time.Hour,
		CashbackAmount:       decimal.NewFromInt(5),
		CommissionAmount:     decimal.NewFromInt(30),
		MinimumPayout:        decimal.NewFromInt(100),
		ExecutorTimeout:      30 * time.Second,
		StalePayoutAge:       10 * time.Minute,
		PayoutQueueBuffer:    256,
		PayoutWorkers:        4,
		ClickBuffer:          1024,
		ShutdownTimeout:      15 * time.Second,
		MaintenanceInterval:  5 * time.Minute,
		RetentionPeriod:      365 * 24 * time.Hour,
		OutboxPollInterval:   2 * time.Second,
		OutboxBatchSize:      100,
		OutboxClaimTTL:       30 * time.Second,
		OutboxMaxRetries:     5,
		DBStatsInterval:      15 * time.Second,
		MaintenanceBatch:     500,
	}

	var trustedProxies []string
	raw, err := os.ReadFile(path)
	if err == nil {
		if trustedProxies, err = applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	if cfg.TrustedProxies, err = parsePrefixes(envCSV("TRUSTED_PROXIES", trustedProxies)); err != nil {
		return Config{}, err
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORE_DRIVER", cfg.StoreDriver)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("DATABASE_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC_PREFIX", cfg.KafkaTopic)

	cfg.HMACSecret = os.Getenv("HMAC_SECRET")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.AffiliateCode = os.Getenv("AFFILIATE_CODE")
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	cfg.AllowInsecureDefaults = envBool("ALLOW_INSECURE_DEFAULTS", cfg.AllowInsecureDefaults)

	cfg.RedirectBaseURL = envOrDefault("REDIRECT_BASE_URL", cfg.RedirectBaseURL)
	cfg.ProductBaseURL = envOrDefault("PRODUCT_BASE_URL", cfg.ProductBaseURL)
	cfg.ProductHosts = envCSV("PRODUCT_HOSTS", cfg.ProductHosts)
	cfg.RedirectTTL = envSeconds("REDIRECT_TTL_SECONDS", cfg.RedirectTTL)
	cfg.SignatureWindow = envSeconds("SIGNATURE_WINDOW_SECONDS", cfg.SignatureWindow)
	cfg.ActivationRateLimit = envInt("ACTIVATION_RATE_LIMIT", cfg.ActivationRateLimit)
	cfg.PayoutRateLimit = envInt("PAYOUT_RATE_LIMIT", cfg.PayoutRateLimit)
	cfg.NewUserHold = time.Duration(envInt("NEW_USER_HOLD_DAYS", int(cfg.NewUserHold.Hours()/24))) * 24 * time.Hour
	cfg.MinimumPayout = envDecimal("MINIMUM_PAYOUT", cfg.MinimumPayout)

	cfg.ExecutorTimeout = envSeconds("PAYOUT_EXECUTOR_TIMEOUT_SECONDS", cfg.ExecutorTimeout)
	cfg.PayoutWorkers = envInt("PAYOUT_WORKERS", cfg.PayoutWorkers)
	cfg.SimulatedFailingIDs = envCSV("SIMULATED_PAYOUT_FAILING_IDENTIFIERS", cfg.SimulatedFailingIDs)
	cfg.SimulatedLatency = time.Duration(envInt("SIMULATED_PAYOUT_LATENCY_MS", int(cfg.SimulatedLatency.Milliseconds()))) * time.Millisecond
	cfg.ClickBuffer = envInt("CLICK_BUFFER", cfg.ClickBuffer)
	cfg.ShutdownTimeout = envSeconds("SHUTDOWN_TIMEOUT_SECONDS", cfg.ShutdownTimeout)
	cfg.MaintenanceInterval = envSeconds("MAINTENANCE_INTERVAL_SECONDS", cfg.MaintenanceInterval)
	cfg.RetentionPeriod = time.Duration(envInt("RETENTION_DAYS", int(cfg.RetentionPeriod.Hours()/24))) * 24 * time.Hour
	cfg.OutboxPollInterval = envSeconds("OUTBOX_POLL_SECONDS", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = envSeconds("OUTBOX_CLAIM_TTL_SECONDS", cfg.OutboxClaimTTL)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyFile overlays the yaml file onto cfg and returns the raw trusted proxy
// list, which is parsed once env overrides are known.
func applyFile(cfg *Config, raw []byte) ([]string, error) {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Dependencies.StoreDriver != "" {
		cfg.StoreDriver = f.Dependencies.StoreDriver
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.KafkaTopicPrefix != "" {
		cfg.KafkaTopic = f.Dependencies.KafkaTopicPrefix
	}
	if f.Redirect.BaseURL != "" {
		cfg.RedirectBaseURL = f.Redirect.BaseURL
	}
	if f.Redirect.ProductBaseURL != "" {
		cfg.ProductBaseURL = f.Redirect.ProductBaseURL
	}
	if len(f.Redirect.ProductHosts) > 0 {
		cfg.ProductHosts = f.Redirect.ProductHosts
	}
	if f.Redirect.AffiliateSource != "" {
		cfg.AffiliateSource = f.Redirect.AffiliateSource
	}
	if f.Redirect.TTLSeconds > 0 {
		cfg.RedirectTTL = time.Duration(f.Redirect.TTLSeconds) * time.Second
	}
	for _, field := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"ledger.cashback_amount", f.Ledger.CashbackAmount, &cfg.CashbackAmount},
		{"ledger.commission_amount", f.Ledger.CommissionAmount, &cfg.CommissionAmount},
		{"ledger.minimum_payout", f.Ledger.MinimumPayout, &cfg.MinimumPayout},
		{"payout.simulated_max_amount", f.Payout.SimulatedMaxAmount, &cfg.SimulatedMaxAmount},
	} {
		if field.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", field.name, err)
		}
		*field.dst = v
	}
	if f.Payout.ExecutorTimeoutSeconds > 0 {
		cfg.ExecutorTimeout = time.Duration(f.Payout.ExecutorTimeoutSeconds) * time.Second
	}
	if f.Payout.Workers > 0 {
		cfg.PayoutWorkers = f.Payout.Workers
	}
	if len(f.Payout.SimulatedFailingIDs) > 0 {
		cfg.SimulatedFailingIDs = f.Payout.SimulatedFailingIDs
	}
	if f.AllowInsecureDefaults != nil {
		cfg.AllowInsecureDefaults = *f.AllowInsecureDefaults
	}
	return f.Service.TrustedProxies, nil
}

// parsePrefixes accepts CIDR ranges and bare addresses.
func parsePrefixes(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/DATABASE_URL")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported store driver %q", c.StoreDriver)
	}

	for _, secret := range []struct {
		env string
		dst *string
		dev string
	}{
		{"HMAC_SECRET", &c.HMACSecret, "dev-hmac-secret"},
		{"JWT_SECRET", &c.JWTSecret, "dev-jwt-secret"},
		{"AFFILIATE_CODE", &c.AffiliateCode, "DEVAFFILIATE"},
		{"WEBHOOK_SECRET", &c.WebhookSecret, "dev-webhook-secret"},
	} {
		if *secret.dst != "" {
			continue
		}
		if !c.AllowInsecureDefaults {
			return fmt.Errorf("missing %s", secret.env)
		}
		*secret.dst = secret.dev
		c.insecureDefaultsApplied = append(c.insecureDefaultsApplied, secret.env)
	}

	if !c.MinimumPayout.IsPositive() {
		return fmt.Errorf("minimum payout must be positive")
	}
	if c.CashbackAmount.IsNegative() || c.CommissionAmount.IsNegative() {
		return fmt.Errorf("ledger amounts must not be negative")
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envSeconds(name string, fallback time.Duration) time.Duration {
	return time.Duration(envInt(name, int(fallback.Seconds()))) * time.Second
}

func envDecimal(name string, fallback decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
