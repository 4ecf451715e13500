package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	envPrefix = "STOREFRONT_"

	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultBackendTimeout       = 10 * time.Second
	defaultSessionIdleTimeout   = 30 * time.Minute
	defaultSessionLifetime      = 12 * time.Hour
	defaultBucketIdleTTL        = time.Hour
	defaultBucketSweepInterval  = 5 * time.Minute
	defaultTokenPriceKZT        = 500
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultCheckoutPerMinute    = 10
	defaultEnvironment          = "local"

	minSessionHashKeyLength = 32
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Backend     BackendConfig
	Session     SessionConfig
	Bucket      BucketConfig
	Catalog     CatalogConfig
	Pricing     PricingConfig
	Idempotency IdempotencyConfig
	RateLimits  RateLimitConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BackendConfig points at the rental backend REST API.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	HashKey     string
	BlockKey    string
	Secure      bool
	IdleTimeout time.Duration
	Lifetime    time.Duration
}

// BucketConfig controls how long idle per-session buckets stay in memory.
type BucketConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// CatalogConfig locates the toy catalog file. An empty path selects the built-in catalog.
type CatalogConfig struct {
	Path string
}

// PricingConfig holds the tenge price of a single token.
type PricingConfig struct {
	TokenPriceKZT int64
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	RedisAddr        string
}

// RateLimitConfig controls per-session throttling of money-moving endpoints.
type RateLimitConfig struct {
	CheckoutPerMinute int
}

// IsLocal reports whether the service runs in a developer environment.
func (c Config) IsLocal() bool {
	switch c.Environment {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles configuration from defaults, the .env file, the process environment and
// explicit overrides, in increasing order of precedence.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		key = envPrefix + key
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "BACKEND_BASE_URL", ""), "/"),
			Timeout: durationWithDefault(lookup, "BACKEND_TIMEOUT", defaultBackendTimeout),
		},
		Session: SessionConfig{
			HashKey:     stringWithDefault(lookup, "SESSION_HASH_KEY", ""),
			BlockKey:    stringWithDefault(lookup, "SESSION_BLOCK_KEY", ""),
			Secure:      boolWithDefault(lookup, "SESSION_SECURE", true),
			IdleTimeout: durationWithDefault(lookup, "SESSION_IDLE_TIMEOUT", defaultSessionIdleTimeout),
			Lifetime:    durationWithDefault(lookup, "SESSION_LIFETIME", defaultSessionLifetime),
		},
		Bucket: BucketConfig{
			IdleTTL:       durationWithDefault(lookup, "BUCKET_IDLE_TTL", defaultBucketIdleTTL),
			SweepInterval: durationWithDefault(lookup, "BUCKET_SWEEP_INTERVAL", defaultBucketSweepInterval),
		},
		Catalog: CatalogConfig{
			Path: stringWithDefault(lookup, "CATALOG_PATH", ""),
		},
		Pricing: PricingConfig{
			TokenPriceKZT: int64(intWithDefault(lookup, "TOKEN_PRICE_KZT", defaultTokenPriceKZT)),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
			RedisAddr:        stringWithDefault(lookup, "IDEMPOTENCY_REDIS_ADDR", ""),
		},
		RateLimits: RateLimitConfig{
			CheckoutPerMinute: intWithDefault(lookup, "RATELIMIT_CHECKOUT_PER_MIN", defaultCheckoutPerMinute),
		},
	}

	// Plain http is the norm for local development.
	if cfg.IsLocal() {
		if _, ok := lookup("SESSION_SECURE"); !ok {
			cfg.Session.Secure = false
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if u, err := url.Parse(cfg.Backend.BaseURL); cfg.Backend.BaseURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if cfg.Backend.Timeout <= 0 {
		missing = append(missing, "Backend.Timeout")
	}
	if !cfg.IsLocal() && cfg.Session.HashKey == "" {
		missing = append(missing, "Session.HashKey")
	}
	if cfg.Session.HashKey != "" && len(cfg.Session.HashKey) < minSessionHashKeyLength {
		missing = append(missing, "Session.HashKey")
	}
	switch len(cfg.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		missing = append(missing, "Session.BlockKey")
	}
	if cfg.Session.IdleTimeout <= 0 {
		missing = append(missing, "Session.IdleTimeout")
	}
	if cfg.Session.Lifetime < cfg.Session.IdleTimeout {
		missing = append(missing, "Session.Lifetime")
	}
	if cfg.Bucket.IdleTTL <= 0 {
		missing = append(missing, "Bucket.IdleTTL")
	}
	if cfg.Bucket.SweepInterval <= 0 {
		missing = append(missing, "Bucket.SweepInterval")
	}
	if cfg.Pricing.TokenPriceKZT <= 0 {
		missing = append(missing, "Pricing.TokenPriceKZT")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.RateLimits.CheckoutPerMinute <= 0 {
		missing = append(missing, "RateLimits.CheckoutPerMinute")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
