package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_BACKEND_BASE_URL": "http://localhost:8000/",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != defaultBackendTimeout {
		t.Errorf("unexpected backend timeout: %s", cfg.Backend.Timeout)
	}
	if cfg.Environment != "local" || !cfg.IsLocal() {
		t.Errorf("expected local environment, got %s", cfg.Environment)
	}
	if cfg.Session.Secure {
		t.Errorf("expected insecure cookies by default in local environment")
	}
	if cfg.Session.IdleTimeout != defaultSessionIdleTimeout || cfg.Session.Lifetime != defaultSessionLifetime {
		t.Errorf("unexpected session timeouts: %s / %s", cfg.Session.IdleTimeout, cfg.Session.Lifetime)
	}
	if cfg.Bucket.IdleTTL != time.Hour || cfg.Bucket.SweepInterval != 5*time.Minute {
		t.Errorf("unexpected bucket timings: %+v", cfg.Bucket)
	}
	if cfg.Pricing.TokenPriceKZT != defaultTokenPriceKZT {
		t.Errorf("unexpected token price: %d", cfg.Pricing.TokenPriceKZT)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.RedisAddr != "" {
		t.Errorf("expected memory idempotency store by default, got redis %s", cfg.Idempotency.RedisAddr)
	}
	if cfg.RateLimits.CheckoutPerMinute != defaultCheckoutPerMinute {
		t.Errorf("unexpected checkout rate limit: %d", cfg.RateLimits.CheckoutPerMinute)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_ENVIRONMENT":                  "prod",
		"STOREFRONT_SERVER_PORT":                  "9090",
		"STOREFRONT_SERVER_READ_TIMEOUT":          "20s",
		"STOREFRONT_BACKEND_BASE_URL":             "https://rental.example.kz",
		"STOREFRONT_BACKEND_TIMEOUT":              "3s",
		"STOREFRONT_SESSION_HASH_KEY":             strings.Repeat("h", 64),
		"STOREFRONT_SESSION_BLOCK_KEY":            strings.Repeat("b", 32),
		"STOREFRONT_SESSION_IDLE_TIMEOUT":         "10m",
		"STOREFRONT_SESSION_LIFETIME":             "2h",
		"STOREFRONT_BUCKET_IDLE_TTL":              "20m",
		"STOREFRONT_BUCKET_SWEEP_INTERVAL":        "1m",
		"STOREFRONT_CATALOG_PATH":                 "/etc/storefront/catalog.yaml",
		"STOREFRONT_TOKEN_PRICE_KZT":              "750",
		"STOREFRONT_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"STOREFRONT_IDEMPOTENCY_TTL":              "48h",
		"STOREFRONT_IDEMPOTENCY_REDIS_ADDR":       "redis:6379",
		"STOREFRONT_RATELIMIT_CHECKOUT_PER_MIN":   "3",
		"STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.IsLocal() {
		t.Errorf("prod must not be treated as local")
	}
	if !cfg.Session.Secure {
		t.Errorf("expected secure cookies outside local")
	}
	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Backend.Timeout != 3*time.Second {
		t.Errorf("unexpected backend timeout: %s", cfg.Backend.Timeout)
	}
	if cfg.Catalog.Path != "/etc/storefront/catalog.yaml" {
		t.Errorf("unexpected catalog path: %s", cfg.Catalog.Path)
	}
	if cfg.Pricing.TokenPriceKZT != 750 {
		t.Errorf("unexpected token price: %d", cfg.Pricing.TokenPriceKZT)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour || cfg.Idempotency.RedisAddr != "redis:6379" {
		t.Errorf("unexpected idempotency config: %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval: %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.RateLimits.CheckoutPerMinute != 3 {
		t.Errorf("unexpected checkout limit: %d", cfg.RateLimits.CheckoutPerMinute)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_ENVIRONMENT":       "prod",
		"STOREFRONT_SESSION_BLOCK_KEY": "short",
		"STOREFRONT_TOKEN_PRICE_KZT":   "0",
	}

	_, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	want := map[string]bool{
		"Backend.BaseURL":       false,
		"Session.HashKey":       false,
		"Session.BlockKey":      false,
		"Pricing.TokenPriceKZT": false,
	}
	for _, field := range vErr.Fields() {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in validation fields %v", field, vErr.Fields())
		}
	}
}

func TestLoadRejectsRelativeBackendURL(t *testing.T) {
	_, err := Load(WithEnvMap(map[string]string{"STOREFRONT_BACKEND_BASE_URL": "rental-backend"}), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"# local overrides",
		"export STOREFRONT_BACKEND_BASE_URL=\"http://dotenv:8000\"",
		"STOREFRONT_SERVER_PORT=7000",
		"STOREFRONT_TOKEN_PRICE_KZT=300",
	}, "\n")
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("STOREFRONT_SERVER_PORT", "7100")

	cfg, err := Load(WithEnvFile(envFile), WithEnvMap(map[string]string{"STOREFRONT_TOKEN_PRICE_KZT": "900"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Backend.BaseURL != "http://dotenv:8000" {
		t.Errorf("expected base url from .env, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("expected OS env to override .env, got %s", cfg.Server.Port)
	}
	if cfg.Pricing.TokenPriceKZT != 900 {
		t.Errorf("expected explicit map to win, got %d", cfg.Pricing.TokenPriceKZT)
	}
}
