package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(testContext *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" || cfg.DatabasePath != "wishtree.db" {
		testContext.Fatalf("unexpected defaults: %#v", cfg)
	}
	if cfg.PersistDebounce != 500*time.Millisecond || cfg.PersistLocalKey != "mm-wishes" {
		testContext.Fatalf("unexpected persistence defaults: %#v", cfg)
	}
	if cfg.GuardMaxLockout != time.Minute || cfg.GuardForgiveAfter != 5*time.Minute {
		testContext.Fatalf("unexpected guard defaults: %#v", cfg)
	}
	if cfg.RateLimitRequests != 30 || cfg.RateLimitWindow != time.Minute {
		testContext.Fatalf("unexpected rate limit defaults: %#v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		testContext.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.RemoteConfigured() {
		testContext.Fatalf("expected remote replica to be unconfigured by default")
	}
}

func TestLoadReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("WISHTREE_REMOTE_API_KEY", "key")
	testContext.Setenv("WISHTREE_REMOTE_BIN_ID", "bin")
	testContext.Setenv("WISHTREE_PERSIST_DEBOUNCE", "250ms")
	testContext.Setenv("WISHTREE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if !cfg.RemoteConfigured() {
		testContext.Fatalf("expected remote replica to be configured")
	}
	if cfg.PersistDebounce != 250*time.Millisecond {
		testContext.Fatalf("expected debounce from env, got %s", cfg.PersistDebounce)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		testContext.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadValidation(testContext *testing.T) {
	testCases := []struct {
		name     string
		key      string
		value    any
		contains string
	}{
		{name: "database-path", key: "database.path", value: " ", contains: "database.path"},
		{name: "debounce", key: "persist.debounce", value: "0s", contains: "persist.debounce"},
		{name: "bcrypt-cost", key: "security.bcrypt_cost", value: 99, contains: "security.bcrypt_cost"},
		{name: "rate-limit", key: "ratelimit.requests_per_window", value: 0, contains: "ratelimit"},
		{name: "remote-half", key: "remote.api_key", value: "only-key", contains: "remote.bin_id"},
	}

	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.contains) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.contains, err)
			}
		})
	}
}

func TestLoadRejectsMalformedOrigin(testContext *testing.T) {
	configViper := NewViper()
	configViper.Set("cors.allowed_origins", []string{"wishes.example.com"})
	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "cors.allowed_origins") {
		testContext.Fatalf("expected origin validation error, got %v", err)
	}
}

func TestLoadTrustedProxies(testContext *testing.T) {
	testContext.Setenv("WISHTREE_HTTP_TRUSTED_PROXIES", "10.0.0.1,10.0.0.2")
	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.1" {
		testContext.Fatalf("unexpected trusted proxies: %v", cfg.TrustedProxies)
	}
}
