package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const (
	envPrefix                  = "WISHTREE"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "wishtree.db"
	defaultLogLevel            = "info"
	defaultRemoteBaseURL       = "https://api.jsonbin.io/v3"
	defaultRemoteTimeout       = 10 * time.Second
	defaultRetryMaxElapsed     = 15 * time.Second
	defaultPersistDebounce     = 500 * time.Millisecond
	defaultPersistLocalKey     = "mm-wishes"
	defaultGuardMaxLockout     = 60 * time.Second
	defaultGuardForgiveAfter   = 5 * time.Minute
	defaultBcryptCost          = 10
	defaultAllowedOrigin       = "http://localhost:3000"
	defaultRequestsPerWindow   = 30
	defaultRateLimitWindow     = time.Minute
	defaultShutdownGracePeriod = 10 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	DatabasePath          string
	LogLevel              string
	RemoteBaseURL         string
	RemoteAPIKey          string
	RemoteBinID           string
	RemoteTimeout         time.Duration
	RemoteRetryMaxElapsed time.Duration
	PersistDebounce       time.Duration
	PersistLocalKey       string
	GuardMaxLockout       time.Duration
	GuardForgiveAfter     time.Duration
	BcryptCost            int
	AllowedOrigins        []string
	RateLimitRequests     int
	RateLimitWindow       time.Duration
	ShutdownGracePeriod   time.Duration
	TrustedProxies        []string
}

// RemoteConfigured reports whether credentials for the hosted replica are present.
func (c AppConfig) RemoteConfigured() bool {
	return c.RemoteAPIKey != "" && c.RemoteBinID != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.api_key", "")
	configViper.SetDefault("remote.bin_id", "")
	configViper.SetDefault("remote.timeout", defaultRemoteTimeout)
	configViper.SetDefault("remote.retry_max_elapsed", defaultRetryMaxElapsed)
	configViper.SetDefault("persist.debounce", defaultPersistDebounce)
	configViper.SetDefault("persist.local_key", defaultPersistLocalKey)
	configViper.SetDefault("guard.max_lockout", defaultGuardMaxLockout)
	configViper.SetDefault("guard.forgive_after", defaultGuardForgiveAfter)
	configViper.SetDefault("security.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigin)
	configViper.SetDefault("ratelimit.requests_per_window", defaultRequestsPerWindow)
	configViper.SetDefault("ratelimit.window", defaultRateLimitWindow)
	configViper.SetDefault("shutdown.grace_period", defaultShutdownGracePeriod)
	configViper.SetDefault("http.trusted_proxies", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           strings.TrimSpace(configViper.GetString("http.address")),
		DatabasePath:          strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:              configViper.GetString("log.level"),
		RemoteBaseURL:         strings.TrimSpace(configViper.GetString("remote.base_url")),
		RemoteAPIKey:          strings.TrimSpace(configViper.GetString("remote.api_key")),
		RemoteBinID:           strings.TrimSpace(configViper.GetString("remote.bin_id")),
		RemoteTimeout:         configViper.GetDuration("remote.timeout"),
		RemoteRetryMaxElapsed: configViper.GetDuration("remote.retry_max_elapsed"),
		PersistDebounce:       configViper.GetDuration("persist.debounce"),
		PersistLocalKey:       strings.TrimSpace(configViper.GetString("persist.local_key")),
		GuardMaxLockout:       configViper.GetDuration("guard.max_lockout"),
		GuardForgiveAfter:     configViper.GetDuration("guard.forgive_after"),
		BcryptCost:            configViper.GetInt("security.bcrypt_cost"),
		AllowedOrigins:        parseList(configViper.Get("cors.allowed_origins")),
		RateLimitRequests:     configViper.GetInt("ratelimit.requests_per_window"),
		RateLimitWindow:       configViper.GetDuration("ratelimit.window"),
		ShutdownGracePeriod:   configViper.GetDuration("shutdown.grace_period"),
		TrustedProxies:        parseList(configViper.Get("http.trusted_proxies")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// parseList accepts a list or a comma separated string, which is how the
// value arrives from the environment.
func parseList(raw any) []string {
	var parts []string
	switch typed := raw.(type) {
	case []string:
		parts = typed
	case []any:
		for _, item := range typed {
			parts = append(parts, fmt.Sprint(item))
		}
	case string:
		parts = strings.Split(typed, ",")
	}

	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			values = append(values, value)
		}
	}
	return values
}

func (c AppConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PersistLocalKey == "" {
		return fmt.Errorf("persist.local_key is required")
	}
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	durations := map[string]time.Duration{
		"remote.timeout":           c.RemoteTimeout,
		"remote.retry_max_elapsed": c.RemoteRetryMaxElapsed,
		"persist.debounce":         c.PersistDebounce,
		"guard.max_lockout":        c.GuardMaxLockout,
		"guard.forgive_after":      c.GuardForgiveAfter,
		"ratelimit.window":         c.RateLimitWindow,
		"shutdown.grace_period":    c.ShutdownGracePeriod,
	}
	for key, value := range durations {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("security.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("ratelimit.requests_per_window must be positive")
	}
	for _, origin := range c.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("cors.allowed_origins entry %q must be * or an http(s) origin", origin)
		}
	}
	if (c.RemoteAPIKey == "") != (c.RemoteBinID == "") {
		return fmt.Errorf("remote.api_key and remote.bin_id must be set together")
	}
	return nil
}
