// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Inference InferenceConfig `mapstructure:"inference"`
	Social    SocialConfig    `mapstructure:"social"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BrowserConfig governs the shared headless Chrome session.
type BrowserConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	LaunchRetries     int    `mapstructure:"launch_retries"`
	LaunchRetryWaitMs int    `mapstructure:"launch_retry_wait_ms"`
	IdleTickSec       int    `mapstructure:"idle_tick_seconds"`
	IdleMaxSec        int    `mapstructure:"idle_max_seconds"`
}

// CacheConfig selects and tunes the markdown cache store.
type CacheConfig struct {
	Provider   string `mapstructure:"provider"`
	SQLitePath string `mapstructure:"sqlite_path"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// QuotaConfig controls per-client admission limits.
type QuotaConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
	LLMChargeChecks   int `mapstructure:"llm_charge_checks"`
}

// InferenceConfig configures the optional generative cleanup step.
type InferenceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// SocialConfig points at the social-post syndication endpoint.
type SocialConfig struct {
	SyndicationURL string `mapstructure:"syndication_url"`
}

// CrawlerConfig bounds subpage discovery.
type CrawlerConfig struct {
	MaxSubpages int `mapstructure:"max_subpages"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("browser.user_agent", "pagemd-bot/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.launch_retries", 3)
	v.SetDefault("browser.launch_retry_wait_ms", 1000)
	v.SetDefault("browser.idle_tick_seconds", 10)
	v.SetDefault("browser.idle_max_seconds", 60)
	v.SetDefault("cache.provider", "memory")
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("quota.requests_per_minute", 60)
	v.SetDefault("quota.burst", 10)
	v.SetDefault("quota.llm_charge_checks", 60)
	v.SetDefault("inference.enabled", false)
	v.SetDefault("inference.model", "meta-llama-3-8b-instruct")
	v.SetDefault("social.syndication_url", "https://cdn.syndication.twimg.com/tweet-result")
	v.SetDefault("crawler.max_subpages", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.LaunchRetries <= 0 {
		return fmt.Errorf("browser.launch_retries must be > 0")
	}
	if c.Cache.Provider != "memory" && c.Cache.Provider != "sqlite" {
		return fmt.Errorf("unknown cache provider: %s", c.Cache.Provider)
	}
	if c.Cache.Provider == "sqlite" && c.Cache.SQLitePath == "" {
		return fmt.Errorf("cache.sqlite_path must be set when cache provider is sqlite")
	}
	if c.Quota.RequestsPerMinute <= 0 {
		return fmt.Errorf("quota.requests_per_minute must be > 0")
	}
	if c.Crawler.MaxSubpages <= 0 {
		return fmt.Errorf("crawler.max_subpages must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Inference.Enabled && c.Inference.Model == "" {
		return fmt.Errorf("inference.model must be set when inference is enabled")
	}
	return nil
}

// NavTimeout converts the configured navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// CacheTTL converts the configured cache TTL into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
