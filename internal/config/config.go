// Package config loads and validates gateway configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Backup      BackupConfig      `mapstructure:"backup"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AttributionConfig names the author stamped on every response.
type AttributionConfig struct {
	Author string `mapstructure:"author"`
}

// CacheConfig selects and tunes the response cache backend.
type CacheConfig struct {
	// Backend is one of memory, leveldb, postgres.
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// BreakerConfig tunes the emergency shutdown trigger.
type BreakerConfig struct {
	Threshold int `mapstructure:"threshold"`
	WindowMs  int `mapstructure:"window_ms"`
}

// RelayConfig tunes the streaming byte relay.
type RelayConfig struct {
	BufferKB           int `mapstructure:"buffer_kb"`
	DialTimeoutSeconds int `mapstructure:"dial_timeout_seconds"`
	HeaderTimeoutSec   int `mapstructure:"header_timeout_seconds"`
}

// BackupConfig controls the on-demand snapshot archiver.
type BackupConfig struct {
	Root      string   `mapstructure:"root"`
	TempDir   string   `mapstructure:"temp_dir"`
	Exclude   []string `mapstructure:"exclude"`
	GCSBucket string   `mapstructure:"gcs_bucket"`
	Prefix    string   `mapstructure:"prefix"`
}

// ProvidersConfig groups the downstream adapter settings.
type ProvidersConfig struct {
	Ytdl       YtdlConfig       `mapstructure:"ytdl"`
	Search     SearchConfig     `mapstructure:"search"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Contact    ContactConfig    `mapstructure:"contact"`
}

// YtdlConfig points at the media extraction engine.
type YtdlConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Engine         string `mapstructure:"engine"`
}

// SearchConfig tunes the results page scraper.
type SearchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxResults     int    `mapstructure:"max_results"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ChatConfig points at the conversational AI backend.
type ChatConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DefaultModel   string `mapstructure:"default_model"`
	APIKey         string `mapstructure:"api_key"`
}

// ScreenshotConfig configures the headless capture subsystem.
type ScreenshotConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Dir            string `mapstructure:"dir"`
	PublicPrefix   string `mapstructure:"public_prefix"`
	MaxParallel    int    `mapstructure:"max_parallel"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
	Quality        int    `mapstructure:"quality"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ContactConfig points at the support message webhook.
type ContactConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIAGW")
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
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("attribution.author", "media-gateway")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.path", "cache.ldb")
	v.SetDefault("cache.table", "response_cache")
	v.SetDefault("cache.ttl_seconds", 0)
	v.SetDefault("breaker.threshold", 50)
	v.SetDefault("breaker.window_ms", 1000)
	v.SetDefault("relay.buffer_kb", 64)
	v.SetDefault("relay.dial_timeout_seconds", 10)
	v.SetDefault("relay.header_timeout_seconds", 30)
	v.SetDefault("backup.root", ".")
	v.SetDefault("backup.prefix", "backups")
	v.SetDefault("providers.ytdl.timeout_seconds", 300)
	v.SetDefault("providers.ytdl.engine", "ytdl-core")
	v.SetDefault("providers.search.base_url", "https://www.youtube.com")
	v.SetDefault("providers.search.timeout_seconds", 30)
	v.SetDefault("providers.search.max_results", 10)
	v.SetDefault("providers.chat.timeout_seconds", 120)
	v.SetDefault("providers.screenshot.enabled", false)
	v.SetDefault("providers.screenshot.dir", "captures")
	v.SetDefault("providers.screenshot.public_prefix", "/captures")
	v.SetDefault("providers.screenshot.max_parallel", 2)
	v.SetDefault("providers.screenshot.nav_timeout_seconds", 45)
	v.SetDefault("providers.screenshot.viewport_width", 1280)
	v.SetDefault("providers.screenshot.viewport_height", 720)
	v.SetDefault("providers.screenshot.quality", 90)
	v.SetDefault("providers.contact.timeout_seconds", 15)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Cache.Backend {
	case "memory":
	case "leveldb":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path must be set for the leveldb backend")
		}
	case "postgres":
		if c.Cache.DSN == "" {
			return fmt.Errorf("cache.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of memory, leveldb, postgres")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must be >= 0")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be > 0")
	}
	if c.Breaker.WindowMs <= 0 {
		return fmt.Errorf("breaker.window_ms must be > 0")
	}
	if c.Relay.BufferKB <= 0 {
		return fmt.Errorf("relay.buffer_kb must be > 0")
	}
	if c.Providers.Ytdl.BaseURL == "" {
		return fmt.Errorf("providers.ytdl.base_url must be set")
	}
	if c.Providers.Screenshot.Enabled && c.Providers.Screenshot.MaxParallel <= 0 {
		return fmt.Errorf("providers.screenshot.max_parallel must be > 0 when screenshots are enabled")
	}
	return nil
}

// CacheTTL converts the TTL knob into a duration. Zero disables expiry.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// BreakerWindow converts the window knob into a duration.
func (c Config) BreakerWindow() time.Duration {
	return time.Duration(c.Breaker.WindowMs) * time.Millisecond
}
