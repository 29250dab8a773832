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
	Server    ServerConfig              `mapstructure:"server"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Fetch     FetchConfig               `mapstructure:"fetch"`
	HTTP      HTTPConfig                `mapstructure:"http"`
	RateLimit RateLimitConfig           `mapstructure:"ratelimit"`
	Breaker   BreakerConfig             `mapstructure:"breaker"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Dedup     DedupConfig               `mapstructure:"dedup"`
	PubSub    PubSubConfig              `mapstructure:"pubsub"`
	Hosts     map[string]HostRateConfig `mapstructure:"hosts"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownGraceMs int `mapstructure:"shutdown_grace_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetchConfig governs orchestrator and worker pool behavior.
type FetchConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	PerHostMax  int    `mapstructure:"per_host_max"`
	UserAgent   string `mapstructure:"user_agent"`
}

// HTTPConfig configures HTTP client timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// RateLimitConfig sets token bucket defaults and jitter bounds.
type RateLimitConfig struct {
	DefaultRPS         float64 `mapstructure:"default_rps"`
	DefaultBurst       int     `mapstructure:"default_burst"`
	JitterMinMs        int     `mapstructure:"jitter_min_ms"`
	JitterMaxMs        int     `mapstructure:"jitter_max_ms"`
	ForbiddenThreshold int     `mapstructure:"forbidden_threshold"`
}

// HostRateConfig overrides the bucket for a specific host.
type HostRateConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// BreakerConfig sets circuit breaker thresholds shared by all instances.
type BreakerConfig struct {
	FailureThreshold   int `mapstructure:"failure_threshold"`
	RecoveryTimeoutSec int `mapstructure:"recovery_timeout_seconds"`
	SuccessThreshold   int `mapstructure:"success_threshold"`
	CallTimeoutSec     int `mapstructure:"call_timeout_seconds"`
}

// CacheConfig controls both cache tiers.
type CacheConfig struct {
	LocalMaxEntries     int            `mapstructure:"local_max_entries"`
	CompressionMinBytes int            `mapstructure:"compression_min_bytes"`
	NamespaceTTLSec     map[string]int `mapstructure:"namespace_ttl_seconds"`
	ValkeyAddress       string         `mapstructure:"valkey_address"`
	ValkeyUsername      string         `mapstructure:"valkey_username"`
	ValkeyPassword      string         `mapstructure:"valkey_password"`
	ValkeyDB            int            `mapstructure:"valkey_db"`
	OpTimeoutMs         int            `mapstructure:"op_timeout_ms"`
}

// DedupConfig controls the validation and duplicate-detection filter.
type DedupConfig struct {
	MinTitleLength      int     `mapstructure:"min_title_length"`
	MinBodyLength       int     `mapstructure:"min_body_length"`
	RetentionHours      int     `mapstructure:"retention_hours"`
	SimilarityWindow    int     `mapstructure:"similarity_window"`
	TitleSimilarity     float64 `mapstructure:"title_similarity"`
	BodySimilarity      float64 `mapstructure:"body_similarity"`
	ContentPrefixLength int     `mapstructure:"content_prefix_length"`
}

// PubSubConfig holds metadata for artifact publication.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADCRAWLER")
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
	v.SetDefault("server.shutdown_grace_ms", 10000)
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.concurrency", 8)
	v.SetDefault("fetch.per_host_max", 4)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("ratelimit.default_rps", 2.0)
	v.SetDefault("ratelimit.default_burst", 10)
	v.SetDefault("ratelimit.jitter_min_ms", 100)
	v.SetDefault("ratelimit.jitter_max_ms", 500)
	v.SetDefault("ratelimit.forbidden_threshold", 5)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout_seconds", 60)
	v.SetDefault("breaker.success_threshold", 3)
	v.SetDefault("breaker.call_timeout_seconds", 30)
	v.SetDefault("cache.local_max_entries", 10000)
	v.SetDefault("cache.compression_min_bytes", 1024)
	v.SetDefault("cache.namespace_ttl_seconds", map[string]int{
		"url-content":    3600,
		"classification": 21600,
		"generic":        1800,
	})
	v.SetDefault("cache.op_timeout_ms", 500)
	v.SetDefault("dedup.min_title_length", 10)
	v.SetDefault("dedup.min_body_length", 50)
	v.SetDefault("dedup.retention_hours", 168)
	v.SetDefault("dedup.similarity_window", 200)
	v.SetDefault("dedup.title_similarity", 0.85)
	v.SetDefault("dedup.body_similarity", 0.90)
	v.SetDefault("dedup.content_prefix_length", 500)
	v.SetDefault("hosts", map[string]HostRateConfig{
		"www.google.com":   {RPS: 0.3, Burst: 2},
		"www.reddit.com":   {RPS: 1.0, Burst: 5},
		"twitter.com":      {RPS: 0.5, Burst: 3},
		"www.facebook.com": {RPS: 0.5, Burst: 3},
	})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.PerHostMax <= 0 || c.Fetch.PerHostMax > c.Fetch.Concurrency {
		return fmt.Errorf("fetch.per_host_max must be in (0, fetch.concurrency]")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.RateLimit.DefaultRPS <= 0 {
		return fmt.Errorf("ratelimit.default_rps must be > 0")
	}
	if c.RateLimit.JitterMinMs > c.RateLimit.JitterMaxMs {
		return fmt.Errorf("ratelimit.jitter_min_ms must not exceed ratelimit.jitter_max_ms")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Dedup.TitleSimilarity <= 0 || c.Dedup.TitleSimilarity > 1 {
		return fmt.Errorf("dedup.title_similarity must be in (0, 1]")
	}
	if c.Dedup.BodySimilarity <= 0 || c.Dedup.BodySimilarity > 1 {
		return fmt.Errorf("dedup.body_similarity must be in (0, 1]")
	}
	return nil
}

// HTTPTimeout converts the configured HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ShutdownGrace converts the shutdown grace period into a duration.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceMs) * time.Millisecond
}
