// Package config loads and validates relay configuration via Viper.
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
	Auth        AuthConfig        `mapstructure:"auth"`
	Broker      BrokerConfig      `mapstructure:"broker"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP/WebSocket server behavior.
type ServerConfig struct {
	Port                int `mapstructure:"port"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BrokerConfig selects and configures the message broker.
type BrokerConfig struct {
	Provider      string            `mapstructure:"provider"`
	ProjectID     string            `mapstructure:"project_id"`
	RequestsTopic string            `mapstructure:"requests_topic"`
	ResultsTopic  string            `mapstructure:"results_topic"`
	Subscriptions map[string]string `mapstructure:"subscriptions"`
	// Topics is the full set of topics pause-all/resume-all operate on. It
	// may be broader than the topics with registered consumers so operators
	// can halt ingestion for topics not yet wired to application code.
	Topics []string `mapstructure:"topics"`
}

// CorrelationConfig selects and configures the correlation store backend.
type CorrelationConfig struct {
	Provider       string `mapstructure:"provider"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	RetentionHours int    `mapstructure:"retention_hours"`
}

// StorageConfig sets blob persistence for fetched page bodies.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// WorkerConfig governs the embedded crawl worker.
type WorkerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ExcerptBytes   int    `mapstructure:"excerpt_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLRELAY")
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
	v.SetDefault("server.write_timeout_seconds", 10)
	v.SetDefault("broker.provider", "memory")
	v.SetDefault("broker.requests_topic", "crawl.requests")
	v.SetDefault("broker.results_topic", "crawl.results")
	v.SetDefault("correlation.provider", "memory")
	v.SetDefault("correlation.retention_hours", 24)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.user_agent", "crawl-relay-bot/0.1")
	v.SetDefault("worker.timeout_seconds", 15)
	v.SetDefault("worker.excerpt_bytes", 512)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Broker.RequestsTopic == "" || c.Broker.ResultsTopic == "" {
		return fmt.Errorf("broker.requests_topic and broker.results_topic must be set")
	}
	if c.Broker.Provider == "pubsub" && c.Broker.ProjectID == "" {
		return fmt.Errorf("broker.project_id must be set when broker.provider is pubsub")
	}
	switch c.Correlation.Provider {
	case "redis":
		if c.Correlation.RedisAddr == "" {
			return fmt.Errorf("correlation.redis_addr must be set when correlation.provider is redis")
		}
	case "postgres":
		if c.Correlation.PostgresDSN == "" {
			return fmt.Errorf("correlation.postgres_dsn must be set when correlation.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown correlation provider: %s", c.Correlation.Provider)
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Worker.Enabled && c.Worker.TimeoutSeconds <= 0 {
		return fmt.Errorf("worker.timeout_seconds must be > 0 when worker is enabled")
	}
	return nil
}

// Retention converts the configured retention window into a duration. Zero
// disables expiry, leaving unanswered requests to leak their records.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Correlation.RetentionHours) * time.Hour
}

// ManagedTopics returns the configured topic set, falling back to the two
// built-in topics when none are listed.
func (c Config) ManagedTopics() []string {
	if len(c.Broker.Topics) > 0 {
		return c.Broker.Topics
	}
	return []string{c.Broker.RequestsTopic, c.Broker.ResultsTopic}
}

// SubscriptionFor maps a topic to its broker subscription ID. Unconfigured
// topics default to "<topic>.relay".
func (c Config) SubscriptionFor(topic string) string {
	if sub, ok := c.Broker.Subscriptions[topic]; ok && sub != "" {
		return sub
	}
	return topic + ".relay"
}
