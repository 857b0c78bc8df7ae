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
	Server  ServerConfig  `mapstructure:"server"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Storage StorageConfig `mapstructure:"storage"`
	Keys    KeysConfig    `mapstructure:"keys"`
	Extract ExtractConfig `mapstructure:"extract"`
	Chunk   ChunkConfig   `mapstructure:"chunk"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Queue   QueueConfig   `mapstructure:"queue"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FetchConfig governs the crawl-stage HTTP client.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// StorageConfig names the raw and chunk buckets.
type StorageConfig struct {
	RawBucket   string `mapstructure:"raw_bucket"`
	ChunkBucket string `mapstructure:"chunk_bucket"`
	ContentType string `mapstructure:"content_type"`
}

// KeysConfig bounds storage key generation.
type KeysConfig struct {
	MaxBytes         int    `mapstructure:"max_bytes"`
	DefaultExtension string `mapstructure:"default_extension"`
}

// ExtractConfig lists the structural tags stripped before text extraction.
type ExtractConfig struct {
	DenyTags []string `mapstructure:"deny_tags"`
}

// ChunkConfig sizes the recursive splitter.
type ChunkConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// PubSubConfig names the work topic and the two subscriptions.
type PubSubConfig struct {
	ProjectID          string `mapstructure:"project_id"`
	WorkTopic          string `mapstructure:"work_topic"`
	WorkSubscription   string `mapstructure:"work_subscription"`
	NotifySubscription string `mapstructure:"notify_subscription"`
}

// QueueConfig bounds batch assembly on the consume side.
type QueueConfig struct {
	BatchSize        int `mapstructure:"batch_size"`
	BatchWaitSeconds int `mapstructure:"batch_wait_seconds"`
}

// DBConfig controls the ledger database. The ledger is disabled when DSN is
// empty.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.user_agent", "ragline-ingest-bot/0.1")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("keys.max_bytes", 240)
	v.SetDefault("keys.default_extension", ".html")
	v.SetDefault("extract.deny_tags", []string{
		"script", "style", "noscript", "nav", "header", "footer", "form", "aside",
	})
	v.SetDefault("chunk.size", 1000)
	v.SetDefault("chunk.overlap", 150)
	v.SetDefault("pubsub.work_topic", "crawl-work")
	v.SetDefault("pubsub.work_subscription", "crawl-work-sub")
	v.SetDefault("pubsub.notify_subscription", "raw-object-created-sub")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.batch_wait_seconds", 2)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.UserAgent == "" {
		return fmt.Errorf("fetch.user_agent is required")
	}
	if c.Storage.RawBucket == "" {
		return fmt.Errorf("storage.raw_bucket is required")
	}
	if c.Storage.ChunkBucket == "" {
		return fmt.Errorf("storage.chunk_bucket is required")
	}
	if c.Keys.MaxBytes <= 0 {
		return fmt.Errorf("keys.max_bytes must be > 0")
	}
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be > 0")
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size)")
	}
	if c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be > 0")
	}
	return nil
}

// FetchTimeout converts the configured seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// BatchWait converts the configured seconds into a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Queue.BatchWaitSeconds) * time.Second
}
