// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fordonad/inventory-ingest/internal/discover"
	"github.com/fordonad/inventory-ingest/internal/extract"
	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// ProfileMap maps customer id to source id to the configured site profile.
type ProfileMap map[string]map[string]ingest.SiteProfile

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sources   ProfileMap      `mapstructure:"sources"`
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

// IngestConfig governs the worker pool and run lifecycle behavior.
type IngestConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	QueueDepth         int `mapstructure:"queue_depth"`
	DedupeWindowSec    int `mapstructure:"dedupe_window_seconds"`
	FetchTimeoutSec    int `mapstructure:"fetch_timeout_seconds"`
	StaleQueuedMinutes int `mapstructure:"stale_queued_minutes"`
}

// DiscoveryConfig tunes the discovery pass. Token lists vary by market.
type DiscoveryConfig struct {
	DetailPathTokens    []string `mapstructure:"detail_path_tokens"`
	LoadMoreKeywords    []string `mapstructure:"load_more_keywords"`
	APIPathTokens       []string `mapstructure:"api_path_tokens"`
	MaxSecondaryFetches int      `mapstructure:"max_secondary_fetches"`
	DefaultMaxPages     int      `mapstructure:"default_max_pages"`
	DefaultMaxItems     int      `mapstructure:"default_max_items"`
	DefaultMaxDurSec    int      `mapstructure:"default_max_duration_seconds"`
}

// ExtractConfig tunes field extraction.
type ExtractConfig struct {
	MinDescriptionLength  int    `mapstructure:"min_description_length"`
	MaxAttributeKeyLength int    `mapstructure:"max_attribute_key_length"`
	DefaultCurrency       string `mapstructure:"default_currency"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RetryConfig bounds job redelivery.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// StorageConfig sets the diagnostic snapshot destination.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// stores.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	RunsTable       string `mapstructure:"runs_table"`
	ItemsTable      string `mapstructure:"items_table"`
	EventsTable     string `mapstructure:"events_table"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifeMins int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig selects the Pub/Sub queue. An empty project selects the
// in-memory queue.
type PubSubConfig struct {
	ProjectID         string `mapstructure:"project_id"`
	TopicID           string `mapstructure:"topic_id"`
	SubscriptionID    string `mapstructure:"subscription_id"`
	DeadLetterTopicID string `mapstructure:"dead_letter_topic_id"`
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
	def := discover.DefaultConfig()
	ext := extract.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.queue_depth", 64)
	v.SetDefault("ingest.dedupe_window_seconds", 30)
	v.SetDefault("ingest.fetch_timeout_seconds", 10)
	v.SetDefault("ingest.stale_queued_minutes", 10)
	v.SetDefault("discovery.detail_path_tokens", def.DetailPathTokens)
	v.SetDefault("discovery.load_more_keywords", def.LoadMoreKeywords)
	v.SetDefault("discovery.api_path_tokens", def.APIPathTokens)
	v.SetDefault("discovery.max_secondary_fetches", def.MaxSecondaryFetches)
	v.SetDefault("discovery.default_max_pages", def.DefaultMaxPages)
	v.SetDefault("discovery.default_max_items", def.DefaultMaxItems)
	v.SetDefault("discovery.default_max_duration_seconds", int(def.DefaultMaxDuration/time.Second))
	v.SetDefault("extract.min_description_length", ext.MinDescriptionLength)
	v.SetDefault("extract.max_attribute_key_length", ext.MaxAttributeKeyLength)
	v.SetDefault("extract.default_currency", ext.DefaultCurrency)
	v.SetDefault("http.user_agent", "fordonad-ingest-bot/0.1")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 5000)
	v.SetDefault("retry.max_delay_ms", 120000)
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.ProjectID != "" {
		if c.PubSub.TopicID == "" || c.PubSub.SubscriptionID == "" {
			return fmt.Errorf("pubsub.topic_id and pubsub.subscription_id must be set with a project id")
		}
	}
	for customerID, sources := range c.Sources {
		for sourceID, profile := range sources {
			if len(profile.Seeds()) == 0 {
				return fmt.Errorf("sources.%s.%s needs a base_url or seed_urls", customerID, sourceID)
			}
		}
	}
	return nil
}

// DiscoverConfig converts the discovery section into engine configuration.
func (c Config) DiscoverConfig() discover.Config {
	return discover.Config{
		DetailPathTokens:    c.Discovery.DetailPathTokens,
		LoadMoreKeywords:    c.Discovery.LoadMoreKeywords,
		APIPathTokens:       c.Discovery.APIPathTokens,
		MaxSecondaryFetches: c.Discovery.MaxSecondaryFetches,
		FetchTimeout:        time.Duration(c.Ingest.FetchTimeoutSec) * time.Second,
		DefaultMaxPages:     c.Discovery.DefaultMaxPages,
		DefaultMaxItems:     c.Discovery.DefaultMaxItems,
		DefaultMaxDuration:  time.Duration(c.Discovery.DefaultMaxDurSec) * time.Second,
	}
}

// ExtractorConfig converts the extract section into extractor configuration.
func (c Config) ExtractorConfig() extract.Config {
	return extract.Config{
		MinDescriptionLength:  c.Extract.MinDescriptionLength,
		MaxAttributeKeyLength: c.Extract.MaxAttributeKeyLength,
		DefaultCurrency:       c.Extract.DefaultCurrency,
	}
}

// FetchTimeout returns the per-page fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Ingest.FetchTimeoutSec) * time.Second
}

// DedupeWindow returns the idempotent-creation window.
func (c Config) DedupeWindow() time.Duration {
	return time.Duration(c.Ingest.DedupeWindowSec) * time.Second
}

// StaleQueuedAfter returns how long a queued run may sit before the API
// flags it as stale.
func (c Config) StaleQueuedAfter() time.Duration {
	return time.Duration(c.Ingest.StaleQueuedMinutes) * time.Minute
}
