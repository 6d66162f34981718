package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all configuration for ragchat
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Store       StoreConfig       `mapstructure:"store"`
	Site        SiteConfig        `mapstructure:"site"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Weaviate    WeaviateConfig    `mapstructure:"weaviate"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Comparison  ComparisonConfig  `mapstructure:"comparison"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Background  BackgroundConfig  `mapstructure:"background"`
	Alert       AlertConfig       `mapstructure:"alert"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StoreConfig selects the conversation record store
type StoreConfig struct {
	Driver     string `mapstructure:"driver"` // sqlite or badger
	BadgerPath string `mapstructure:"badger_path"`
}

// SiteConfig holds the retrieval and access policy of the served site
type SiteConfig struct {
	ID                    string              `mapstructure:"id"`
	Name                  string              `mapstructure:"name"`
	Collections           map[string]string   `mapstructure:"collections"`
	DefaultCollection     string              `mapstructure:"default_collection"`
	EnabledMediaTypes     []string            `mapstructure:"enabled_media_types"`
	ExcludedAccessLevels  []string            `mapstructure:"excluded_access_levels"`
	RestrictedCollections map[string][]string `mapstructure:"restricted_collections"`
	LibraryFilterMode     string              `mapstructure:"library_filter_mode"`
	FilterFields          FilterFieldsConfig  `mapstructure:"filter_fields"`
	AllowedOrigins        []string            `mapstructure:"allowed_origins"`
	DefaultSourceCount    int                 `mapstructure:"default_source_count"`
}

// FilterFieldsConfig names the metadata fields used in retrieval filters
type FilterFieldsConfig struct {
	MediaType   string `mapstructure:"media_type"`
	AccessLevel string `mapstructure:"access_level"`
	Author      string `mapstructure:"author"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	DefaultModel string        `mapstructure:"default_model"`
	TitleModel   string        `mapstructure:"title_model"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Suggestions  int           `mapstructure:"suggestions"`
	Models       []ModelConfig `mapstructure:"models"`
}

// ModelConfig describes one selectable chat model. Empty BaseURL and
// APIKey fall back to the llm section values.
type ModelConfig struct {
	Name    string `mapstructure:"name"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// WeaviateConfig holds vector store configuration
type WeaviateConfig struct {
	Host         string        `mapstructure:"host"`
	Scheme       string        `mapstructure:"scheme"`
	ContentField string        `mapstructure:"content_field"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	DailyQuota        int     `mapstructure:"daily_quota"`
}

// ComparisonConfig holds two-model comparison configuration
type ComparisonConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// PersistenceConfig holds record persistence configuration
type PersistenceConfig struct {
	Retries      int           `mapstructure:"retries"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
	TitleTimeout time.Duration `mapstructure:"title_timeout"`
}

// BackgroundConfig holds background task pool configuration
type BackgroundConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

// AlertConfig holds operator alert configuration
type AlertConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("RAGCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.keep_alive_interval", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "./data/ragchat.db")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.badger_path", "./data/badger")

	v.SetDefault("site.id", "")
	v.SetDefault("site.name", "")
	v.SetDefault("site.enabled_media_types", []string{"article"})
	v.SetDefault("site.library_filter_mode", domain.LibraryFilterAlways)
	v.SetDefault("site.filter_fields.media_type", "type")
	v.SetDefault("site.filter_fields.access_level", "access_level")
	v.SetDefault("site.filter_fields.author", "author")
	v.SetDefault("site.allowed_origins", []string{"*"})
	v.SetDefault("site.default_source_count", 4)

	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.default_model", "default")
	v.SetDefault("llm.title_model", "qwen2.5:7b")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.suggestions", 3)

	v.SetDefault("weaviate.host", "localhost:8080")
	v.SetDefault("weaviate.scheme", "http")
	v.SetDefault("weaviate.content_field", "content")
	v.SetDefault("weaviate.timeout", 10*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 1.0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.daily_quota", 200)

	v.SetDefault("comparison.timeout", 60*time.Second)

	v.SetDefault("persistence.retries", 3)
	v.SetDefault("persistence.retry_base", 200*time.Millisecond)
	v.SetDefault("persistence.title_timeout", 30*time.Second)

	v.SetDefault("background.pool_size", 64)

	v.SetDefault("alert.enabled", true)
	v.SetDefault("alert.stream", "ragchat:alerts")
	v.SetDefault("alert.max_len", 1000)
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports configuration that prevents the chat endpoints from serving.
// A failure here is surfaced per request, so health and metrics stay up.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Site.ID) == "" {
		return fmt.Errorf("site.id is required")
	}
	if len(c.Site.EnabledMediaTypes) == 0 {
		return fmt.Errorf("site.enabled_media_types must not be empty")
	}
	if mode := c.Site.LibraryFilterMode; mode != "" && mode != domain.LibraryFilterAlways {
		return fmt.Errorf("site.library_filter_mode %q is not supported", mode)
	}
	switch c.Store.Driver {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	return nil
}

// SitePolicy converts the site section into the domain policy
func (c *Config) SitePolicy() *domain.SitePolicy {
	s := c.Site
	fields := domain.DefaultFilterFields()
	if s.FilterFields.MediaType != "" {
		fields.MediaType = s.FilterFields.MediaType
	}
	if s.FilterFields.AccessLevel != "" {
		fields.AccessLevel = s.FilterFields.AccessLevel
	}
	if s.FilterFields.Author != "" {
		fields.Author = s.FilterFields.Author
	}

	return &domain.SitePolicy{
		ID:                    s.ID,
		Name:                  s.Name,
		Collections:           s.Collections,
		DefaultCollection:     s.DefaultCollection,
		EnabledMediaTypes:     s.EnabledMediaTypes,
		ExcludedAccessLevels:  s.ExcludedAccessLevels,
		RestrictedCollections: s.RestrictedCollections,
		LibraryFilterMode:     s.LibraryFilterMode,
		FilterFields:          fields,
		AllowedOrigins:        s.AllowedOrigins,
		DefaultSourceCount:    s.DefaultSourceCount,
	}
}

// ModelNames returns the configured chat model names in order
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.LLM.Models))
	for _, m := range c.LLM.Models {
		names = append(names, m.Name)
	}
	return names
}
