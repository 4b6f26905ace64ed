// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/havaian/sud-ai/internal/catalog"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	API       APIConfig       `mapstructure:"api"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CrawlerConfig governs the page loop and the attachment pipeline.
type CrawlerConfig struct {
	Section     string `mapstructure:"section"`
	CourtType   string `mapstructure:"court_type"`
	PageSize    int    `mapstructure:"page_size"`
	MaxPages    int    `mapstructure:"max_pages"`
	StartPage   int    `mapstructure:"start_page"`
	EndPage     int    `mapstructure:"end_page"`
	Overwrite   bool   `mapstructure:"overwrite"`
	Attachments bool   `mapstructure:"attachments"`
	Concurrency int    `mapstructure:"concurrency"`
}

// RateLimitConfig bounds the adaptive delay controller.
type RateLimitConfig struct {
	BaseDelayMs   int     `mapstructure:"base_delay_ms"`
	MinDelayMs    int     `mapstructure:"min_delay_ms"`
	MaxDelayMs    int     `mapstructure:"max_delay_ms"`
	BackoffFactor float64 `mapstructure:"backoff_factor"`
}

// APIConfig holds the two publication API endpoints.
type APIConfig struct {
	NewBase   string `mapstructure:"new_base"`
	OldBase   string `mapstructure:"old_base"`
	UserAgent string `mapstructure:"user_agent"`
}

// ExtractorConfig points at the external text-extraction service.
type ExtractorConfig struct {
	URL            string `mapstructure:"url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig sets the artifact output location.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUDAI")
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
	v.SetDefault("crawler.section", "both")
	v.SetDefault("crawler.court_type", "ECONOMIC")
	v.SetDefault("crawler.page_size", 30)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.start_page", 0)
	v.SetDefault("crawler.end_page", -1)
	v.SetDefault("crawler.overwrite", false)
	v.SetDefault("crawler.attachments", false)
	v.SetDefault("crawler.concurrency", 6)
	v.SetDefault("ratelimit.base_delay_ms", 300)
	v.SetDefault("ratelimit.min_delay_ms", 100)
	v.SetDefault("ratelimit.max_delay_ms", 10000)
	v.SetDefault("ratelimit.backoff_factor", 1.5)
	v.SetDefault("api.new_base", "https://adolatapi1.sud.uz")
	v.SetDefault("api.old_base", "https://publication.sud.uz")
	v.SetDefault("api.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("extractor.timeout_seconds", 60)
	v.SetDefault("storage.output_dir", "./court_decisions")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Crawler.Section {
	case "new", "old", "both":
	default:
		return fmt.Errorf("crawler.section must be new, old or both")
	}
	if c.Crawler.PageSize <= 0 {
		return fmt.Errorf("crawler.page_size must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.StartPage < 0 {
		return fmt.Errorf("crawler.start_page must be >= 0")
	}
	if c.Crawler.EndPage < -1 {
		return fmt.Errorf("crawler.end_page must be >= -1")
	}
	if c.Crawler.EndPage >= 0 && c.Crawler.EndPage < c.Crawler.StartPage {
		return fmt.Errorf("crawler.end_page must be >= crawler.start_page")
	}
	if c.RateLimit.BaseDelayMs <= 0 || c.RateLimit.MinDelayMs <= 0 {
		return fmt.Errorf("ratelimit delays must be > 0")
	}
	if c.RateLimit.MaxDelayMs < c.RateLimit.MinDelayMs {
		return fmt.Errorf("ratelimit.max_delay_ms must be >= ratelimit.min_delay_ms")
	}
	if c.RateLimit.BackoffFactor <= 1 {
		return fmt.Errorf("ratelimit.backoff_factor must be > 1")
	}
	if c.Crawler.Attachments && c.Extractor.URL == "" {
		return fmt.Errorf("extractor.url must be set when attachment processing is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	return nil
}

// Sections expands the section selector into the ordered section list.
func (c Config) Sections() []catalog.Section {
	switch c.Crawler.Section {
	case "new":
		return []catalog.Section{catalog.SectionNew}
	case "old":
		return []catalog.Section{catalog.SectionOld}
	default:
		return []catalog.Section{catalog.SectionNew, catalog.SectionOld}
	}
}

// BaseDelay returns the healthy-path delay as a duration.
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.RateLimit.BaseDelayMs) * time.Millisecond
}

// MinDelay returns the adaptive delay floor.
func (c Config) MinDelay() time.Duration {
	return time.Duration(c.RateLimit.MinDelayMs) * time.Millisecond
}

// MaxDelay returns the adaptive delay ceiling.
func (c Config) MaxDelay() time.Duration {
	return time.Duration(c.RateLimit.MaxDelayMs) * time.Millisecond
}

// ExtractorTimeout returns the extraction call budget.
func (c Config) ExtractorTimeout() time.Duration {
	return time.Duration(c.Extractor.TimeoutSeconds) * time.Second
}
