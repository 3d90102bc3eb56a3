// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SCHOLAR_STORE_URL.
const EnvPrefix = "SCHOLAR"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	Scholar    ScholarConfig    `mapstructure:"scholar"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Export     ExportConfig     `mapstructure:"export"`
	Request    RequestConfig    `mapstructure:"request"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Sources    SourcesConfig    `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"apikey"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StoreConfig points at the document store. An empty URL selects the in-process store.
type StoreConfig struct {
	URL        string `mapstructure:"url"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// ScholarConfig tunes the Scholar extractor and its paid fallback.
type ScholarConfig struct {
	APIKey                   string  `mapstructure:"apikey"`
	MaxPages                 int     `mapstructure:"maxpages"`
	FallbackOnMissingMetrics bool    `mapstructure:"fallbackonmissingmetrics"`
	APIRatePerSecond         float64 `mapstructure:"apiratepersecond"`
}

// WindowConfig is a pacing interval in milliseconds.
type WindowConfig struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

// IntervalConfig holds the two pacing profiles.
type IntervalConfig struct {
	Aggressive WindowConfig `mapstructure:"aggressive"`
	Polite     WindowConfig `mapstructure:"polite"`
}

// RetryConfig drives exponential backoff. Base is in milliseconds; Max counts attempts.
type RetryConfig struct {
	Base   int     `mapstructure:"base"`
	Factor float64 `mapstructure:"factor"`
	Max    int     `mapstructure:"max"`
	Jitter float64 `mapstructure:"jitter"`
}

// FetcherConfig configures the shared HTTP fetcher.
type FetcherConfig struct {
	TimeoutSeconds int            `mapstructure:"timeoutseconds"`
	Interval       IntervalConfig `mapstructure:"interval"`
	Retry          RetryConfig    `mapstructure:"retry"`
	UserAgents     []string       `mapstructure:"useragents"`
	LoginPrefixes  []string       `mapstructure:"loginprefixes"`
	CaptchaMarkers []string       `mapstructure:"captchamarkers"`
}

// ExportConfig selects the artifact sink: a GCS bucket wins over a local dir; neither keeps
// artifacts in memory.
type ExportConfig struct {
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// RequestConfig bounds a single capture.
type RequestConfig struct {
	TimeoutSeconds int `mapstructure:"timeoutseconds"`
}

// FilterConfig tunes the keyword filter.
type FilterConfig struct {
	ScholarBypass bool `mapstructure:"scholarbypass"`
}

// NormalizerConfig holds the plausibility bounds for citation metrics.
type NormalizerConfig struct {
	HIndexMax   int `mapstructure:"hindexmax"`
	I10IndexMax int `mapstructure:"i10indexmax"`
}

// WorkerConfig sizes the dispatcher pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queuedepth"`
}

// PublisherConfig holds metadata for capture notifications. An empty topic disables Pub/Sub.
type PublisherConfig struct {
	ProjectID string `mapstructure:"projectid"`
	Topic     string `mapstructure:"topic"`
}

// SourceConfig locates one upstream host.
type SourceConfig struct {
	BaseURL string `mapstructure:"baseurl"`
}

// SourcesConfig lists upstream hosts.
type SourcesConfig struct {
	BR         SourceConfig `mapstructure:"br"`
	INT        SourceConfig `mapstructure:"int"`
	Scholar    SourceConfig `mapstructure:"scholar"`
	ScholarAPI SourceConfig `mapstructure:"scholarapi"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.apikey", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("store.url", "")
	v.SetDefault("store.database", "")
	v.SetDefault("store.collection", "researcher_records")
	v.SetDefault("scholar.apikey", "")
	v.SetDefault("scholar.maxpages", 50)
	v.SetDefault("scholar.fallbackonmissingmetrics", true)
	v.SetDefault("scholar.apiratepersecond", 1.0)
	v.SetDefault("fetcher.timeoutseconds", 30)
	v.SetDefault("fetcher.interval.aggressive.min", 1000)
	v.SetDefault("fetcher.interval.aggressive.max", 3000)
	v.SetDefault("fetcher.interval.polite.min", 2000)
	v.SetDefault("fetcher.interval.polite.max", 6000)
	v.SetDefault("fetcher.retry.base", 1000)
	v.SetDefault("fetcher.retry.factor", 2.0)
	v.SetDefault("fetcher.retry.max", 4)
	v.SetDefault("fetcher.retry.jitter", 0.25)
	v.SetDefault("fetcher.useragents", []string{})
	v.SetDefault("fetcher.loginprefixes", []string{})
	v.SetDefault("fetcher.captchamarkers", []string{})
	v.SetDefault("export.dir", "")
	v.SetDefault("export.bucket", "")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("request.timeoutseconds", 120)
	v.SetDefault("filter.scholarbypass", true)
	v.SetDefault("normalizer.hindexmax", 500)
	v.SetDefault("normalizer.i10indexmax", 1000)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queuedepth", 64)
	v.SetDefault("publisher.projectid", "")
	v.SetDefault("publisher.topic", "")
	v.SetDefault("sources.br.baseurl", "http://buscatextual.cnpq.br")
	v.SetDefault("sources.int.baseurl", "https://pub.orcid.org")
	v.SetDefault("sources.scholar.baseurl", "https://scholar.google.com")
	v.SetDefault("sources.scholarapi.baseurl", "https://serpapi.com")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.apiKey must be set when auth is enabled")
	}
	if c.Request.TimeoutSeconds <= 0 {
		return fmt.Errorf("request.timeoutSeconds must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeoutSeconds must be > 0")
	}
	if err := validateWindow("fetcher.interval.aggressive", c.Fetcher.Interval.Aggressive); err != nil {
		return err
	}
	if err := validateWindow("fetcher.interval.polite", c.Fetcher.Interval.Polite); err != nil {
		return err
	}
	if c.Fetcher.Retry.Max <= 0 {
		return fmt.Errorf("fetcher.retry.max must be > 0")
	}
	if c.Fetcher.Retry.Jitter < 0 || c.Fetcher.Retry.Jitter >= 1 {
		return fmt.Errorf("fetcher.retry.jitter must be in [0, 1)")
	}
	if c.Scholar.MaxPages <= 0 {
		return fmt.Errorf("scholar.maxPages must be > 0")
	}
	if c.Scholar.APIRatePerSecond <= 0 {
		return fmt.Errorf("scholar.apiRatePerSecond must be > 0")
	}
	if c.Normalizer.HIndexMax <= 0 || c.Normalizer.I10IndexMax <= 0 {
		return fmt.Errorf("normalizer bounds must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth < 0 {
		return fmt.Errorf("worker.queueDepth must be >= 0")
	}
	if c.Publisher.Topic != "" && c.Publisher.ProjectID == "" {
		return fmt.Errorf("publisher.projectId must be set when publisher.topic is set")
	}
	for name, src := range map[string]SourceConfig{
		"sources.br.baseURL":         c.Sources.BR,
		"sources.int.baseURL":        c.Sources.INT,
		"sources.scholar.baseURL":    c.Sources.Scholar,
		"sources.scholarApi.baseURL": c.Sources.ScholarAPI,
	} {
		if u, err := url.Parse(src.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, src.BaseURL)
		}
	}
	return nil
}

func validateWindow(key string, w WindowConfig) error {
	if w.Min < 0 || w.Max < w.Min {
		return fmt.Errorf("%s must satisfy 0 <= min <= max", key)
	}
	return nil
}

// RequestTimeout is the per-capture deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Request.TimeoutSeconds) * time.Second
}

// FetchTimeout bounds a single upstream request.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// Duration converts a window to time values.
func (w WindowConfig) Duration() (time.Duration, time.Duration) {
	return time.Duration(w.Min) * time.Millisecond, time.Duration(w.Max) * time.Millisecond
}
