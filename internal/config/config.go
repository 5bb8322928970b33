// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // crawl.timezone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
)

// ErrMissingToken is returned when no bot token is configured.
var ErrMissingToken = errors.New("slack.token is required (set SLACK_BOT_TOKEN)")

// Supported output and provider values.
var (
	dbDrivers        = []string{"postgres", "mysql", "sqlite3"}
	storageProviders = []string{"none", "local", "gcs"}
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Slack      SlackConfig      `mapstructure:"slack"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Output     OutputConfig     `mapstructure:"output"`
	DB         DBConfig         `mapstructure:"db"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SlackConfig controls access to the workspace API.
type SlackConfig struct {
	Token              string        `mapstructure:"token"`
	APIURL             string        `mapstructure:"api_url"`
	PageLimit          int           `mapstructure:"page_limit"`
	CallInterval       time.Duration `mapstructure:"call_interval"`
	MaxThrottleRetries int           `mapstructure:"max_throttle_retries"`
	ChannelTypes       []string      `mapstructure:"channel_types"`
}

// CrawlConfig selects the harvest window.
type CrawlConfig struct {
	Since       string `mapstructure:"since"`
	Until       string `mapstructure:"until"`
	Timezone    string `mapstructure:"timezone"`
	Incremental bool   `mapstructure:"incremental"`
	Resume      bool   `mapstructure:"resume"`
}

// OutputConfig controls the csv sink.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// DBConfig controls the relational sink.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// CheckpointConfig locates the resume file. Empty disables checkpoints.
type CheckpointConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects where csv artifacts are archived.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig enables the metrics server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from dotenv files, an optional config file and the
// environment. Without envFiles a ".env" in the working directory is read if
// present. Existing environment variables win over dotenv values.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadDotenv(envFiles); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("SLACK_CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("slack.token", "SLACK_CRAWLER_SLACK_TOKEN", "SLACK_BOT_TOKEN")
	_ = v.BindEnv("db.dsn", "SLACK_CRAWLER_DB_DSN", "DATABASE_URL")

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

func loadDotenv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("slack.api_url", "")
	v.SetDefault("slack.page_limit", 1000)
	v.SetDefault("slack.call_interval", time.Second)
	v.SetDefault("slack.max_throttle_retries", 3)
	v.SetDefault("slack.channel_types", []string{"public_channel"})
	v.SetDefault("crawl.since", "2000-01-01T00:00:00")
	v.SetDefault("crawl.until", "")
	v.SetDefault("crawl.timezone", "Asia/Tokyo")
	v.SetDefault("crawl.incremental", false)
	v.SetDefault("crawl.resume", true)
	v.SetDefault("output.dir", ".")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("checkpoint.path", "")
	v.SetDefault("storage.provider", "none")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.prefix", "slack-history")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Slack.Token) == "" {
		return ErrMissingToken
	}
	if c.Slack.PageLimit <= 0 || c.Slack.PageLimit > 1000 {
		return fmt.Errorf("slack.page_limit must be between 1 and 1000")
	}
	if c.Slack.CallInterval < 0 {
		return fmt.Errorf("slack.call_interval must be >= 0")
	}
	if c.Slack.MaxThrottleRetries < 0 {
		return fmt.Errorf("slack.max_throttle_retries must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if !contains(dbDrivers, c.DB.Driver) {
		return fmt.Errorf("db.driver must be one of %s", strings.Join(dbDrivers, ", "))
	}
	if !contains(storageProviders, c.Storage.Provider) {
		return fmt.Errorf("storage.provider must be one of %s", strings.Join(storageProviders, ", "))
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.Storage.Provider == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set when storage.provider is local")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// Location resolves crawl.timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Crawl.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Crawl.Timezone)
	if err != nil {
		return nil, fmt.Errorf("crawl.timezone: %w", err)
	}
	return loc, nil
}

var windowLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// Window interprets crawl.since and crawl.until in crawl.timezone. An empty
// until means now.
func (c Config) Window(now time.Time) (crawler.Window, error) {
	loc, err := c.Location()
	if err != nil {
		return crawler.Window{}, err
	}
	since, err := parseBound(c.Crawl.Since, loc)
	if err != nil {
		return crawler.Window{}, fmt.Errorf("crawl.since: %w", err)
	}
	until := now
	if c.Crawl.Until != "" {
		if until, err = parseBound(c.Crawl.Until, loc); err != nil {
			return crawler.Window{}, fmt.Errorf("crawl.until: %w", err)
		}
	}
	if !since.Before(until) {
		return crawler.Window{}, fmt.Errorf("crawl.since %s must be before crawl.until %s", since, until)
	}
	return crawler.Window{Since: since.UTC(), Until: until.UTC()}, nil
}

func parseBound(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range windowLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// CrawlerConfig converts the slack section into engine settings.
func (c Config) CrawlerConfig() crawler.Config {
	return crawler.Config{
		CallInterval:       c.Slack.CallInterval,
		MaxThrottleRetries: c.Slack.MaxThrottleRetries,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
