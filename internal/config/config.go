// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Site      SiteConfig      `mapstructure:"site"`
	Selectors SelectorConfig  `mapstructure:"selectors"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Poll      PollConfig      `mapstructure:"poll"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Persist   PersistConfig   `mapstructure:"persist"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SiteConfig describes the target case-status site.
type SiteConfig struct {
	EntryURL        string `mapstructure:"entry_url"`
	DetailPattern   string `mapstructure:"detail_pattern"`
	CaseTypesSource string `mapstructure:"case_types_source"`
}

// SelectorConfig holds the CSS selectors used against the target pages.
type SelectorConfig struct {
	CaseType        string `mapstructure:"case_type"`
	CaseNumber      string `mapstructure:"case_number"`
	FilingYear      string `mapstructure:"filing_year"`
	Challenge       string `mapstructure:"challenge"`
	ChallengeInput  string `mapstructure:"challenge_input"`
	ChallengeError  string `mapstructure:"challenge_error"`
	Submit          string `mapstructure:"submit"`
	SummaryTable    string `mapstructure:"summary_table"`
	DetailTable     string `mapstructure:"detail_table"`
	EmptyMarker     string `mapstructure:"empty_marker"`
	FilingDate      string `mapstructure:"filing_date"`
	NextHearingDate string `mapstructure:"next_hearing_date"`
}

// BrowserConfig configures the chromedp allocator and per-step timeouts.
type BrowserConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Headless         bool          `mapstructure:"headless"`
	NoSandbox        bool          `mapstructure:"no_sandbox"`
	ExecPath         string        `mapstructure:"exec_path"`
	UserAgent        string        `mapstructure:"user_agent"`
	MaxParallel      int           `mapstructure:"max_parallel"`
	NavTimeout       time.Duration `mapstructure:"nav_timeout"`
	ChallengeTimeout time.Duration `mapstructure:"challenge_timeout"`
	ActionTimeout    time.Duration `mapstructure:"action_timeout"`
}

// PollConfig is the readiness polling budget.
type PollConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// FanoutConfig bounds detail-page enrichment.
type FanoutConfig struct {
	Concurrency int     `mapstructure:"concurrency"`
	HostRPS     float64 `mapstructure:"host_rps"`
	HostBurst   int     `mapstructure:"host_burst"`
}

// StorageConfig selects the query log backend.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// ArchiveConfig selects where failure snapshots are written.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for result notifications. Driver is gcp or
// memory; the memory driver keeps the last MemoryLimit results in process.
type PubSubConfig struct {
	Driver      string `mapstructure:"driver"`
	ProjectID   string `mapstructure:"project_id"`
	TopicName   string `mapstructure:"topic_name"`
	MemoryLimit int    `mapstructure:"memory_limit"`
}

// Enabled reports whether results should be published.
func (p PubSubConfig) Enabled() bool {
	if p.Driver == "memory" {
		return true
	}
	return p.ProjectID != "" && p.TopicName != ""
}

// PersistConfig bounds background persistence work.
type PersistConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig names the service for tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment. Without an explicit path it
// looks for court-scraper.{yaml,json,toml} in ".", /etc/court-scraper and
// $HOME/.court-scraper, and falls back to defaults when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COURTSCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("court-scraper")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/court-scraper/")
		v.AddConfigPath("$HOME/.court-scraper")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("site.entry_url", "https://delhihighcourt.nic.in/app/get-case-type-status")
	v.SetDefault("site.detail_pattern", "case-type-status-details")
	v.SetDefault("site.case_types_source", "browser")

	v.SetDefault("selectors.case_type", "#case_type")
	v.SetDefault("selectors.case_number", "#case_number")
	v.SetDefault("selectors.filing_year", "#case_year")
	v.SetDefault("selectors.challenge", "#captcha-code")
	v.SetDefault("selectors.challenge_input", "#captchaInput")
	v.SetDefault("selectors.challenge_error", ".captcha-error")
	v.SetDefault("selectors.submit", "#search")
	v.SetDefault("selectors.summary_table", "#caseTable")
	v.SetDefault("selectors.detail_table", "#caseTable")
	v.SetDefault("selectors.empty_marker", "td.dt-empty")
	v.SetDefault("selectors.filing_date", "#filing_date")
	v.SetDefault("selectors.next_hearing_date", "#next_hearing_date")

	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.nav_timeout", "60s")
	v.SetDefault("browser.challenge_timeout", "30s")
	v.SetDefault("browser.action_timeout", "10s")

	v.SetDefault("poll.max_attempts", 10)
	v.SetDefault("poll.interval", "3s")
	v.SetDefault("poll.settle_delay", "2s")

	v.SetDefault("fanout.concurrency", 1)
	v.SetDefault("fanout.host_rps", 0)
	v.SetDefault("fanout.host_burst", 1)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "court_data.db")
	v.SetDefault("storage.table", "queries")

	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "snapshots")

	v.SetDefault("pubsub.driver", "gcp")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("pubsub.memory_limit", 100)

	v.SetDefault("persist.timeout", "5s")
	v.SetDefault("telemetry.service_name", "court-case-scraper")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	u, err := url.Parse(c.Site.EntryURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.entry_url must be an absolute URL")
	}
	switch c.Site.CaseTypesSource {
	case "browser", "http":
	default:
		return fmt.Errorf("site.case_types_source must be browser or http, got %q", c.Site.CaseTypesSource)
	}
	if c.Browser.MaxParallel < 0 {
		return fmt.Errorf("browser.max_parallel must be >= 0")
	}
	if c.Browser.NavTimeout <= 0 || c.Browser.ChallengeTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be > 0")
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("poll.max_attempts must be > 0")
	}
	if c.Poll.Interval < 0 || c.Poll.SettleDelay < 0 {
		return fmt.Errorf("poll durations must be >= 0")
	}
	if c.Fanout.Concurrency <= 0 {
		return fmt.Errorf("fanout.concurrency must be > 0")
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Archive.Driver {
	case "", "none":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local driver")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown archive.driver %q", c.Archive.Driver)
	}
	switch c.PubSub.Driver {
	case "", "gcp", "memory":
	default:
		return fmt.Errorf("unknown pubsub.driver %q", c.PubSub.Driver)
	}
	return nil
}

// ScrapeBudget is the worst-case wall time of one summary scrape excluding
// detail enrichment.
func (c Config) ScrapeBudget() time.Duration {
	polls := time.Duration(c.Poll.MaxAttempts-1) * c.Poll.Interval
	return c.Browser.NavTimeout + c.Browser.ChallengeTimeout + c.Poll.SettleDelay + polls
}
