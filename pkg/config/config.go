// Package config loads tap settings from an optional file and TAP_SUNWAVE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/sunwave-tap/pkg/auth"
	"github.com/Sternrassler/sunwave-tap/pkg/client"
	"github.com/Sternrassler/sunwave-tap/pkg/logging"
	"github.com/Sternrassler/sunwave-tap/pkg/stream"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TAP_SUNWAVE_USER_ID.
const EnvPrefix = "TAP_SUNWAVE"

// DefaultLookback is how far back the first run starts without start_date.
const DefaultLookback = 365 * 24 * time.Hour

// ErrInvalidConfig wraps every non-credential validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete tap configuration after file and environment merging.
type Config struct {
	UserID       string `mapstructure:"user_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	ClinicID     string `mapstructure:"clinic_id"`

	// StartDate is a date or RFC 3339 datetime. Empty means now minus DefaultLookback.
	StartDate string `mapstructure:"start_date"`
	BaseURL   string `mapstructure:"base_url"`

	Streams          []string `mapstructure:"streams"`
	SkipErrorsFor    []string `mapstructure:"skip_errors_for"`
	ReferralStatuses []string `mapstructure:"referral_statuses"`
	CensusStatuses   []string `mapstructure:"census_statuses"`

	SchemaPath     string `mapstructure:"schema_path"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`

	HTTP    HTTPConfig    `mapstructure:"http"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// HTTPConfig holds transport settings for the Sunwave client.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetryConfig bounds retries of throttled and failed requests.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// RedisConfig enables shared bookmarks and rate limit state. An empty URL
// keeps both in process.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// LogConfig selects the log level and console output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig sets the listen address of the metrics endpoint. Empty
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configPath (YAML or JSON, optional) and applies environment
// overrides. It does not validate; call Validate before any network I/O.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults. Every key needs one so AutomaticEnv sees it on Unmarshal.
	v.SetDefault("user_id", "")
	v.SetDefault("client_id", "")
	v.SetDefault("client_secret", "")
	v.SetDefault("clinic_id", "")
	v.SetDefault("start_date", "")
	v.SetDefault("base_url", client.DefaultBaseURL)
	v.SetDefault("streams", []string{})
	v.SetDefault("skip_errors_for", []string{stream.OpportunityTimeline})
	v.SetDefault("referral_statuses", stream.DefaultReferralStatuses)
	v.SetDefault("census_statuses", stream.DefaultCensusStatuses)
	v.SetDefault("schema_path", "")
	v.SetDefault("max_concurrency", 4)
	v.SetDefault("http.timeout", "60s")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff", "1s")
	v.SetDefault("retry.max_backoff", "30s")
	v.SetDefault("redis.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("metrics.addr", "")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sunwave-tap")
	}

	// Environment variables override
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Credentials returns the signing credentials.
func (c *Config) Credentials() (*auth.Credentials, error) {
	return auth.NewCredentials(c.UserID, c.ClientID, c.ClientSecret, c.ClinicID)
}

// StartTime parses StartDate, defaulting to now minus DefaultLookback.
func (c *Config) StartTime(now time.Time) (time.Time, error) {
	if c.StartDate == "" {
		return now.Add(-DefaultLookback).UTC(), nil
	}
	t, ok := stream.ParseTime(c.StartDate)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: start_date %q is not a date", ErrInvalidConfig, c.StartDate)
	}
	return t.UTC(), nil
}

// ClientRetry converts the retry section for the request executor.
func (c *Config) ClientRetry() client.RetryConfig {
	r := client.DefaultRetryConfig()
	r.MaxAttempts = c.Retry.MaxAttempts
	r.InitialBackoff = c.Retry.InitialBackoff
	r.MaxBackoff = c.Retry.MaxBackoff
	return r
}

// LogConfig converts the log section for logging.Setup.
func (c *Config) LogConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// Validate checks credentials first, so a missing credential is always
// reported as auth.ErrMissingCredential.
func (c *Config) Validate() error {
	if _, err := c.Credentials(); err != nil {
		return err
	}

	if _, err := c.StartTime(time.Now()); err != nil {
		return err
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max_concurrency must be >= 1 (got %d)", ErrInvalidConfig, c.MaxConcurrency)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("%w: http.timeout must be positive", ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be >= 1 (got %d)", ErrInvalidConfig, c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("%w: retry backoff must satisfy 0 < initial_backoff <= max_backoff", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
