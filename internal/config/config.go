// Package config provides configuration management for mediaflow using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultFetchConcurrency    = 3
	defaultFetchTimeout        = 10 * time.Second
	defaultBandwidthWindow     = 5
	defaultChunkDuration       = 4.0
	defaultCacheSize           = 16 * 1024 * 1024
	defaultMinBufferAhead      = 2.0
	defaultOptimalBufferAhead  = 10.0
	defaultStallTimeout        = 5 * time.Second
	defaultMaxBufferSize       = 50 * 1024 * 1024
	defaultRetentionWindow     = 30.0
	defaultSuccessGain         = 0.15
	defaultDecayFactor         = 0.85
	defaultDisableThreshold    = 0.2
	defaultRetryBudget         = 3
	defaultCooldown            = 5 * time.Second
	defaultScoreFlushSchedule  = "@every 30s"
	defaultHeadroom            = 0.8
	defaultMinSwitchInterval   = 5 * time.Second
	defaultRecoveryWindow      = 1500 * time.Millisecond
	defaultMaxProviderRetries  = 3
	defaultSessionTickInterval = 250 * time.Millisecond
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	Providers []ProviderSpec  `mapstructure:"providers"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Selection SelectionConfig `mapstructure:"selection"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Session   SessionConfig   `mapstructure:"session"`
	Status    StatusConfig    `mapstructure:"status"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// StoreConfig holds the provider score store configuration.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres, mysql, memory
	DSN    string `mapstructure:"dsn"`
}

// ProviderSpec describes one candidate content source.
// The endpoint template may contain {content} and {tier} placeholders
// which are substituted when resolving a source URL.
type ProviderSpec struct {
	Name     string `mapstructure:"name"`
	Endpoint string `mapstructure:"endpoint"`
}

// FetchConfig holds segment fetcher configuration.
type FetchConfig struct {
	// Concurrency is the maximum in-flight fetches per content handle.
	Concurrency int `mapstructure:"concurrency"`
	// RequestTimeout bounds a single range request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// BandwidthWindow is the number of completions the bandwidth
	// estimate is smoothed across.
	BandwidthWindow int `mapstructure:"bandwidth_window"`
	// CacheSize caps the chunk result cache.
	CacheSize ByteSize `mapstructure:"cache_size"`
	// UserAgent is sent with every upstream request.
	UserAgent string `mapstructure:"user_agent"`
}

// BufferConfig holds buffer tracking configuration.
// Ahead thresholds and the retention window are in seconds of content.
type BufferConfig struct {
	MinAhead        float64       `mapstructure:"min_ahead"`
	OptimalAhead    float64       `mapstructure:"optimal_ahead"`
	StallTimeout    time.Duration `mapstructure:"stall_timeout"`
	MaxBufferSize   ByteSize      `mapstructure:"max_buffer_size"`
	RetentionWindow float64       `mapstructure:"retention_window"`
	// ChunkDuration is the seconds of content requested per fetch.
	ChunkDuration float64 `mapstructure:"chunk_duration"`
}

// SelectionConfig holds provider selection and scoring configuration.
type SelectionConfig struct {
	SuccessGain      float64       `mapstructure:"success_gain"`
	DecayFactor      float64       `mapstructure:"decay_factor"`
	DisableThreshold float64       `mapstructure:"disable_threshold"`
	RetryBudget      int           `mapstructure:"retry_budget"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	// FlushSchedule is a cron expression for periodic score persistence.
	FlushSchedule string `mapstructure:"flush_schedule"`
}

// QualityConfig holds quality adaptation configuration.
type QualityConfig struct {
	// TierFile is an optional YAML file describing the tier table.
	// When empty the built-in ladder is used.
	TierFile          string        `mapstructure:"tier_file"`
	Headroom          float64       `mapstructure:"headroom"`
	MinSwitchInterval time.Duration `mapstructure:"min_switch_interval"`
	// DecodeCostSampling enables the CPU-derived decode cost signal.
	DecodeCostSampling bool `mapstructure:"decode_cost_sampling"`
}

// SessionConfig holds stream session configuration.
type SessionConfig struct {
	RecoveryWindow     time.Duration `mapstructure:"recovery_window"`
	MaxProviderRetries int           `mapstructure:"max_provider_retries"`
	TickInterval       time.Duration `mapstructure:"tick_interval"`
}

// StatusConfig holds the optional status HTTP endpoint configuration.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SetDefaults sets default values on the provided Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "mediaflow.db")

	v.SetDefault("fetch.concurrency", defaultFetchConcurrency)
	v.SetDefault("fetch.request_timeout", defaultFetchTimeout)
	v.SetDefault("fetch.bandwidth_window", defaultBandwidthWindow)
	v.SetDefault("fetch.cache_size", defaultCacheSize)
	v.SetDefault("fetch.user_agent", "mediaflow/1.0")

	v.SetDefault("buffer.min_ahead", defaultMinBufferAhead)
	v.SetDefault("buffer.optimal_ahead", defaultOptimalBufferAhead)
	v.SetDefault("buffer.stall_timeout", defaultStallTimeout)
	v.SetDefault("buffer.max_buffer_size", defaultMaxBufferSize)
	v.SetDefault("buffer.retention_window", defaultRetentionWindow)
	v.SetDefault("buffer.chunk_duration", defaultChunkDuration)

	v.SetDefault("selection.success_gain", defaultSuccessGain)
	v.SetDefault("selection.decay_factor", defaultDecayFactor)
	v.SetDefault("selection.disable_threshold", defaultDisableThreshold)
	v.SetDefault("selection.retry_budget", defaultRetryBudget)
	v.SetDefault("selection.cooldown", defaultCooldown)
	v.SetDefault("selection.flush_schedule", defaultScoreFlushSchedule)

	v.SetDefault("quality.headroom", defaultHeadroom)
	v.SetDefault("quality.min_switch_interval", defaultMinSwitchInterval)
	v.SetDefault("quality.decode_cost_sampling", false)

	v.SetDefault("session.recovery_window", defaultRecoveryWindow)
	v.SetDefault("session.max_provider_retries", defaultMaxProviderRetries)
	v.SetDefault("session.tick_interval", defaultSessionTickInterval)

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.addr", ":8090")
}

// Load unmarshals the configuration from the provided Viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	// The TextUnmarshaller hook lets ByteSize fields accept their
	// human-readable form ("50MB") alongside raw byte counts.
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
		}
		if p.Endpoint == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: endpoint is required", i))
		}
	}

	if c.Fetch.Concurrency < 1 {
		errs = append(errs, errors.New("fetch.concurrency must be at least 1"))
	}
	if c.Buffer.MinAhead <= 0 || c.Buffer.OptimalAhead <= c.Buffer.MinAhead {
		errs = append(errs, errors.New("buffer thresholds must satisfy 0 < min_ahead < optimal_ahead"))
	}
	if c.Buffer.MaxBufferSize <= 0 {
		errs = append(errs, errors.New("buffer.max_buffer_size must be positive"))
	}
	if c.Selection.SuccessGain <= 0 || c.Selection.SuccessGain >= 1 {
		errs = append(errs, errors.New("selection.success_gain must be in (0,1)"))
	}
	if c.Selection.DecayFactor <= 0 || c.Selection.DecayFactor >= 1 {
		errs = append(errs, errors.New("selection.decay_factor must be in (0,1)"))
	}
	if c.Selection.DisableThreshold < 0 || c.Selection.DisableThreshold >= 1 {
		errs = append(errs, errors.New("selection.disable_threshold must be in [0,1)"))
	}
	if c.Quality.Headroom <= 0 || c.Quality.Headroom > 1 {
		errs = append(errs, errors.New("quality.headroom must be in (0,1]"))
	}
	if c.Session.MaxProviderRetries < 1 {
		errs = append(errs, errors.New("session.max_provider_retries must be at least 1"))
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "mysql", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}

	return errors.Join(errs...)
}
