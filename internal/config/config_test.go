package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Fetch.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Fetch.RequestTimeout)
	assert.Equal(t, 5, cfg.Fetch.BandwidthWindow)
	assert.Equal(t, 2.0, cfg.Buffer.MinAhead)
	assert.Equal(t, 10.0, cfg.Buffer.OptimalAhead)
	assert.Equal(t, 5*time.Second, cfg.Buffer.StallTimeout)
	assert.Equal(t, int64(50*1024*1024), cfg.Buffer.MaxBufferSize.Bytes())
	assert.Equal(t, 30.0, cfg.Buffer.RetentionWindow)
	assert.Equal(t, 0.15, cfg.Selection.SuccessGain)
	assert.Equal(t, 0.85, cfg.Selection.DecayFactor)
	assert.Equal(t, 3, cfg.Selection.RetryBudget)
	assert.Equal(t, 5*time.Second, cfg.Selection.Cooldown)
	assert.Equal(t, 0.8, cfg.Quality.Headroom)
	assert.Equal(t, 5*time.Second, cfg.Quality.MinSwitchInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.RecoveryWindow)
	assert.Equal(t, 3, cfg.Session.MaxProviderRetries)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.False(t, cfg.Status.Enabled)
}

func TestLoad_ProviderOverride(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("providers", []map[string]any{
		{"name": "edge-a", "endpoint": "https://a.example.com/{content}/{tier}"},
		{"name": "edge-b", "endpoint": "https://b.example.com/{content}/{tier}"},
	})

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "edge-a", cfg.Providers[0].Name)
	assert.Equal(t, "https://b.example.com/{content}/{tier}", cfg.Providers[1].Endpoint)
}

func TestLoad_HumanReadableSizes(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("buffer.max_buffer_size", "25MB")
	v.Set("fetch.cache_size", "1.5GB")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 25*MB, cfg.Buffer.MaxBufferSize)
	assert.Equal(t, ByteSize(1.5*float64(GB)), cfg.Fetch.CacheSize)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		cfg, err := Load(v)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "provider without name",
			mutate:  func(c *Config) { c.Providers = []ProviderSpec{{Endpoint: "https://x"}} },
			wantErr: "name is required",
		},
		{
			name:    "provider without endpoint",
			mutate:  func(c *Config) { c.Providers = []ProviderSpec{{Name: "x"}} },
			wantErr: "endpoint is required",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Fetch.Concurrency = 0 },
			wantErr: "fetch.concurrency",
		},
		{
			name:    "inverted buffer thresholds",
			mutate:  func(c *Config) { c.Buffer.MinAhead = 10; c.Buffer.OptimalAhead = 2 },
			wantErr: "buffer thresholds",
		},
		{
			name:    "decay factor out of range",
			mutate:  func(c *Config) { c.Selection.DecayFactor = 1.5 },
			wantErr: "decay_factor",
		},
		{
			name:    "headroom out of range",
			mutate:  func(c *Config) { c.Quality.Headroom = 0 },
			wantErr: "headroom",
		},
		{
			name:    "unsupported store driver",
			mutate:  func(c *Config) { c.Store.Driver = "cassandra" },
			wantErr: "store.driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
