package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "mixed", cfg.Workload)
	assert.Equal(t, 5*time.Second, cfg.Duration)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Zero(t, cfg.Rate)
	assert.Equal(t, 1000, cfg.Keys)
	assert.Equal(t, int32(8), cfg.Pool.Size)
	assert.Equal(t, time.Minute, cfg.Pool.Idle)
	assert.Equal(t, 10*time.Second, cfg.Pool.HealthCheck)
	assert.True(t, cfg.Pool.Breaker)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_Priority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	err := os.WriteFile(path, []byte(`
workload: values
duration: 2s
concurrency: 2
pool:
  size: 3
  breaker: false
metrics:
  addr: ":9100"
`), 0o600)
	require.NoError(t, err)

	t.Setenv("KVTEMPLATE_CONCURRENCY", "6")
	t.Setenv("KVTEMPLATE_POOL_SIZE", "5")

	cfg, err := loadConfig(path, map[string]any{
		"pool.size": 7,
		"rate":      250.0,
	})
	require.NoError(t, err)

	assert.Equal(t, "values", cfg.Workload, "file")
	assert.Equal(t, 2*time.Second, cfg.Duration, "file")
	assert.Equal(t, 6, cfg.Concurrency, "env over file")
	assert.Equal(t, int32(7), cfg.Pool.Size, "flag over env")
	assert.Equal(t, 250.0, cfg.Rate, "flag")
	assert.False(t, cfg.Pool.Breaker)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, 1000, cfg.Keys, "default")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		want      string
	}{
		{"workload", map[string]any{"workload": "nope"}, `unknown workload "nope"`},
		{"duration", map[string]any{"duration": "0s"}, "duration must be positive"},
		{"concurrency", map[string]any{"concurrency": 0}, "concurrency must be positive"},
		{"rate", map[string]any{"rate": -1}, "rate must not be negative"},
		{"keys", map[string]any{"keys": 0}, "keys must be positive"},
		{"pool size", map[string]any{"pool.size": 0}, "pool.size must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig("", tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
