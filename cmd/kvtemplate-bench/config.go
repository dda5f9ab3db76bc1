package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix prefixes the environment variables read by the loader.
// KVTEMPLATE_POOL_SIZE=4 sets pool.size.
const envPrefix = "KVTEMPLATE_"

type benchConfig struct {
	Workload    string        `koanf:"workload"`
	Duration    time.Duration `koanf:"duration"`
	Concurrency int           `koanf:"concurrency"`
	Rate        float64       `koanf:"rate"` // operations per second, 0 is unlimited
	Keys        int           `koanf:"keys"`

	Pool    poolConfig    `koanf:"pool"`
	Metrics metricsConfig `koanf:"metrics"`
	Log     logConfig     `koanf:"log"`
}

type poolConfig struct {
	Size        int32         `koanf:"size"`
	Lifetime    time.Duration `koanf:"lifetime"`
	Idle        time.Duration `koanf:"idle"`
	HealthCheck time.Duration `koanf:"healthcheck"`
	Breaker     bool          `koanf:"breaker"`
}

type metricsConfig struct {
	Addr string `koanf:"addr"` // empty disables the /metrics endpoint
}

type logConfig struct {
	Level string `koanf:"level"`
}

func defaultConfig() map[string]any {
	return map[string]any{
		"workload":         "mixed",
		"duration":         "5s",
		"concurrency":      4,
		"rate":             0,
		"keys":             1000,
		"pool.size":        8,
		"pool.lifetime":    "0s",
		"pool.idle":        "1m",
		"pool.healthcheck": "10s",
		"pool.breaker":     true,
		"metrics.addr":     "",
		"log.level":        "info",
	}
}

// loadConfig merges, from lowest to highest priority, the defaults, the
// YAML file at path, the environment and the flag overrides. Keys of
// overrides are dotted paths such as "pool.size".
func loadConfig(path string, overrides map[string]any) (benchConfig, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(maps.Unflatten(defaultConfig(), ".")), nil); err != nil {
		return benchConfig{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return benchConfig{}, fmt.Errorf("load file %s: %w", path, err)
		}
	}

	// KVTEMPLATE_POOL_HEALTHCHECK -> pool.healthcheck
	envTransformer := func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", ".")
	}
	if err := k.Load(env.Provider(envPrefix, ".", envTransformer), nil); err != nil {
		return benchConfig{}, fmt.Errorf("load env: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(mapProvider(maps.Unflatten(overrides, ".")), nil); err != nil {
			return benchConfig{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg benchConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return benchConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c benchConfig) validate() error {
	var errs []error
	if _, ok := workloads[c.Workload]; !ok {
		errs = append(errs, fmt.Errorf("unknown workload %q (valid: %s)", c.Workload, strings.Join(workloadNames(), ", ")))
	}
	if c.Duration <= 0 {
		errs = append(errs, errors.New("duration must be positive"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Rate < 0 {
		errs = append(errs, errors.New("rate must not be negative"))
	}
	if c.Keys <= 0 {
		errs = append(errs, errors.New("keys must be positive"))
	}
	if c.Pool.Size <= 0 {
		errs = append(errs, errors.New("pool.size must be positive"))
	}
	return errors.Join(errs...)
}

var errReadBytesNotSupported = errors.New("map provider does not support ReadBytes")

// mapProvider is a koanf.Provider over an in-memory map.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
