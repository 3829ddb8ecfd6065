// Package config defines the configuration structure for a pool.Pool.
//
// Configuration mirrors spec §6's configuration surface: initial and
// autoscale-bound worker counts, the autoscale trigger, strict-mode
// toggle, and the health-check cadence. Defaults are applied via struct
// tags (github.com/creasty/defaults), and a PoolConfig can be loaded from
// environment variables or a config file via github.com/spf13/viper when
// a host program wants that — this package builds no CLI on top.
package config

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
)

// PoolConfig is the configuration surface from spec §6. The zero value is
// not meant to be used directly; call NewPoolConfig (or LoadFromViper) to
// get defaults applied.
type PoolConfig struct {
	// PoolSize is the initial worker count. Default: host parallelism,
	// resolved at New time (zero here means "unset", not "zero workers").
	PoolSize int `mapstructure:"pool_size"`
	// MinPoolSize, MaxPoolSize bound autoscaling.
	MinPoolSize int `mapstructure:"min_pool_size" default:"1"`
	MaxPoolSize int `mapstructure:"max_pool_size" default:"32"`
	// AutoScale enables on-enqueue scale-up.
	AutoScale bool `mapstructure:"auto_scale" default:"false"`
	// ScaleUpThreshold is the queue depth that triggers scale-up.
	ScaleUpThreshold int `mapstructure:"scale_up_threshold" default:"8"`
	// ScaleDownDelay is the idle duration before a worker is eligible for
	// retirement. pool.Pool never retires idle workers, so nothing in
	// pkg/pool reads this value.
	ScaleDownDelay time.Duration `mapstructure:"scale_down_delay" default:"30s"`
	// StrictMode enables the input validator. Default: on.
	StrictMode bool `mapstructure:"strict_mode" default:"true"`
	// HealthCheckInterval is how often the stall check runs.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" default:"5s"`
	// MaxInactivity is how long a bound worker may go without a heartbeat
	// before the health check treats it as stalled.
	MaxInactivity time.Duration `mapstructure:"max_inactivity" default:"60s"`
}

// Option mutates a PoolConfig, in the shape the teacher's optgen
// code-generation produces for its own Configuration type.
type Option func(*PoolConfig)

func WithPoolSize(n int) Option            { return func(c *PoolConfig) { c.PoolSize = n } }
func WithMinPoolSize(n int) Option         { return func(c *PoolConfig) { c.MinPoolSize = n } }
func WithMaxPoolSize(n int) Option         { return func(c *PoolConfig) { c.MaxPoolSize = n } }
func WithAutoScale(enabled bool) Option    { return func(c *PoolConfig) { c.AutoScale = enabled } }
func WithScaleUpThreshold(n int) Option    { return func(c *PoolConfig) { c.ScaleUpThreshold = n } }
func WithScaleDownDelay(d time.Duration) Option {
	return func(c *PoolConfig) { c.ScaleDownDelay = d }
}
func WithStrictMode(enabled bool) Option { return func(c *PoolConfig) { c.StrictMode = enabled } }
func WithHealthCheckInterval(d time.Duration) Option {
	return func(c *PoolConfig) { c.HealthCheckInterval = d }
}
func WithMaxInactivity(d time.Duration) Option {
	return func(c *PoolConfig) { c.MaxInactivity = d }
}

// NewPoolConfig returns a PoolConfig with struct-tag defaults applied and
// opts layered on top.
func NewPoolConfig(opts ...Option) (PoolConfig, error) {
	cfg := PoolConfig{}
	if err := defaults.Set(&cfg); err != nil {
		return PoolConfig{}, fmt.Errorf("config: applying defaults: %w", err)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, nil
}

// LoadFromViper reads a PoolConfig out of v, applying struct-tag defaults
// first so unset keys still resolve sensibly. Every PoolConfig key is bound
// to its environment variable (honouring v's env prefix), since Unmarshal
// does not consult the environment for keys v has not otherwise seen.
func LoadFromViper(v *viper.Viper) (PoolConfig, error) {
	cfg := PoolConfig{}
	if err := defaults.Set(&cfg); err != nil {
		return PoolConfig{}, fmt.Errorf("config: applying defaults: %w", err)
	}
	for _, key := range []string{
		"pool_size", "min_pool_size", "max_pool_size", "auto_scale",
		"scale_up_threshold", "scale_down_delay", "strict_mode",
		"health_check_interval", "max_inactivity",
	} {
		if err := v.BindEnv(key); err != nil {
			return PoolConfig{}, fmt.Errorf("config: binding env for %q: %w", key, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return PoolConfig{}, fmt.Errorf("config: unmarshalling viper config: %w", err)
	}
	return cfg, nil
}
