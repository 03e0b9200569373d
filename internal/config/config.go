// Package config loads and validates mintwatch configuration from an
// optional YAML file, MINTWATCH_ environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/solwatch/mintwatch/internal/logging"
	"github.com/solwatch/mintwatch/internal/types"
	"github.com/solwatch/mintwatch/pkg/governor"
	"github.com/solwatch/mintwatch/pkg/scheduler"
	"github.com/solwatch/mintwatch/pkg/snapshot"
	"github.com/solwatch/mintwatch/pkg/status"
)

// envPrefix namespaces environment variables, e.g. MINTWATCH_MINT.
const envPrefix = "MINTWATCH"

// Config is the full mintwatch configuration.
type Config struct {
	// Mint is the token mint address to monitor.
	Mint string `mapstructure:"mint"`

	// Endpoints are the JSON-RPC endpoint URLs.
	Endpoints []string `mapstructure:"endpoints"`

	// TargetMarketCapSol is the SOL market cap that counts as 100%.
	TargetMarketCapSol float64 `mapstructure:"target_market_cap_sol"`

	// MarketDataURL overrides the market data API base URL.
	MarketDataURL string `mapstructure:"market_data_url"`

	// OutputDir is where snapshot artifacts are written.
	OutputDir string `mapstructure:"output_dir"`

	// DataDir holds the holder and history databases.
	DataDir string `mapstructure:"data_dir"`

	// Compress enables zstd compression of CSV artifacts.
	Compress bool `mapstructure:"compress"`

	Governor  GovernorConfig  `mapstructure:"governor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Status    StatusConfig    `mapstructure:"status"`
	Log       LogConfig       `mapstructure:"log"`
}

// GovernorConfig configures request pacing and the circuit breaker.
type GovernorConfig struct {
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RequestDelay       time.Duration `mapstructure:"request_delay"`
	MaxRequestDelay    time.Duration `mapstructure:"max_request_delay"`
	RequestDelayGrowth float64       `mapstructure:"request_delay_growth"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffGrowth      float64       `mapstructure:"backoff_growth"`
	JitterRange        time.Duration `mapstructure:"jitter_range"`
	EndpointCooldown   time.Duration `mapstructure:"endpoint_cooldown"`
	BreakerThreshold   int           `mapstructure:"breaker_threshold"`
	BreakerWindow      time.Duration `mapstructure:"breaker_window"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
}

// SchedulerConfig configures the adaptive snapshot cadence.
type SchedulerConfig struct {
	Tick          time.Duration   `mapstructure:"tick"`
	CheckInterval time.Duration   `mapstructure:"check_interval"`
	Thresholds    []float64       `mapstructure:"thresholds"`
	Intervals     []time.Duration `mapstructure:"intervals"`
	ErrorPause    time.Duration   `mapstructure:"error_pause"`
}

// StatusConfig configures the status HTTP server.
type StatusConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from the given file (optional), the
// environment, and defaults, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("mintwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys must be registered for environment-only values to be seen
	// by Unmarshal.
	v.SetDefault("mint", "")
	v.SetDefault("endpoints", []string{})
	v.SetDefault("target_market_cap_sol", 0.0)
	v.SetDefault("market_data_url", "")
	v.SetDefault("log.file", "")
	v.SetDefault("output_dir", "snapshots")
	v.SetDefault("data_dir", "data")
	v.SetDefault("compress", false)

	gov := governor.DefaultConfig()
	v.SetDefault("governor.request_timeout", gov.RequestTimeout)
	v.SetDefault("governor.request_delay", gov.RequestDelay)
	v.SetDefault("governor.max_request_delay", gov.MaxRequestDelay)
	v.SetDefault("governor.request_delay_growth", gov.RequestDelayGrowth)
	v.SetDefault("governor.max_retries", gov.MaxRetries)
	v.SetDefault("governor.backoff_base", gov.BackoffBase)
	v.SetDefault("governor.backoff_growth", gov.BackoffGrowth)
	v.SetDefault("governor.jitter_range", gov.JitterRange)
	v.SetDefault("governor.endpoint_cooldown", gov.EndpointCooldown)
	v.SetDefault("governor.breaker_threshold", gov.BreakerThreshold)
	v.SetDefault("governor.breaker_window", gov.BreakerWindow)
	v.SetDefault("governor.breaker_cooldown", gov.BreakerCooldown)

	sched := scheduler.DefaultConfig()
	v.SetDefault("scheduler.tick", sched.Tick)
	v.SetDefault("scheduler.check_interval", sched.CheckInterval)
	v.SetDefault("scheduler.thresholds", sched.Thresholds)
	v.SetDefault("scheduler.intervals", sched.Intervals)
	v.SetDefault("scheduler.error_pause", sched.ErrorPause)

	st := status.DefaultConfig()
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.bind_address", st.BindAddress)
	v.SetDefault("status.port", st.Port)

	log := logging.DefaultConfig()
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.format", log.Format)
}

// Validate checks the configuration, aggregating every problem into
// one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Mint == "" {
		errs = append(errs, errors.New("mint is required"))
	} else if err := types.ValidateAddress(c.Mint); err != nil {
		errs = append(errs, fmt.Errorf("mint: %w", err))
	}
	if len(c.Endpoints) == 0 {
		errs = append(errs, errors.New("at least one RPC endpoint is required"))
	}
	for _, url := range c.Endpoints {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			errs = append(errs, fmt.Errorf("endpoint %q must be an http(s) URL", url))
		}
	}
	if c.TargetMarketCapSol <= 0 {
		errs = append(errs, errors.New("target_market_cap_sol must be positive"))
	}
	if err := c.SchedulerConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	return errors.Join(errs...)
}

// GovernorConfig converts to the governor package's configuration.
func (c *Config) GovernorConfig() governor.Config {
	return governor.Config{
		RequestTimeout:     c.Governor.RequestTimeout,
		RequestDelay:       c.Governor.RequestDelay,
		MaxRequestDelay:    c.Governor.MaxRequestDelay,
		RequestDelayGrowth: c.Governor.RequestDelayGrowth,
		MaxRetries:         c.Governor.MaxRetries,
		BackoffBase:        c.Governor.BackoffBase,
		BackoffGrowth:      c.Governor.BackoffGrowth,
		JitterRange:        c.Governor.JitterRange,
		EndpointCooldown:   c.Governor.EndpointCooldown,
		BreakerThreshold:   c.Governor.BreakerThreshold,
		BreakerWindow:      c.Governor.BreakerWindow,
		BreakerCooldown:    c.Governor.BreakerCooldown,
	}
}

// SchedulerConfig converts to the scheduler package's configuration.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Tick:          c.Scheduler.Tick,
		CheckInterval: c.Scheduler.CheckInterval,
		Thresholds:    c.Scheduler.Thresholds,
		Intervals:     c.Scheduler.Intervals,
		ErrorPause:    c.Scheduler.ErrorPause,
	}.WithDefaults()
}

// SnapshotConfig converts to the snapshot package's configuration.
func (c *Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		OutputDir: c.OutputDir,
		Compress:  c.Compress,
	}
}

// StatusConfig converts to the status package's configuration.
func (c *Config) StatusConfig() status.Config {
	cfg := status.DefaultConfig()
	if c.Status.BindAddress != "" {
		cfg.BindAddress = c.Status.BindAddress
	}
	if c.Status.Port != 0 {
		cfg.Port = c.Status.Port
	}
	return cfg
}

// LoggingConfig converts to the logging package's configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Log.Level != "" {
		cfg.Level = c.Log.Level
	}
	if c.Log.Format != "" {
		cfg.Format = c.Log.Format
	}
	cfg.File = c.Log.File
	return cfg
}
