package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. KEEPITUP_PROBE_TIMEOUT.
const EnvPrefix = "KEEPITUP"

// Default returns the settings used when neither file nor environment set
// a key.
func Default() Config {
	return Config{
		Probe: ProbeOptions{
			Interval:       15 * time.Second,
			Timeout:        time.Second,
			Backend:        "auto",
			MaxConcurrency: 0,
		},
		Health: HealthOptions{
			ShortWindow:  time.Minute,
			ShortMin:     1,
			LongWindow:   5 * time.Minute,
			LongMin:      5,
			LossWindow:   60 * time.Minute,
			AlarmRatio:   0.9,
			ResolveRatio: 0.3,
		},
		Retention: 70 * time.Minute,
		Database: DatabaseOptions{
			Driver: "sqlite",
			DSN:    "keepitup.db",
		},
		Registry: RegistryOptions{
			Backend: RegistryBackendDatabase,
		},
		Timeseries: TimeseriesOptions{
			Backend:   TimeseriesBackendRedis,
			Addrs:     []string{"127.0.0.1:6379"},
			KeyPrefix: "keepitup",
		},
		Discovery: DiscoveryOptions{
			Timeout: 30 * time.Second,
		},
		Metrics: MetricsOptions{
			Mode: MetricsModePerTarget,
		},
		Log: LogOptions{
			Level:      "info",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("probe.interval", d.Probe.Interval)
	v.SetDefault("probe.timeout", d.Probe.Timeout)
	v.SetDefault("probe.backend", d.Probe.Backend)
	v.SetDefault("probe.privileged", d.Probe.Privileged)
	v.SetDefault("probe.max_concurrency", d.Probe.MaxConcurrency)

	v.SetDefault("health.short_window", d.Health.ShortWindow)
	v.SetDefault("health.short_min", d.Health.ShortMin)
	v.SetDefault("health.long_window", d.Health.LongWindow)
	v.SetDefault("health.long_min", d.Health.LongMin)
	v.SetDefault("health.loss_window", d.Health.LossWindow)
	v.SetDefault("health.alarm_ratio", d.Health.AlarmRatio)
	v.SetDefault("health.resolve_ratio", d.Health.ResolveRatio)

	v.SetDefault("retention", d.Retention)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.verbose", d.Database.Verbose)

	v.SetDefault("registry.backend", d.Registry.Backend)
	v.SetDefault("registry.file", d.Registry.File)

	v.SetDefault("timeseries.backend", d.Timeseries.Backend)
	v.SetDefault("timeseries.addrs", d.Timeseries.Addrs)
	v.SetDefault("timeseries.master_name", d.Timeseries.MasterName)
	v.SetDefault("timeseries.username", d.Timeseries.Username)
	v.SetDefault("timeseries.password", d.Timeseries.Password)
	v.SetDefault("timeseries.db", d.Timeseries.DB)
	v.SetDefault("timeseries.key_prefix", d.Timeseries.KeyPrefix)
	v.SetDefault("timeseries.retention", d.Timeseries.Retention)

	v.SetDefault("discovery.url", d.Discovery.URL)
	v.SetDefault("discovery.timeout", d.Discovery.Timeout)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.mode", string(d.Metrics.Mode))

	v.SetDefault("notify.base_url", d.Notify.BaseURL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.compress", d.Log.Compress)
}

// Load reads the YAML file at path (optional), applies KEEPITUP_*
// environment variables and then the CLI overrides.
func Load(path string, overrides CLIOverrides) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.ApplyOverrides(overrides)
	cfg.Metrics.Listen = normalizeListen(cfg.Metrics.Listen)
	return &cfg, nil
}

// ApplyOverrides copies every set override onto c.
func (c *Config) ApplyOverrides(overrides CLIOverrides) {
	if overrides.Interval != nil {
		c.Probe.Interval = *overrides.Interval
	}
	if overrides.Timeout != nil {
		c.Probe.Timeout = *overrides.Timeout
	}
	if overrides.MaxConcurrency != nil {
		c.Probe.MaxConcurrency = *overrides.MaxConcurrency
	}
	if overrides.Backend != nil {
		c.Probe.Backend = *overrides.Backend
	}
	if overrides.Privileged != nil {
		c.Probe.Privileged = *overrides.Privileged
	}
	if overrides.MetricsMode != nil {
		c.Metrics.Mode = *overrides.MetricsMode
	}
	if overrides.MetricsListen != nil {
		c.Metrics.Listen = normalizeListen(*overrides.MetricsListen)
	}
	if overrides.LogLevel != nil {
		c.Log.Level = *overrides.LogLevel
	}
}

// normalizeListen turns a bare port into ":port".
func normalizeListen(value string) string {
	if isDigits(value) {
		return ":" + value
	}
	return value
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Validate reports every invalid setting at once. Settings that work but
// are probably unintended are returned as warnings.
func (c *Config) Validate() (warnings []string, err error) {
	var errs *multierror.Error
	add := func(format string, args ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if c.Probe.Timeout <= 0 {
		add("probe.timeout must be positive, got %s", c.Probe.Timeout)
	}
	if c.Probe.Interval < c.Probe.Timeout {
		add("probe.interval (%s) must not be shorter than probe.timeout (%s)", c.Probe.Interval, c.Probe.Timeout)
	}
	if c.Probe.MaxConcurrency < 0 {
		add("probe.max_concurrency must not be negative")
	}

	h := c.Health
	if h.ShortWindow <= 0 || h.LongWindow <= 0 || h.LossWindow <= 0 {
		add("health windows must be positive")
	}
	if h.ShortMin < 1 || h.LongMin < 1 {
		add("health.short_min and health.long_min must be at least 1")
	}
	if h.AlarmRatio <= 0 || h.AlarmRatio >= 1 {
		add("health.alarm_ratio must be in (0,1), got %v", h.AlarmRatio)
	}
	if h.ResolveRatio <= 0 || h.ResolveRatio >= 1 {
		add("health.resolve_ratio must be in (0,1), got %v", h.ResolveRatio)
	}
	if h.ResolveRatio >= h.AlarmRatio {
		add("health.resolve_ratio (%v) must be below health.alarm_ratio (%v)", h.ResolveRatio, h.AlarmRatio)
	}
	if c.Retention <= 0 {
		add("retention must be positive")
	}

	switch c.Metrics.Mode {
	case MetricsModePerTarget, MetricsModeAggregated, MetricsModeBoth:
	default:
		add("invalid metrics.mode: %q", c.Metrics.Mode)
	}
	switch c.Registry.Backend {
	case RegistryBackendDatabase:
	case RegistryBackendFile:
		if c.Registry.File == "" {
			add("registry.file is required for the file backend")
		}
	default:
		add("invalid registry.backend: %q", c.Registry.Backend)
	}
	switch c.Timeseries.Backend {
	case TimeseriesBackendMemory:
	case TimeseriesBackendRedis:
		if len(c.Timeseries.Addrs) == 0 {
			add("timeseries.addrs is required for the redis backend")
		}
	default:
		add("invalid timeseries.backend: %q", c.Timeseries.Backend)
	}
	if c.Timeseries.Retention < 0 {
		add("timeseries.retention must not be negative")
	}

	if c.Retention > 0 && c.Retention < h.LossWindow {
		warnings = append(warnings, fmt.Sprintf(
			"retention (%s) is shorter than health.loss_window (%s); loss ratios only cover retained samples",
			c.Retention, h.LossWindow))
	}
	if c.Timeseries.Retention > 0 && c.Timeseries.Retention < c.Retention {
		warnings = append(warnings, fmt.Sprintf(
			"timeseries.retention (%s) is shorter than retention (%s); restarts rehydrate less history",
			c.Timeseries.Retention, c.Retention))
	}
	if c.Timeseries.Backend == TimeseriesBackendMemory {
		warnings = append(warnings, "timeseries.backend is memory; samples are lost on restart")
	}

	if err := errs.ErrorOrNil(); err != nil {
		return warnings, err
	}
	return warnings, nil
}
