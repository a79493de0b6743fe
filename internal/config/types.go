package config

import (
	"time"

	"github.com/doridoridoriand/keepitup/internal/state"
)

// MetricsMode describes the granularity of exported node metrics.
type MetricsMode string

const (
	MetricsModePerTarget  MetricsMode = "per-target"
	MetricsModeAggregated MetricsMode = "aggregated"
	MetricsModeBoth       MetricsMode = "both"
)

// Registry backends.
const (
	RegistryBackendDatabase = "database"
	RegistryBackendFile     = "file"
)

// Time series backends.
const (
	TimeseriesBackendRedis  = "redis"
	TimeseriesBackendMemory = "memory"
)

// ProbeOptions controls how and how often nodes are pinged.
type ProbeOptions struct {
	// Interval is the time between two probes of the same node.
	Interval time.Duration `mapstructure:"interval"`
	// Timeout is how long one slice waits for echo replies.
	Timeout        time.Duration `mapstructure:"timeout"`
	Backend        string        `mapstructure:"backend"`
	Privileged     bool          `mapstructure:"privileged"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// HealthOptions are the waiting gate and hysteresis settings.
type HealthOptions struct {
	ShortWindow  time.Duration `mapstructure:"short_window"`
	ShortMin     int           `mapstructure:"short_min"`
	LongWindow   time.Duration `mapstructure:"long_window"`
	LongMin      int           `mapstructure:"long_min"`
	LossWindow   time.Duration `mapstructure:"loss_window"`
	AlarmRatio   float64       `mapstructure:"alarm_ratio"`
	ResolveRatio float64       `mapstructure:"resolve_ratio"`
}

// Thresholds converts the options for the state machine.
func (h HealthOptions) Thresholds() state.Thresholds {
	return state.Thresholds{
		ShortWindow:  h.ShortWindow,
		ShortMin:     h.ShortMin,
		LongWindow:   h.LongWindow,
		LongMin:      h.LongMin,
		LossWindow:   h.LossWindow,
		AlarmRatio:   h.AlarmRatio,
		ResolveRatio: h.ResolveRatio,
	}
}

type DatabaseOptions struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Verbose bool   `mapstructure:"verbose"`
}

type RegistryOptions struct {
	Backend string `mapstructure:"backend"`
	File    string `mapstructure:"file"`
}

type TimeseriesOptions struct {
	Backend    string   `mapstructure:"backend"`
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	KeyPrefix  string   `mapstructure:"key_prefix"`
	// Retention trims stored points older than this. Zero keeps the full
	// history.
	Retention time.Duration `mapstructure:"retention"`
}

type DiscoveryOptions struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsOptions struct {
	Listen string      `mapstructure:"listen"`
	Mode   MetricsMode `mapstructure:"mode"`
}

type NotifyOptions struct {
	BaseURL string `mapstructure:"base_url"`
}

type LogOptions struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the full service configuration.
type Config struct {
	Probe  ProbeOptions  `mapstructure:"probe"`
	Health HealthOptions `mapstructure:"health"`
	// Retention is how long samples stay in memory after being committed.
	Retention  time.Duration     `mapstructure:"retention"`
	Database   DatabaseOptions   `mapstructure:"database"`
	Registry   RegistryOptions   `mapstructure:"registry"`
	Timeseries TimeseriesOptions `mapstructure:"timeseries"`
	Discovery  DiscoveryOptions  `mapstructure:"discovery"`
	Metrics    MetricsOptions    `mapstructure:"metrics"`
	Notify     NotifyOptions     `mapstructure:"notify"`
	Log        LogOptions        `mapstructure:"log"`
}

// SliceCount is how many slices one probe interval is divided into.
func (c Config) SliceCount() int {
	if c.Probe.Timeout <= 0 {
		return 1
	}
	n := int(c.Probe.Interval / c.Probe.Timeout)
	if n < 1 {
		return 1
	}
	return n
}

// CLIOverrides holds optional CLI values that override file and
// environment values.
type CLIOverrides struct {
	Interval       *time.Duration
	Timeout        *time.Duration
	MaxConcurrency *int
	Backend        *string
	Privileged     *bool
	MetricsMode    *MetricsMode
	MetricsListen  *string
	LogLevel       *string
}
