package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/doridoridoriand/keepitup/internal/config"
)

// OptionalDuration records a duration flag and whether it was set.
type OptionalDuration struct {
	value time.Duration
	set   bool
}

func (o *OptionalDuration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalDuration) String() string {
	if !o.set {
		return ""
	}
	return o.value.String()
}

func (o *OptionalDuration) Type() string { return "duration" }

func (o *OptionalDuration) Value() (time.Duration, bool) {
	return o.value, o.set
}

// OptionalInt records an int flag and whether it was set.
type OptionalInt struct {
	value int
	set   bool
}

func (o *OptionalInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalInt) String() string {
	if !o.set {
		return ""
	}
	return strconv.Itoa(o.value)
}

func (o *OptionalInt) Type() string { return "int" }

func (o *OptionalInt) Value() (int, bool) {
	return o.value, o.set
}

// OptionalString records a string flag and whether it was set.
type OptionalString struct {
	value string
	set   bool
}

func (o *OptionalString) Set(s string) error {
	o.value = s
	o.set = true
	return nil
}

func (o *OptionalString) String() string {
	if !o.set {
		return ""
	}
	return o.value
}

func (o *OptionalString) Type() string { return "string" }

func (o *OptionalString) Value() (string, bool) {
	return o.value, o.set
}

// OptionalBool records a bool flag and whether it was set.
type OptionalBool struct {
	value bool
	set   bool
}

func (o *OptionalBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalBool) String() string {
	if !o.set {
		return ""
	}
	if o.value {
		return "true"
	}
	return "false"
}

func (o *OptionalBool) Type() string { return "bool" }

func (o *OptionalBool) IsBoolFlag() bool {
	return true
}

func (o *OptionalBool) Value() (bool, bool) {
	return o.value, o.set
}

// OptionalMetricsMode records a metrics mode flag and whether it was set.
type OptionalMetricsMode struct {
	value config.MetricsMode
	set   bool
}

func (o *OptionalMetricsMode) Set(s string) error {
	mode := config.MetricsMode(s)
	switch mode {
	case config.MetricsModePerTarget, config.MetricsModeAggregated, config.MetricsModeBoth:
	default:
		return fmt.Errorf("invalid metrics mode: %q (valid values: per-target, aggregated, both)", s)
	}
	o.value = mode
	o.set = true
	return nil
}

func (o *OptionalMetricsMode) String() string {
	if !o.set {
		return ""
	}
	return string(o.value)
}

func (o *OptionalMetricsMode) Type() string { return "mode" }

func (o *OptionalMetricsMode) Value() (config.MetricsMode, bool) {
	return o.value, o.set
}

// OverrideFlags are the command line values that win over the config file
// and the environment.
type OverrideFlags struct {
	Interval       OptionalDuration
	Timeout        OptionalDuration
	MaxConcurrency OptionalInt
	Backend        OptionalString
	Privileged     OptionalBool
	MetricsMode    OptionalMetricsMode
	MetricsListen  OptionalString
	LogLevel       OptionalString
}

// Register adds the override flags to fs.
func (f *OverrideFlags) Register(fs *pflag.FlagSet) {
	fs.VarP(&f.Interval, "interval", "i", "probe interval per node (override config)")
	fs.VarP(&f.Timeout, "timeout", "t", "probe timeout, also the slice length (override config)")
	fs.Var(&f.MaxConcurrency, "max-concurrency", "max concurrent pings for fan-out backends (override config)")
	fs.Var(&f.Backend, "backend", "probe backend: auto|icmp|pinger|external")
	fs.Var(&f.Privileged, "privileged", "use raw ICMP sockets")
	fs.Lookup("privileged").NoOptDefVal = "true"
	fs.Var(&f.MetricsMode, "metrics-mode", "metrics mode: per-target|aggregated|both")
	fs.Var(&f.MetricsListen, "metrics-listen", "metrics listen address (e.g. :9100)")
	fs.Var(&f.LogLevel, "log-level", "log level: debug|info|warn|error")
}

// Overrides converts the set flags.
func (f *OverrideFlags) Overrides() config.CLIOverrides {
	overrides := config.CLIOverrides{}

	if v, ok := f.Interval.Value(); ok {
		value := v
		overrides.Interval = &value
	}
	if v, ok := f.Timeout.Value(); ok {
		value := v
		overrides.Timeout = &value
	}
	if v, ok := f.MaxConcurrency.Value(); ok {
		value := v
		overrides.MaxConcurrency = &value
	}
	if v, ok := f.Backend.Value(); ok && v != "" {
		value := v
		overrides.Backend = &value
	}
	if v, ok := f.Privileged.Value(); ok {
		value := v
		overrides.Privileged = &value
	}
	if v, ok := f.MetricsMode.Value(); ok {
		value := v
		overrides.MetricsMode = &value
	}
	if v, ok := f.MetricsListen.Value(); ok && v != "" {
		value := v
		overrides.MetricsListen = &value
	}
	if v, ok := f.LogLevel.Value(); ok && v != "" {
		value := v
		overrides.LogLevel = &value
	}

	return overrides
}
