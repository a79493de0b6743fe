package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keepitup.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", CLIOverrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if cfg.Probe != def.Probe || cfg.Health != def.Health || cfg.Retention != def.Retention {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.Timeseries.Retention != 0 {
		t.Fatalf("stored history must be kept by default, got %s", cfg.Timeseries.Retention)
	}
	if cfg.SliceCount() != 15 {
		t.Fatalf("expected 15 slices, got %d", cfg.SliceCount())
	}
	if _, err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeTempConfig(t, `
probe:
  interval: 30s
  timeout: 2s
  backend: pinger
  max_concurrency: 64
health:
  alarm_ratio: 0.8
  loss_window: 30m
retention: 45m
registry:
  backend: file
  file: /etc/keepitup/nodes.yaml
timeseries:
  backend: redis
  addrs: ["10.0.0.1:6379", "10.0.0.2:6379"]
  db: 2
  retention: 720h
metrics:
  listen: "9100"
  mode: both
notify:
  base_url: https://status.example.org
`)
	cfg, err := Load(path, CLIOverrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Probe.Interval != 30*time.Second || cfg.Probe.Timeout != 2*time.Second {
		t.Fatalf("unexpected probe options %+v", cfg.Probe)
	}
	if cfg.Probe.Backend != "pinger" || cfg.Probe.MaxConcurrency != 64 {
		t.Fatalf("unexpected probe options %+v", cfg.Probe)
	}
	if cfg.Health.AlarmRatio != 0.8 || cfg.Health.ResolveRatio != 0.3 || cfg.Health.LossWindow != 30*time.Minute {
		t.Fatalf("unexpected health options %+v", cfg.Health)
	}
	if cfg.Retention != 45*time.Minute {
		t.Fatalf("unexpected retention %s", cfg.Retention)
	}
	if len(cfg.Timeseries.Addrs) != 2 || cfg.Timeseries.DB != 2 || cfg.Timeseries.Retention != 720*time.Hour {
		t.Fatalf("unexpected timeseries options %+v", cfg.Timeseries)
	}
	if cfg.Metrics.Listen != ":9100" || cfg.Metrics.Mode != MetricsModeBoth {
		t.Fatalf("unexpected metrics options %+v", cfg.Metrics)
	}
	if cfg.Notify.BaseURL != "https://status.example.org" {
		t.Fatalf("unexpected notify options %+v", cfg.Notify)
	}
	if cfg.SliceCount() != 15 {
		t.Fatalf("expected 15 slices, got %d", cfg.SliceCount())
	}
	if th := cfg.Health.Thresholds(); th.AlarmRatio != 0.8 || th.LongMin != 5 {
		t.Fatalf("unexpected thresholds %+v", th)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("KEEPITUP_PROBE_TIMEOUT", "3s")
	t.Setenv("KEEPITUP_TIMESERIES_ADDRS", "a:6379,b:6379")
	t.Setenv("KEEPITUP_LOG_LEVEL", "debug")

	cfg, err := Load("", CLIOverrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Probe.Timeout != 3*time.Second {
		t.Fatalf("expected env timeout, got %s", cfg.Probe.Timeout)
	}
	if len(cfg.Timeseries.Addrs) != 2 || cfg.Timeseries.Addrs[1] != "b:6379" {
		t.Fatalf("expected env addrs, got %v", cfg.Timeseries.Addrs)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected env log level, got %s", cfg.Log.Level)
	}
}

func TestOverridesWin(t *testing.T) {
	t.Setenv("KEEPITUP_PROBE_TIMEOUT", "3s")
	path := writeTempConfig(t, "probe:\n  timeout: 4s\n  interval: 20s\n")

	timeout := 500 * time.Millisecond
	listen := "9200"
	mode := MetricsModeAggregated
	privileged := true
	cfg, err := Load(path, CLIOverrides{
		Timeout:       &timeout,
		MetricsListen: &listen,
		MetricsMode:   &mode,
		Privileged:    &privileged,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Probe.Timeout != timeout || cfg.Probe.Interval != 20*time.Second {
		t.Fatalf("unexpected probe options %+v", cfg.Probe)
	}
	if cfg.Metrics.Listen != ":9200" || cfg.Metrics.Mode != MetricsModeAggregated || !cfg.Probe.Privileged {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), CLIOverrides{}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.Probe.Timeout = 0 }, "probe.timeout"},
		{"interval below timeout", func(c *Config) { c.Probe.Interval = 500 * time.Millisecond }, "probe.interval"},
		{"alarm ratio out of range", func(c *Config) { c.Health.AlarmRatio = 1 }, "health.alarm_ratio"},
		{"inverted band", func(c *Config) { c.Health.ResolveRatio = 0.95 }, "must be below"},
		{"bad metrics mode", func(c *Config) { c.Metrics.Mode = "all" }, "metrics.mode"},
		{"file registry without path", func(c *Config) { c.Registry.Backend = RegistryBackendFile }, "registry.file"},
		{"unknown timeseries", func(c *Config) { c.Timeseries.Backend = "influx" }, "timeseries.backend"},
		{"negative timeseries retention", func(c *Config) { c.Timeseries.Retention = -time.Hour }, "timeseries.retention"},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		_, err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Probe.Timeout = 0
	cfg.Metrics.Mode = "all"
	_, err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "probe.timeout") || !strings.Contains(err.Error(), "metrics.mode") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := Default()
	cfg.Retention = 30 * time.Minute
	cfg.Timeseries.Backend = TimeseriesBackendMemory
	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
}

func TestSliceCount(t *testing.T) {
	cases := []struct {
		interval, timeout time.Duration
		want              int
	}{
		{60 * time.Second, 5 * time.Second, 12},
		{10 * time.Second, 3 * time.Second, 3},
		{time.Second, time.Second, 1},
		{time.Second, 0, 1},
	}
	for _, tc := range cases {
		cfg := Config{Probe: ProbeOptions{Interval: tc.interval, Timeout: tc.timeout}}
		if got := cfg.SliceCount(); got != tc.want {
			t.Fatalf("SliceCount(%s, %s) = %d, want %d", tc.interval, tc.timeout, got, tc.want)
		}
	}
}
