package cli

import (
	"io"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/doridoridoriand/keepitup/internal/config"
)

func TestOptionalFlagsSet(t *testing.T) {
	cases := []struct {
		name     string
		flag     pflag.Value
		input    string
		typeName string
	}{
		{"duration", &OptionalDuration{}, "250ms", "duration"},
		{"int", &OptionalInt{}, "42", "int"},
		{"string", &OptionalString{}, "hello", "string"},
		{"bool", &OptionalBool{}, "true", "bool"},
		{"metrics mode", &OptionalMetricsMode{}, "aggregated", "mode"},
	}

	for _, tc := range cases {
		if tc.flag.String() != "" {
			t.Fatalf("%s: expected empty string while unset, got %q", tc.name, tc.flag.String())
		}
		if err := tc.flag.Set(tc.input); err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if tc.flag.String() != tc.input {
			t.Fatalf("%s: expected %q after Set, got %q", tc.name, tc.input, tc.flag.String())
		}
		if tc.flag.Type() != tc.typeName {
			t.Fatalf("%s: expected type %q, got %q", tc.name, tc.typeName, tc.flag.Type())
		}
	}
}

func TestOptionalFlagsInvalidStayUnset(t *testing.T) {
	var (
		d OptionalDuration
		i OptionalInt
		b OptionalBool
		m OptionalMetricsMode
	)
	if err := d.Set("bad"); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
	if err := i.Set("bad"); err == nil {
		t.Fatalf("expected error for invalid int")
	}
	if err := b.Set("bad"); err == nil {
		t.Fatalf("expected error for invalid bool")
	}
	if err := m.Set(""); err == nil {
		t.Fatalf("expected error for empty metrics mode")
	}
	if _, ok := d.Value(); ok {
		t.Fatalf("expected invalid duration to remain unset")
	}
	if _, ok := i.Value(); ok {
		t.Fatalf("expected invalid int to remain unset")
	}
	if _, ok := b.Value(); ok {
		t.Fatalf("expected invalid bool to remain unset")
	}
	if _, ok := m.Value(); ok {
		t.Fatalf("expected invalid metrics mode to remain unset")
	}
}

func TestOptionalValues(t *testing.T) {
	var d OptionalDuration
	_ = d.Set("1m30s")
	if v, ok := d.Value(); !ok || v != 90*time.Second {
		t.Fatalf("expected 90s, got %v (ok=%v)", v, ok)
	}

	var b OptionalBool
	if !b.IsBoolFlag() {
		t.Fatalf("expected OptionalBool to be a bool flag")
	}
	_ = b.Set("false")
	if v, ok := b.Value(); !ok || v {
		t.Fatalf("expected explicit false to be recorded, got %v (ok=%v)", v, ok)
	}
}

func TestOptionalMetricsModeErrorMessage(t *testing.T) {
	var m OptionalMetricsMode
	err := m.Set("invalid-mode")
	if err == nil {
		t.Fatalf("expected error for invalid metrics mode")
	}

	expectedMsg := `invalid metrics mode: "invalid-mode" (valid values: per-target, aggregated, both)`
	if err.Error() != expectedMsg {
		t.Fatalf("expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestOverrideFlagsOnlyCarrySetValues(t *testing.T) {
	var flags OverrideFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Register(fs)

	if err := fs.Parse([]string{"-i", "30s", "--metrics-mode", "both", "--privileged"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	overrides := flags.Overrides()

	if overrides.Interval == nil || *overrides.Interval != 30*time.Second {
		t.Fatalf("expected interval override 30s, got %v", overrides.Interval)
	}
	if overrides.MetricsMode == nil || *overrides.MetricsMode != config.MetricsModeBoth {
		t.Fatalf("expected metrics mode override both, got %v", overrides.MetricsMode)
	}
	if overrides.Privileged == nil || !*overrides.Privileged {
		t.Fatalf("expected privileged override true")
	}
	if overrides.Timeout != nil || overrides.MaxConcurrency != nil || overrides.Backend != nil ||
		overrides.MetricsListen != nil || overrides.LogLevel != nil {
		t.Fatalf("unset flags must not produce overrides: %+v", overrides)
	}
}

func TestOverrideFlagsRejectInvalidMode(t *testing.T) {
	var flags OverrideFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags.Register(fs)

	if err := fs.Parse([]string{"--metrics-mode", "everything"}); err == nil {
		t.Fatalf("expected invalid metrics mode to fail parsing")
	}
}
