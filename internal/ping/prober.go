package ping

import "fmt"

// Backend names accepted by NewProber.
const (
	BackendAuto     = "auto"
	BackendICMP     = "icmp"
	BackendPinger   = "pinger"
	BackendExternal = "external"
)

// Options selects and tunes a Prober implementation.
type Options struct {
	Backend        string
	Privileged     bool
	MaxConcurrency int
}

// NewProber builds the Prober named by opts.Backend. The auto backend uses
// a shared ICMP socket when one can be opened and otherwise fans out the
// library pinger with the system ping binary as fallback.
func NewProber(opts Options) (Prober, error) {
	switch opts.Backend {
	case BackendICMP:
		return NewICMPProber(opts.Privileged), nil
	case BackendPinger:
		return NewFanoutProber(NewLibPinger(opts.Privileged), opts.MaxConcurrency), nil
	case BackendExternal:
		return NewFanoutProber(NewExternalPinger(), opts.MaxConcurrency), nil
	case BackendAuto, "":
		if err := CanListen(opts.Privileged); err == nil {
			return NewICMPProber(opts.Privileged), nil
		}
		fallback := NewFallbackPinger(NewLibPinger(opts.Privileged), NewExternalPinger())
		return NewFanoutProber(fallback, opts.MaxConcurrency), nil
	default:
		return nil, fmt.Errorf("unknown probe backend: %q", opts.Backend)
	}
}
