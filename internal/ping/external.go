package ping

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var timePattern = regexp.MustCompile(`time[=<]([0-9.]+)\s*ms`)

// ExternalPinger invokes the system ping command for environments without raw socket access.
type ExternalPinger struct {
	// Binary is the ping executable, "ping" when empty.
	Binary string
}

// NewExternalPinger returns a ping implementation that shells out to ping.
func NewExternalPinger() *ExternalPinger {
	return &ExternalPinger{Binary: "ping"}
}

// Ping runs the system ping command and parses the RTT from stdout.
// A non-zero exit caused by an unanswered request is reported as
// ErrProbeTimeout.
func (p *ExternalPinger) Ping(ctx context.Context, addr string, timeout time.Duration) Result {
	binary := p.Binary
	if binary == "" {
		binary = "ping"
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, binary, pingArgs(addr, timeout)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return Lost(fmt.Errorf("%w: %v", ErrProbeTimeout, ctx.Err()))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return Lost(fmt.Errorf("%w: no reply from %s", ErrProbeTimeout, addr))
		}
		return Lost(fmt.Errorf("external ping failed: %w", err))
	}

	rtt := parseRTT(out)
	if rtt == 0 {
		rtt = time.Since(start)
	}
	return Result{Success: true, RTT: rtt}
}

func pingArgs(addr string, timeout time.Duration) []string {
	switch runtime.GOOS {
	case "darwin":
		timeoutMs := maxInt(100, int(timeout.Milliseconds()))
		return []string{"-n", "-c", "1", "-W", strconv.Itoa(timeoutMs), addr}
	default:
		timeoutSec := maxInt(1, int(timeout.Seconds()+0.5))
		return []string{"-n", "-c", "1", "-W", strconv.Itoa(timeoutSec), addr}
	}
}

func parseRTT(output []byte) time.Duration {
	matches := timePattern.FindSubmatch(output)
	if len(matches) < 2 {
		return 0
	}
	value, err := strconv.ParseFloat(string(matches[1]), 64)
	if err != nil {
		return 0
	}
	return time.Duration(value * float64(time.Millisecond))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
