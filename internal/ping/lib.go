package ping

import (
	"context"
	"fmt"
	"time"

	probing "github.com/gaius-qi/ping"
)

// LibPinger sends a single echo request through the gaius-qi/ping library.
type LibPinger struct {
	Privileged bool
}

// NewLibPinger returns a library backed pinger.
func NewLibPinger(privileged bool) *LibPinger {
	return &LibPinger{Privileged: privileged}
}

// Ping implements Pinger.
func (p *LibPinger) Ping(ctx context.Context, addr string, timeout time.Duration) Result {
	if err := ctx.Err(); err != nil {
		return Lost(err)
	}

	pinger, err := probing.NewPinger(addr)
	if err != nil {
		return Lost(err)
	}

	pinger.Count = 1
	pinger.Timeout = time.Until(effectiveDeadline(ctx, timeout))

	// SetPrivileged sets the type of ping pinger will send.
	// true means pinger will send a "privileged" raw ICMP ping.
	pinger.SetPrivileged(p.Privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return Lost(err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv <= 0 {
		return Lost(fmt.Errorf("%w: no reply from %s", ErrProbeTimeout, addr))
	}
	return Result{Success: true, RTT: stats.AvgRtt}
}
