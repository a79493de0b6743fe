package ping

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// FanoutProber turns a single-target Pinger into a Prober by running one
// goroutine per target, at most maxConcurrency at a time.
type FanoutProber struct {
	pinger         Pinger
	maxConcurrency int
}

// NewFanoutProber wraps pinger. maxConcurrency <= 0 means unbounded.
func NewFanoutProber(pinger Pinger, maxConcurrency int) *FanoutProber {
	return &FanoutProber{pinger: pinger, maxConcurrency: maxConcurrency}
}

// Probe implements Prober. Each goroutine writes only its own slot, the
// map is assembled after the join.
func (p *FanoutProber) Probe(ctx context.Context, targets []Target, timeout time.Duration) map[string]Result {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slots := make([]Result, len(targets))
	g := new(errgroup.Group)
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}
	for i, tgt := range targets {
		i, tgt := i, tgt
		g.Go(func() error {
			slots[i] = p.pinger.Ping(probeCtx, tgt.Address, timeout)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]Result, len(targets))
	for i, tgt := range targets {
		results[tgt.ID] = slots[i]
	}
	return results
}
