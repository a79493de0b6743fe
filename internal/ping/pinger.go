package ping

import (
	"context"
	"errors"
	"time"
)

// ErrProbeTimeout marks a target that did not answer within the timeout.
var ErrProbeTimeout = errors.New("ping timeout")

// Result captures a single ping result.
type Result struct {
	RTT     time.Duration
	Success bool
	Error   error
}

// Lost reports a failed result with the given cause.
func Lost(err error) Result {
	return Result{Success: false, Error: err}
}

// Pinger sends a single ping and returns the result.
type Pinger interface {
	Ping(ctx context.Context, addr string, timeout time.Duration) Result
}

// Target is one address to probe, keyed by the node that owns it.
type Target struct {
	ID      string
	Address string
}

// Prober sends echo requests to a batch of targets at once and waits for
// all of them. Every target is present in the returned map; unanswered or
// unresolvable targets carry a failed Result. Probe never fails the batch.
type Prober interface {
	Probe(ctx context.Context, targets []Target, timeout time.Duration) map[string]Result
}

// fillMissing marks every target without a result as timed out.
func fillMissing(results map[string]Result, targets []Target) map[string]Result {
	for _, tgt := range targets {
		if _, ok := results[tgt.ID]; !ok {
			results[tgt.ID] = Lost(ErrProbeTimeout)
		}
	}
	return results
}
