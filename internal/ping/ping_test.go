package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type stubPinger struct {
	result Result
	calls  int32
}

func (s *stubPinger) Ping(ctx context.Context, addr string, timeout time.Duration) Result {
	atomic.AddInt32(&s.calls, 1)
	return s.result
}

// addrPinger answers per address and records peak concurrency.
type addrPinger struct {
	mu       sync.Mutex
	results  map[string]Result
	delay    time.Duration
	inFlight int32
	max      int32
}

func (p *addrPinger) Ping(ctx context.Context, addr string, timeout time.Duration) Result {
	current := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		max := atomic.LoadInt32(&p.max)
		if current <= max || atomic.CompareAndSwapInt32(&p.max, max, current) {
			break
		}
	}

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Lost(ErrProbeTimeout)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if res, ok := p.results[addr]; ok {
		return res
	}
	return Lost(ErrProbeTimeout)
}

func TestResolveIPValid(t *testing.T) {
	ip, err := resolveIP(context.Background(), net.DefaultResolver.LookupIPAddr, "127.0.0.1")
	if err != nil {
		t.Fatalf("expected valid IP, got error: %v", err)
	}
	if ip.To4() == nil {
		t.Fatalf("expected IPv4 address, got %v", ip)
	}
}

func TestResolveIPInvalid(t *testing.T) {
	for _, addr := range []string{"", "invalid@@"} {
		if _, err := resolveIP(context.Background(), net.DefaultResolver.LookupIPAddr, addr); err == nil {
			t.Fatalf("expected error for invalid address %q", addr)
		}
	}
}

func TestResolveIPPrefersIPv4(t *testing.T) {
	lookup := func(context.Context, string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP("2001:db8::1")}, {IP: net.ParseIP("192.0.2.1")}}, nil
	}
	ip, err := resolveIP(context.Background(), lookup, "edge.example.org")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ip.Equal(net.ParseIP("192.0.2.1")) {
		t.Fatalf("expected the IPv4 address, got %v", ip)
	}
}

func TestResolveAllLooksUpConcurrently(t *testing.T) {
	const hosts = 4
	var (
		mu      sync.Mutex
		started int
		ready   = make(chan struct{})
	)
	// Every lookup waits for all others to start, so a serial resolver
	// only returns when the deadline cancels it.
	lookup := func(ctx context.Context, host string) ([]net.IPAddr, error) {
		mu.Lock()
		started++
		if started == hosts {
			close(ready)
		}
		mu.Unlock()
		select {
		case <-ready:
			return []net.IPAddr{{IP: net.ParseIP("192.0.2.1")}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	prober := NewICMPProber(false)
	prober.lookup = lookup
	targets := []Target{{ID: "literal", Address: "198.51.100.1"}}
	for i := 0; i < hosts; i++ {
		targets = append(targets, Target{ID: fmt.Sprintf("h%d", i), Address: fmt.Sprintf("h%d.example.org", i)})
	}

	ips, errs := prober.resolveAll(context.Background(), targets, time.Now().Add(2*time.Second))
	for i, tgt := range targets {
		if errs[i] != nil {
			t.Fatalf("resolve %s: %v", tgt.ID, errs[i])
		}
	}
	if !ips[0].Equal(net.ParseIP("198.51.100.1")) || !ips[1].Equal(net.ParseIP("192.0.2.1")) {
		t.Fatalf("unexpected addresses %v", ips)
	}
}

func TestResolveAllStopsAtDeadline(t *testing.T) {
	prober := NewICMPProber(false)
	prober.lookup = func(ctx context.Context, _ string) ([]net.IPAddr, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	start := time.Now()
	_, errs := prober.resolveAll(context.Background(), []Target{{ID: "slow", Address: "slow.example.org"}}, start.Add(50*time.Millisecond))
	if !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Fatalf("expected the deadline to cancel the lookup, got %v", errs[0])
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("lookup outlived the deadline by %v", elapsed)
	}
}

func TestEchoKeysSurviveSequenceWrap(t *testing.T) {
	const size = 1<<16 + 10
	if seqFor(0, 0) != seqFor(0, 1<<16) {
		t.Fatalf("expected sequence numbers to wrap")
	}

	inflight := make(map[echoKey]int, size)
	for i := 0; i < size; i++ {
		ip := net.IPv4(10, byte(i>>16), byte(i>>8), byte(i))
		inflight[keyFor(seqFor(0, i), ip)] = i
	}
	if len(inflight) != size {
		t.Fatalf("expected %d distinct requests, got %d", size, len(inflight))
	}

	// Replies carry 4 byte or 16 byte addresses depending on the socket.
	reply := net.IP{10, 1, 0, 0}
	if i, ok := inflight[keyFor(seqFor(0, 1<<16), reply)]; !ok || i != 1<<16 {
		t.Fatalf("expected the wrapped request to match, got %d %v", i, ok)
	}
	if i := inflight[keyFor(0, net.IPv4(10, 0, 0, 0))]; i != 0 {
		t.Fatalf("expected the first request to match, got %d", i)
	}
}

func TestICMPSettings(t *testing.T) {
	cases := []struct {
		v6, privileged bool
		network        string
	}{
		{false, true, "ip4:icmp"},
		{false, false, "udp4"},
		{true, true, "ip6:ipv6-icmp"},
		{true, false, "udp6"},
	}
	for _, tc := range cases {
		network, _, _, _ := icmpSettings(tc.v6, tc.privileged)
		if network != tc.network {
			t.Fatalf("icmpSettings(v6=%v, privileged=%v) = %q, want %q", tc.v6, tc.privileged, network, tc.network)
		}
	}
}

func TestPeerIP(t *testing.T) {
	ip := net.ParseIP("192.0.2.1")
	if !peerIP(&net.IPAddr{IP: ip}).Equal(ip) {
		t.Fatalf("expected IPAddr to resolve")
	}
	if !peerIP(&net.UDPAddr{IP: ip}).Equal(ip) {
		t.Fatalf("expected UDPAddr to resolve")
	}
	if peerIP(&net.TCPAddr{IP: ip}) != nil {
		t.Fatalf("expected nil for unrelated addr type")
	}
}

func TestEffectiveDeadlineUsesContextDeadline(t *testing.T) {
	ctxDeadline := time.Now().Add(50 * time.Millisecond)
	ctx, cancel := context.WithDeadline(context.Background(), ctxDeadline)
	defer cancel()

	deadline := effectiveDeadline(ctx, time.Second)
	if !deadline.Equal(ctxDeadline) {
		t.Fatalf("expected context deadline %v, got %v", ctxDeadline, deadline)
	}
}

func TestEffectiveDeadlineUsesTimeout(t *testing.T) {
	before := time.Now()
	deadline := effectiveDeadline(context.Background(), 200*time.Millisecond)
	if deadline.Before(before.Add(200*time.Millisecond)) || deadline.After(time.Now().Add(200*time.Millisecond)) {
		t.Fatalf("unexpected deadline %v", deadline)
	}
}

func TestICMPProberUnresolvableTargetsAreLost(t *testing.T) {
	prober := NewICMPProber(false)
	targets := []Target{
		{ID: "empty", Address: ""},
		{ID: "bad", Address: "invalid@@address"},
	}

	results := prober.Probe(context.Background(), targets, 50*time.Millisecond)
	if len(results) != len(targets) {
		t.Fatalf("expected %d results, got %d", len(targets), len(results))
	}
	for id, res := range results {
		if res.Success || res.Error == nil {
			t.Fatalf("expected %s to be lost with an error, got %+v", id, res)
		}
	}
}

func TestICMPProberReportsEveryTarget(t *testing.T) {
	prober := NewICMPProber(false)
	targets := []Target{
		{ID: "loopback", Address: "127.0.0.1"},
		{ID: "doc", Address: "192.0.2.1"},
		{ID: "v6", Address: "::1"},
	}

	start := time.Now()
	results := prober.Probe(context.Background(), targets, 200*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("probe did not respect timeout, took %v", elapsed)
	}
	for _, tgt := range targets {
		res, ok := results[tgt.ID]
		if !ok {
			t.Fatalf("missing result for %s", tgt.ID)
		}
		if !res.Success && res.Error == nil {
			t.Fatalf("lost result for %s without error", tgt.ID)
		}
	}
}

func TestFanoutProberCollectsAllTargets(t *testing.T) {
	pinger := &addrPinger{results: map[string]Result{
		"192.0.2.1": {Success: true, RTT: 5 * time.Millisecond},
		"192.0.2.2": {Success: true, RTT: 7 * time.Millisecond},
	}}
	prober := NewFanoutProber(pinger, 0)

	results := prober.Probe(context.Background(), []Target{
		{ID: "a", Address: "192.0.2.1"},
		{ID: "b", Address: "192.0.2.2"},
		{ID: "c", Address: "192.0.2.3"},
	}, 100*time.Millisecond)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results["a"].Success || results["a"].RTT != 5*time.Millisecond {
		t.Fatalf("unexpected result for a: %+v", results["a"])
	}
	if results["c"].Success || !errors.Is(results["c"].Error, ErrProbeTimeout) {
		t.Fatalf("expected c to time out, got %+v", results["c"])
	}
}

func TestFanoutProberRespectsMaxConcurrency(t *testing.T) {
	pinger := &addrPinger{results: map[string]Result{}, delay: 5 * time.Millisecond}
	prober := NewFanoutProber(pinger, 2)

	targets := make([]Target, 8)
	for i := range targets {
		targets[i] = Target{ID: fmt.Sprintf("n%d", i), Address: fmt.Sprintf("192.0.2.%d", i+1)}
	}
	prober.Probe(context.Background(), targets, time.Second)

	if max := atomic.LoadInt32(&pinger.max); max > 2 {
		t.Fatalf("expected max concurrency 2, got %d", max)
	}
}

func TestFanoutProberTimeoutBoundsCall(t *testing.T) {
	pinger := &addrPinger{results: map[string]Result{}, delay: time.Second}
	prober := NewFanoutProber(pinger, 0)

	start := time.Now()
	results := prober.Probe(context.Background(), []Target{{ID: "slow", Address: "192.0.2.9"}}, 20*time.Millisecond)
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("expected probe to return near the timeout")
	}
	if results["slow"].Success {
		t.Fatalf("expected slow target to be lost")
	}
}

func TestIsPermissionError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{os.ErrPermission, true},
		{syscall.EPERM, true},
		{fmt.Errorf("wrap: %w", os.ErrPermission), true},
		{errors.New("socket: operation not permitted"), true},
		{errors.New("Permission Denied"), true},
		{errors.New("network unreachable"), false},
	}
	for _, tc := range cases {
		if got := isPermissionError(tc.err); got != tc.want {
			t.Fatalf("isPermissionError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestFallbackPingerUsesPrimaryOnSuccess(t *testing.T) {
	primary := &stubPinger{result: Result{Success: true, RTT: time.Millisecond}}
	secondary := &stubPinger{result: Result{Success: true, RTT: 2 * time.Millisecond}}
	pinger := NewFallbackPinger(primary, secondary)

	res := pinger.Ping(context.Background(), "192.0.2.1", time.Second)
	if !res.Success || res.RTT != time.Millisecond {
		t.Fatalf("expected primary result, got %+v", res)
	}
	if secondary.calls != 0 {
		t.Fatalf("expected secondary to be unused")
	}
}

func TestFallbackPingerSticksToSecondaryAfterPermissionError(t *testing.T) {
	primary := &stubPinger{result: Lost(os.ErrPermission)}
	secondary := &stubPinger{result: Result{Success: true, RTT: 3 * time.Millisecond}}
	pinger := NewFallbackPinger(primary, secondary)

	for i := 0; i < 3; i++ {
		res := pinger.Ping(context.Background(), "192.0.2.1", time.Second)
		if !res.Success || res.RTT != 3*time.Millisecond {
			t.Fatalf("expected secondary result, got %+v", res)
		}
	}
	if primary.calls != 1 {
		t.Fatalf("expected primary to be tried once, got %d", primary.calls)
	}
	if !pinger.Degraded() {
		t.Fatalf("expected pinger to report degraded")
	}
}

func TestFallbackPingerSkipsFallbackOnOtherErrors(t *testing.T) {
	primary := &stubPinger{result: Lost(ErrProbeTimeout)}
	secondary := &stubPinger{result: Result{Success: true}}
	pinger := NewFallbackPinger(primary, secondary)

	res := pinger.Ping(context.Background(), "192.0.2.1", time.Second)
	if res.Success || !errors.Is(res.Error, ErrProbeTimeout) {
		t.Fatalf("expected primary timeout, got %+v", res)
	}
	if secondary.calls != 0 || pinger.Degraded() {
		t.Fatalf("expected no fallback on timeout")
	}
}

func TestNewProberBackends(t *testing.T) {
	for _, backend := range []string{BackendICMP, BackendPinger, BackendExternal, BackendAuto, ""} {
		prober, err := NewProber(Options{Backend: backend})
		if err != nil {
			t.Fatalf("backend %q: unexpected error %v", backend, err)
		}
		if prober == nil {
			t.Fatalf("backend %q: expected prober", backend)
		}
	}
	if _, err := NewProber(Options{Backend: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestFillMissing(t *testing.T) {
	results := fillMissing(map[string]Result{"a": {Success: true}}, []Target{{ID: "a"}, {ID: "b"}})
	if !results["a"].Success {
		t.Fatalf("expected existing result to be kept")
	}
	if !errors.Is(results["b"].Error, ErrProbeTimeout) {
		t.Fatalf("expected missing target to time out, got %+v", results["b"])
	}
}
