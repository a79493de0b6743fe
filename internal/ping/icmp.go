package ping

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sync/errgroup"
)

const (
	echoData = "keepitup"

	// maxResolvers bounds concurrent host name lookups per Probe call.
	maxResolvers = 64
)

type lookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// ICMPProber sends one ICMP echo request per target over a shared socket per
// address family and matches replies by sequence number.
type ICMPProber struct {
	id         int
	privileged bool
	seq        uint32
	lookup     lookupFunc
}

// NewICMPProber initializes a prober with a process-scoped identifier.
// Unprivileged probers use datagram ICMP sockets, where the kernel owns the
// echo identifier.
func NewICMPProber(privileged bool) *ICMPProber {
	return &ICMPProber{
		id:         os.Getpid() & 0xffff,
		privileged: privileged,
		lookup:     net.DefaultResolver.LookupIPAddr,
	}
}

// CanListen reports whether an ICMP socket can be opened with the given
// privilege mode.
func CanListen(privileged bool) error {
	network, _, _, _ := icmpSettings(false, privileged)
	conn, err := icmp.ListenPacket(network, "")
	if err != nil {
		return err
	}
	return conn.Close()
}

type pending struct {
	id string
	ip net.IP
}

// echoKey identifies a request in flight. Sequence numbers wrap at 16 bits,
// so a batch larger than that reuses them for different addresses.
type echoKey struct {
	seq int
	ip  string
}

func keyFor(seq int, ip net.IP) echoKey {
	return echoKey{seq: seq, ip: string(ip.To16())}
}

func seqFor(base uint32, i int) int {
	return int(uint16(base + uint32(i)))
}

// Probe implements Prober. Name resolution and the exchange share the
// deadline of the call.
func (p *ICMPProber) Probe(ctx context.Context, targets []Target, timeout time.Duration) map[string]Result {
	deadline := effectiveDeadline(ctx, timeout)

	results := make(map[string]Result, len(targets))
	ips, errs := p.resolveAll(ctx, targets, deadline)
	var v4, v6 []pending
	for i, tgt := range targets {
		if errs[i] != nil {
			results[tgt.ID] = Lost(errs[i])
			continue
		}
		if ips[i].To4() != nil {
			v4 = append(v4, pending{id: tgt.ID, ip: ips[i]})
		} else {
			v6 = append(v6, pending{id: tgt.ID, ip: ips[i]})
		}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, batch := range []struct {
		v6      bool
		pending []pending
	}{{false, v4}, {true, v6}} {
		if len(batch.pending) == 0 {
			continue
		}
		wg.Add(1)
		go func(v6 bool, batch []pending) {
			defer wg.Done()
			partial := p.exchange(ctx, v6, batch, deadline)
			mu.Lock()
			for id, res := range partial {
				results[id] = res
			}
			mu.Unlock()
		}(batch.v6, batch.pending)
	}
	wg.Wait()

	return fillMissing(results, targets)
}

// resolveAll resolves every target address, looking up host names
// concurrently until deadline.
func (p *ICMPProber) resolveAll(ctx context.Context, targets []Target, deadline time.Time) ([]net.IP, []error) {
	resolveCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ips := make([]net.IP, len(targets))
	errs := make([]error, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(maxResolvers)
	for i, tgt := range targets {
		if ip := net.ParseIP(tgt.Address); ip != nil {
			ips[i] = ip
			continue
		}
		i, tgt := i, tgt
		g.Go(func() error {
			ips[i], errs[i] = resolveIP(resolveCtx, p.lookup, tgt.Address)
			return nil
		})
	}
	_ = g.Wait()
	return ips, errs
}

// exchange sends the whole batch and then reads replies until every
// request was answered or the deadline passed.
func (p *ICMPProber) exchange(ctx context.Context, v6 bool, batch []pending, deadline time.Time) map[string]Result {
	out := make(map[string]Result, len(batch))
	failAll := func(err error) map[string]Result {
		for _, pend := range batch {
			out[pend.id] = Lost(err)
		}
		return out
	}

	network, protocol, requestType, replyType := icmpSettings(v6, p.privileged)
	conn, err := icmp.ListenPacket(network, "")
	if err != nil {
		return failAll(err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return failAll(err)
	}

	count := uint32(len(batch))
	base := atomic.AddUint32(&p.seq, count) - count
	inflight := make(map[echoKey]int, len(batch))
	sentAt := make([]time.Time, len(batch))

	for i, pend := range batch {
		seq := seqFor(base, i)
		msg := icmp.Message{
			Type: requestType,
			Code: 0,
			Body: &icmp.Echo{
				ID:   p.id,
				Seq:  seq,
				Data: []byte(echoData),
			},
		}
		payload, err := msg.Marshal(nil)
		if err != nil {
			out[pend.id] = Lost(err)
			continue
		}

		sentAt[i] = time.Now()
		if _, err := conn.WriteTo(payload, p.destination(pend.ip)); err != nil {
			out[pend.id] = Lost(err)
			continue
		}
		inflight[keyFor(seq, pend.ip)] = i
	}

	buf := make([]byte, 1500)
	for len(inflight) > 0 {
		if ctx.Err() != nil {
			break
		}

		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			// Deadline reached or socket failed; whatever is still in
			// flight is reported as lost.
			break
		}

		reply, err := icmp.ParseMessage(protocol, buf[:n])
		if err != nil || reply.Type != replyType {
			continue
		}
		body, ok := reply.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		if p.privileged && body.ID != p.id {
			continue
		}
		ip := peerIP(peer)
		if ip == nil {
			continue
		}
		key := keyFor(body.Seq, ip)
		i, ok := inflight[key]
		if !ok {
			continue
		}

		out[batch[i].id] = Result{Success: true, RTT: time.Since(sentAt[i])}
		delete(inflight, key)
	}

	for _, i := range inflight {
		out[batch[i].id] = Lost(ErrProbeTimeout)
	}
	return out
}

func (p *ICMPProber) destination(ip net.IP) net.Addr {
	if p.privileged {
		return &net.IPAddr{IP: ip}
	}
	return &net.UDPAddr{IP: ip}
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return nil
	}
}

// resolveIP returns the address literal or the first IPv4 address of a host
// name, falling back to its first IPv6 address.
func resolveIP(ctx context.Context, lookup lookupFunc, addr string) (net.IP, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty address")
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip, nil
	}
	addrs, err := lookup(ctx, addr)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no address for host: %s", addr)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP, nil
		}
	}
	return addrs[0].IP, nil
}

func icmpSettings(v6, privileged bool) (network string, protocol int, requestType icmp.Type, replyType icmp.Type) {
	if !v6 {
		network = "udp4"
		if privileged {
			network = "ip4:icmp"
		}
		return network, ipv4.ICMPTypeEcho.Protocol(), ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	}
	network = "udp6"
	if privileged {
		network = "ip6:ipv6-icmp"
	}
	return network, ipv6.ICMPTypeEchoRequest.Protocol(), ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
}

func effectiveDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}
