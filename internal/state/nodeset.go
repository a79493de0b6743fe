package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doridoridoriand/keepitup/internal/ping"
	"github.com/doridoridoriand/keepitup/internal/tsdb"
)

// SampleWriter receives flushed samples.
type SampleWriter interface {
	Write(ctx context.Context, points []tsdb.Point) error
}

// NodeStatus is a point-in-time copy of a node for readers.
type NodeStatus struct {
	NodeInfo
	Constitution State
	LastRTT      time.Duration
	Total        int
	Lost         int
	LossRatio    float64
	Samples      []Sample
}

// SliceReport summarizes one ProbeSlice call.
type SliceReport struct {
	Index  int
	Count  int
	SentAt time.Time
	Probed int
	Lost   int
}

// NodeSet owns every supervised node. Mutations come from a single driver
// goroutine; the lock only keeps snapshot readers consistent.
type NodeSet struct {
	mu         sync.RWMutex
	nodes      map[string]*Node
	order      []string
	prober     ping.Prober
	thresholds Thresholds
	now        func() time.Time
}

// NewNodeSet returns an empty set probing through prober.
func NewNodeSet(prober ping.Prober, thresholds Thresholds) *NodeSet {
	return &NodeSet{
		nodes:      make(map[string]*Node),
		prober:     prober,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (s *NodeSet) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Thresholds returns the health thresholds in use.
func (s *NodeSet) Thresholds() Thresholds {
	return s.thresholds
}

// Refresh replaces the node list with infos, in the given order. Nodes that
// stay keep their buffer and health; their identity attributes are taken
// from infos. Nodes missing from infos are dropped.
func (s *NodeSet) Refresh(infos []NodeInfo) (added, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make(map[string]*Node, len(infos))
	order := make([]string, 0, len(infos))
	for _, info := range infos {
		if _, dup := updated[info.ID]; dup {
			continue
		}
		if existing, ok := s.nodes[info.ID]; ok {
			existing.Name = info.Name
			existing.Address = info.Address
			existing.Owners = append([]string(nil), info.Owners...)
			updated[info.ID] = existing
		} else {
			updated[info.ID] = NewNode(info)
			added++
		}
		order = append(order, info.ID)
	}
	for id := range s.nodes {
		if _, ok := updated[id]; !ok {
			removed++
		}
	}

	s.nodes = updated
	s.order = order
	return added, removed
}

// Len returns the number of nodes.
func (s *NodeSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *NodeSet) sliceTargets(index, count int) []ping.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var targets []ping.Target
	for pos, id := range s.order {
		if pos%count != index {
			continue
		}
		node := s.nodes[id]
		targets = append(targets, ping.Target{ID: node.ID, Address: node.Address})
	}
	return targets
}

// ProbeSlice probes every node whose position modulo count equals index and
// appends one sample per node, all stamped with the time the slice was sent.
func (s *NodeSet) ProbeSlice(ctx context.Context, index, count int, timeout time.Duration) (SliceReport, error) {
	if count <= 0 || index < 0 || index >= count {
		return SliceReport{}, fmt.Errorf("invalid slice %d of %d", index, count)
	}

	report := SliceReport{Index: index, Count: count}
	targets := s.sliceTargets(index, count)
	if len(targets) == 0 {
		return report, nil
	}

	s.mu.RLock()
	sentAt := s.now()
	s.mu.RUnlock()

	results := s.prober.Probe(ctx, targets, timeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	report.SentAt = sentAt
	var firstErr error
	for _, tgt := range targets {
		node, ok := s.nodes[tgt.ID]
		if !ok {
			continue
		}
		res, ok := results[tgt.ID]
		if !ok {
			res = ping.Lost(ping.ErrProbeTimeout)
		}
		if err := node.Record(sentAt, res); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("record sample for %s: %w", tgt.ID, err)
			}
			continue
		}
		report.Probed++
		if !res.Success {
			report.Lost++
		}
	}
	return report, firstErr
}

// FlushToStore writes every uncommitted sample in one batch and marks them
// committed once the write succeeded. On failure nothing is marked and the
// samples are retried on the next flush.
func (s *NodeSet) FlushToStore(ctx context.Context, w SampleWriter) (int, error) {
	s.mu.RLock()
	pending := make(map[string][]Sample, len(s.order))
	var points []tsdb.Point
	for _, id := range s.order {
		node := s.nodes[id]
		samples := node.buffer.Uncommitted()
		if len(samples) == 0 {
			continue
		}
		pending[id] = samples
		for _, smp := range samples {
			points = append(points, tsdb.Point{
				NodeID: node.ID,
				Name:   node.Name,
				Time:   smp.SentAt,
				RTT:    smp.RTT,
				Lost:   smp.Lost,
			})
		}
	}
	s.mu.RUnlock()

	if len(points) == 0 {
		return 0, nil
	}
	if err := w.Write(ctx, points); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	committed := 0
	for id, samples := range pending {
		if node, ok := s.nodes[id]; ok {
			committed += node.buffer.MarkCommitted(samples)
		}
	}
	return committed, nil
}

// EvaluateAll recomputes every node in registry order.
func (s *NodeSet) EvaluateAll() []Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evaluations := make([]Evaluation, 0, len(s.order))
	for _, id := range s.order {
		evaluations = append(evaluations, s.nodes[id].Evaluate(now, s.thresholds))
	}
	return evaluations
}

// AckEvent marks the alarm event of node id as applied.
func (s *NodeSet) AckEvent(id string, event AlarmEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.nodes[id]; ok {
		node.AckEvent(event)
	}
}

// MarkSaved clears the dirty flag of the given nodes.
func (s *NodeSet) MarkSaved(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if node, ok := s.nodes[id]; ok {
			node.MarkSaved()
		}
	}
}

// Evict drops committed samples older than olderThan from every buffer.
// skipped counts old samples kept because they were never committed.
func (s *NodeSet) Evict(olderThan time.Duration) (removed, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, node := range s.nodes {
		r, sk := node.buffer.Evict(now, olderThan)
		removed += r
		skipped += sk
	}
	return removed, skipped
}

// Rehydrate fills buffers from points read back from the time-series store.
// Points for unknown nodes are ignored.
func (s *NodeSet) Rehydrate(points []tsdb.Point) int {
	grouped := make(map[string][]Sample)
	for _, p := range points {
		smp := Sample{SentAt: p.Time, RTT: p.RTT, Lost: p.Lost}
		grouped[p.NodeID] = append(grouped[p.NodeID], smp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for id, samples := range grouped {
		if node, ok := s.nodes[id]; ok {
			inserted += node.Populate(samples)
		}
	}
	return inserted
}

// Snapshot returns copies of every node in registry order.
func (s *NodeSet) Snapshot() []NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	result := make([]NodeStatus, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.copyStatus(s.nodes[id], now))
	}
	return result
}

// Lookup returns a copy of a single node.
func (s *NodeSet) Lookup(id string) (NodeStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return NodeStatus{}, false
	}
	return s.copyStatus(node, s.now()), true
}

// SnapshotByOwner returns copies of the nodes owned by owner.
func (s *NodeSet) SnapshotByOwner(owner string) []NodeStatus {
	var result []NodeStatus
	for _, status := range s.Snapshot() {
		for _, o := range status.Owners {
			if o == owner {
				result = append(result, status)
				break
			}
		}
	}
	return result
}

func (s *NodeSet) copyStatus(node *Node, now time.Time) NodeStatus {
	status := NodeStatus{
		NodeInfo:     node.Info(),
		Constitution: node.Constitution(),
		Samples:      node.buffer.Samples(),
	}
	status.Total, status.Lost = node.buffer.WindowCounts(now, s.thresholds.LossWindow)
	if status.Total > 0 {
		status.LossRatio = float64(status.Lost) / float64(status.Total)
	}
	for i := len(status.Samples) - 1; i >= 0; i-- {
		if !status.Samples[i].Lost {
			status.LastRTT = status.Samples[i].RTT
			break
		}
	}
	return status
}
