package state

import (
	"time"

	"github.com/doridoridoriand/keepitup/internal/ping"
)

// NodeInfo is the registry view of a node.
type NodeInfo struct {
	ID      string
	Name    string
	Address string
	// Owners lists subscriber identities allowed to see the node.
	Owners        []string
	State         State
	IsWaiting     bool
	LastSeenAt    time.Time
	LastUpdatedAt time.Time
}

// Node is a supervised host with its sample buffer and health.
type Node struct {
	ID            string
	Name          string
	Address       string
	Owners        []string
	State         State
	IsWaiting     bool
	LastSeenAt    time.Time
	LastUpdatedAt time.Time

	buffer *Buffer
	// pending is the alarm event not yet applied by the dispatcher.
	pending AlarmEvent
	// dirty is set until the registry accepted the current state.
	dirty bool
}

// NewNode creates a node from its registry record with an empty buffer.
// A node never seen before starts as NEW and waiting.
func NewNode(info NodeInfo) *Node {
	n := &Node{
		ID:            info.ID,
		Name:          info.Name,
		Address:       info.Address,
		Owners:        append([]string(nil), info.Owners...),
		State:         info.State,
		IsWaiting:     info.IsWaiting,
		LastSeenAt:    info.LastSeenAt,
		LastUpdatedAt: info.LastUpdatedAt,
		buffer:        NewBuffer(),
	}
	if n.State == StateWaiting {
		n.State = StateNew
	}
	if n.State == StateNew {
		n.IsWaiting = true
	}
	return n
}

// Populate loads committed samples from the time-series store into the
// node's buffer and returns how many were inserted.
func (n *Node) Populate(samples []Sample) int {
	inserted := n.buffer.LoadCommitted(samples)
	for _, s := range n.buffer.samples {
		if !s.Lost && s.SentAt.After(n.LastSeenAt) {
			n.LastSeenAt = s.SentAt
		}
	}
	return inserted
}

// Buffer returns the node's sample buffer.
func (n *Node) Buffer() *Buffer {
	return n.buffer
}

// Constitution is the externally reported state.
func (n *Node) Constitution() State {
	if n.IsWaiting {
		return StateWaiting
	}
	return n.State
}

// Info returns the registry view of the node.
func (n *Node) Info() NodeInfo {
	return NodeInfo{
		ID:            n.ID,
		Name:          n.Name,
		Address:       n.Address,
		Owners:        append([]string(nil), n.Owners...),
		State:         n.State,
		IsWaiting:     n.IsWaiting,
		LastSeenAt:    n.LastSeenAt,
		LastUpdatedAt: n.LastUpdatedAt,
	}
}

// Record appends the outcome of one probe sent at the given time.
func (n *Node) Record(at time.Time, result ping.Result) error {
	sample := LostSample(at)
	if result.Success {
		sample = RTTSample(at, result.RTT)
	}
	if err := n.buffer.Append(sample); err != nil {
		return err
	}
	if result.Success {
		n.LastSeenAt = at
	}
	return nil
}

// Evaluation is the outcome of one state recompute.
type Evaluation struct {
	NodeID     string
	Name       string
	Address    string
	At         time.Time
	From       State
	To         State
	WasWaiting bool
	IsWaiting  bool
	Total      int
	Lost       int
	LossRatio  float64
	// Event is the alarm side effect still owed for this node. It repeats
	// on every evaluation until AckEvent is called.
	Event AlarmEvent
	// Dirty is set while the state differs from what the registry stored.
	Dirty bool
}

// Changed reports whether state or the waiting overlay moved.
func (e Evaluation) Changed() bool {
	return e.From != e.To || e.WasWaiting != e.IsWaiting
}

// Evaluate recomputes the waiting overlay and the health state from the
// buffer as of now.
func (n *Node) Evaluate(now time.Time, th Thresholds) Evaluation {
	ev := Evaluation{
		NodeID:     n.ID,
		Name:       n.Name,
		Address:    n.Address,
		At:         now,
		From:       n.State,
		To:         n.State,
		WasWaiting: n.IsWaiting,
	}

	short, _ := n.buffer.WindowCounts(now, th.ShortWindow)
	long, _ := n.buffer.WindowCounts(now, th.LongWindow)
	waiting := short < th.ShortMin || long < th.LongMin

	if !waiting {
		ev.Total, ev.Lost = n.buffer.WindowCounts(now, th.LossWindow)
		if ev.Total == 0 {
			// Retention shorter than the loss window; not enough data.
			waiting = true
		} else {
			ev.LossRatio = float64(ev.Lost) / float64(ev.Total)
		}
	}

	n.IsWaiting = waiting
	ev.IsWaiting = waiting
	if !waiting {
		ev.To = Transition(n.State, false, ev.LossRatio, th)
		n.queueEvent(AlarmEventFor(ev.From, ev.To))
		n.State = ev.To
	}
	if ev.Changed() {
		n.LastUpdatedAt = now
		n.dirty = true
	}
	ev.Event = n.pending
	ev.Dirty = n.dirty
	return ev
}

// queueEvent records a new alarm event. An open that was never applied
// and the close that follows it cancel out, as do a failed close and the
// reopen after it: the ledger already matches the node in both cases.
func (n *Node) queueEvent(event AlarmEvent) {
	if event == AlarmNone {
		return
	}
	if n.pending != AlarmNone && n.pending != event {
		n.pending = AlarmNone
		return
	}
	n.pending = event
}

// AckEvent clears the pending alarm event once it matches event.
func (n *Node) AckEvent(event AlarmEvent) {
	if n.pending == event {
		n.pending = AlarmNone
	}
}

// MarkSaved clears the dirty flag after the registry stored the node.
func (n *Node) MarkSaved() {
	n.dirty = false
}
