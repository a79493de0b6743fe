package alarm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryLedger keeps alarms in process memory.
type MemoryLedger struct {
	mu     sync.Mutex
	nextID uint
	alarms []*Alarm
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) open(nodeID string) []*Alarm {
	var open []*Alarm
	for _, a := range l.alarms {
		if a.NodeID == nodeID && a.ClosedAt == nil {
			open = append(open, a)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].OpenedAt.After(open[j].OpenedAt) })
	return open
}

func (l *MemoryLedger) LatestOpen(_ context.Context, nodeID string) (*Alarm, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	open := l.open(nodeID)
	if len(open) == 0 {
		return nil, nil
	}
	latest := *open[0]
	if len(open) > 1 {
		return &latest, fmt.Errorf("%w: node %s has %d", ErrInvariantViolation, nodeID, len(open))
	}
	return &latest, nil
}

func (l *MemoryLedger) Open(_ context.Context, nodeID string, at time.Time) (*Alarm, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.open(nodeID)) > 0 {
		return nil, ErrAlreadyOpen
	}
	return l.insert(nodeID, at), nil
}

func (l *MemoryLedger) insert(nodeID string, at time.Time) *Alarm {
	l.nextID++
	stored := &Alarm{ID: l.nextID, NodeID: nodeID, OpenedAt: at}
	l.alarms = append(l.alarms, stored)
	copied := *stored
	return &copied
}

func (l *MemoryLedger) find(id uint) *Alarm {
	for _, a := range l.alarms {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (l *MemoryLedger) Close(_ context.Context, alarm *Alarm, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored := l.find(alarm.ID)
	if stored == nil || stored.ClosedAt != nil {
		return ErrNotOpen
	}
	closed := at
	stored.ClosedAt = &closed
	alarm.ClosedAt = &closed
	return nil
}

func (l *MemoryLedger) SetNotificationRef(_ context.Context, alarm *Alarm, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored := l.find(alarm.ID)
	if stored == nil {
		return fmt.Errorf("alarm %d not found", alarm.ID)
	}
	stored.NotificationRef = ref
	alarm.NotificationRef = ref
	return nil
}

func (l *MemoryLedger) History(_ context.Context, nodeID string) ([]Alarm, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Alarm
	for i := len(l.alarms) - 1; i >= 0; i-- {
		if l.alarms[i].NodeID == nodeID {
			out = append(out, *l.alarms[i])
		}
	}
	return out, nil
}

// ForceOpen inserts an open alarm without the exclusivity check. It exists
// to reproduce ledgers damaged outside this process.
func (l *MemoryLedger) ForceOpen(nodeID string, at time.Time) *Alarm {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insert(nodeID, at)
}
