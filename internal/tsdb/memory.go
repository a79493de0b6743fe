package tsdb

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps points in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string][]Point
	// FailWrites makes Write return ErrUnavailable.
	FailWrites bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string][]Point)}
}

func (s *MemoryStore) Write(ctx context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrUnavailable
	}
	for _, p := range points {
		s.points[p.NodeID] = append(s.points[p.NodeID], p)
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, nodeID string, since time.Time) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Point
	collect := func(points []Point) {
		for _, p := range points {
			if p.Time.After(since) {
				out = append(out, p)
			}
		}
	}
	if nodeID != "" {
		collect(s.points[nodeID])
	} else {
		for _, points := range s.points {
			collect(points)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Len returns the number of stored points across all nodes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, points := range s.points {
		n += len(points)
	}
	return n
}

func (s *MemoryStore) Close() error {
	return nil
}
