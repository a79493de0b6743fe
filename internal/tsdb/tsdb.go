// Package tsdb persists ping samples as an append-only time series.
package tsdb

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("time series store unavailable")

// Point is one stored ping outcome.
type Point struct {
	NodeID string        `json:"node_id"`
	Name   string        `json:"name"`
	Time   time.Time     `json:"time"`
	RTT    time.Duration `json:"rtt,omitempty"`
	Lost   bool          `json:"lost,omitempty"`
}

// Store writes and reads ping points.
type Store interface {
	// Write persists a batch of points. Either the whole batch is
	// accepted or an error is returned.
	Write(ctx context.Context, points []Point) error

	// Query returns points newer than since ordered by time. An empty
	// nodeID selects every node.
	Query(ctx context.Context, nodeID string, since time.Time) ([]Point, error)

	// Close releases the underlying connection.
	Close() error
}
