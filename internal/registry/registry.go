// Package registry stores the supervised nodes, their persisted health and
// who subscribed to them.
package registry

import (
	"context"
	"errors"

	"github.com/doridoridoriand/keepitup/internal/notify"
	"github.com/doridoridoriand/keepitup/internal/state"
)

var (
	// ErrUnavailable is returned when the backing store cannot be read or
	// written.
	ErrUnavailable = errors.New("node registry unavailable")

	// ErrNotFound is returned for unknown nodes or users.
	ErrNotFound = errors.New("not found")
)

// Registry is the source of truth for the node list.
type Registry interface {
	// List returns every node, or only those subscribed by owner when owner
	// is not empty, in a stable order.
	List(ctx context.Context, owner string) ([]state.NodeInfo, error)

	// Save persists state, waiting flag and timestamps of the given nodes.
	// Unknown nodes are skipped.
	Save(ctx context.Context, statuses []state.NodeStatus) error

	// UpdateIdentity replaces name and address of a node.
	UpdateIdentity(ctx context.Context, id, name, address string) error

	// Subscribers returns confirmed users that enabled notifications for
	// the node.
	Subscribers(ctx context.Context, nodeID string) ([]notify.Subscriber, error)
}
