package discovery

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/doridoridoriand/keepitup/internal/state"
)

// IdentityStore is the part of the registry Sync needs.
type IdentityStore interface {
	List(ctx context.Context, owner string) ([]state.NodeInfo, error)
	UpdateIdentity(ctx context.Context, id, name, address string) error
}

// SyncResult counts what Sync did.
type SyncResult struct {
	Updated   int
	Unchanged int
	Missing   int
}

// Sync copies name and address from the cached feed onto every registry
// node the feed knows. Nodes absent from the feed, or announced without an
// address, keep their current address.
func (f *Feed) Sync(ctx context.Context, store IdentityStore) (SyncResult, error) {
	var result SyncResult
	nodes, err := store.List(ctx, "")
	if err != nil {
		return result, fmt.Errorf("list nodes: %w", err)
	}

	var errs *multierror.Error
	for _, node := range nodes {
		entry, ok := f.Lookup(node.ID)
		if !ok {
			result.Missing++
			continue
		}
		address := entry.Address
		if address == "" {
			address = node.Address
		}
		if entry.Name == node.Name && address == node.Address {
			result.Unchanged++
			continue
		}
		if err := store.UpdateIdentity(ctx, node.ID, entry.Name, address); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("update %s: %w", node.ID, err))
			continue
		}
		result.Updated++
	}
	return result, errs.ErrorOrNil()
}
