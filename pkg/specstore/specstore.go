// Package specstore implements the SpecStore component: file-system-backed
// persistence of harvested documents, keyed by (service, namespace,
// harvested_at), retaining at most the latest two per identity.
package specstore

import (
	"context"

	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// FieldDiff describes one changed field location between two documents.
type FieldDiff struct {
	Location string
	Before   any
	After    any
}

// Diff is the result of comparing two documents' field inventories.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []FieldDiff
}

// Store is the SpecStore contract: Put persists with key
// (service, namespace, harvested_at); Latest/Previous retrieve by identity;
// Diff compares two documents' fields; Prune retains the latest two and
// removes older ones, idempotently (spec I3).
type Store interface {
	Put(ctx context.Context, doc types.SpecDocument) error
	Latest(ctx context.Context, id types.Identity) (*types.SpecDocument, error)
	Previous(ctx context.Context, id types.Identity) (*types.SpecDocument, error)
	Diff(a, b *types.SpecDocument) Diff
	Prune(ctx context.Context, id types.Identity) error
}
