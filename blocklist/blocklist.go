// Package blocklist maintains the TTL set of currently mitigated keys.
// Check is the per-request fast path consulted before rule evaluation;
// Block is extension-only: re-blocking an already blocked key may push the
// expiry later, never earlier.
package blocklist

import (
	"context"

	"gateguard/types"
)

type Blocklist interface {
	// Check returns the live entry for key, if any. Expired entries are
	// treated as absent.
	Check(ctx context.Context, key string) (*types.BlockEntry, bool)

	// Block inserts or refreshes an entry. An existing entry with a later
	// ExpiresAt is kept.
	Block(ctx context.Context, entry types.BlockEntry) error

	// Remove deletes an entry ahead of its expiry, for admin tooling.
	Remove(ctx context.Context, key string) error

	// Entries lists all live entries.
	Entries(ctx context.Context) []types.BlockEntry

	Close() error
}
