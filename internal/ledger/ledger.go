// Package ledger implements the persistent deduplicated counter used for
// unique-domain and unique-hit accounting. The ledger records which
// (scope, key) pairs have been seen so that counting stays at-most-once
// across inputs far larger than memory.
package ledger

import "context"

// Ledger is a durable (scope, key) presence accumulator. Mark is
// idempotent: re-marking a seen pair never changes a count, which is what
// makes crash recovery by re-ingestion safe.
type Ledger interface {
	// Mark records the pair and reports whether it was seen for the
	// first time in this ledger's lifetime.
	Mark(ctx context.Context, scope string, key []byte) (bool, error)

	// Count returns the number of distinct keys marked under scope.
	Count(ctx context.Context, scope string) (int64, error)

	// Counts returns distinct-key counts for every scope with the given
	// prefix.
	Counts(ctx context.Context, scopePrefix string) (map[string]int64, error)

	// Flush forces a durability checkpoint of any uncommitted marks.
	Flush(ctx context.Context) error

	Close() error
}

// Scope name layout. The provider goes last so names containing the
// separator still split unambiguously with a bounded SplitN.
const (
	SLDScopePrefix = "sld:"
	HitScopePrefix = "hit:"
)

// SLDScope is the scope for unique registrable domains of one provider.
func SLDScope(provider string) string {
	return SLDScopePrefix + provider
}

// HitScope is the scope for unique abuse hits of one provider in one feed
// source.
func HitScope(source, provider string) string {
	return HitScopePrefix + source + ":" + provider
}
