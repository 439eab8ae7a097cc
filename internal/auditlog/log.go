package auditlog

import "context"

// Log is the interface for the append-only audit chain, scoped to one
// tenant namespace. Both MemoryLog and PostgresLog implement it.
type Log interface {
	// Append adds a new entry chained to the previous one. details is
	// JSON-marshalled and its SHA-256 stored as DataHash; the raw details
	// are not retained in the chain itself, only in the caller's own
	// storage if it chooses to keep them. The chain only needs to make
	// the action envelope auditable, not replay the full payload.
	Append(ctx context.Context, agentID, action, resource string, details any) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the number of entries, including genesis.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Recent returns up to limit entries, most recent first.
	Recent(ctx context.Context, limit int) ([]*Entry, error)
}
