package ledger

import (
	"context"
)

// Store provides append and query access to the ledger. The ledger is
// append-only: no method mutates a written record except MarkUndone, which
// flips the terminal undone marker exactly once.
type Store interface {
	// Append writes one ledger record and returns it with its generated
	// id and timestamp.
	Append(ctx context.Context, entry Entry) (*Record, error)

	// GetByID retrieves a single record, or NotFoundError
	GetByID(ctx context.Context, id string) (*Record, error)

	// ListForEntity returns the records concerning one live-store row,
	// newest first. An entity with no history yields an empty slice,
	// not an error.
	ListForEntity(ctx context.Context, entityType EntityType, entityID string, limit int) ([]*Record, error)

	// List returns one page of the global ledger plus the total count
	// matching the filter.
	List(ctx context.Context, filter Filter) (*Page, error)

	// MarkUndone sets the undone marker on a record. The write is
	// conditional: it succeeds only if the marker was not already set,
	// and returns ConflictError otherwise. Two concurrent undo attempts
	// against the same record therefore cannot both win.
	MarkUndone(ctx context.Context, id string) error
}
