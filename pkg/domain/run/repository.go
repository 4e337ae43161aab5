package run

import (
	"context"
	"database/sql"
)

// Repository defines the interface for run persistence.
type Repository interface {
	// Create inserts a run and assigns the next id of its namespace.
	Create(ctx context.Context, r *Run) error

	// GetByID retrieves a run by namespace and id.
	GetByID(ctx context.Context, namespaceID, id int64) (*Run, error)

	// ListActive lists every pending or running run, oldest first.
	ListActive(ctx context.Context) ([]*Run, error)

	// UpdateInTx persists the mutable fields of a run within a transaction.
	// When from is not empty the stored run must still be in one of those
	// statuses; otherwise nothing is written and ErrStale is returned.
	UpdateInTx(ctx context.Context, tx *sql.Tx, r *Run, from ...Status) error
}
