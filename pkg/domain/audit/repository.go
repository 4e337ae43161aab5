package audit

import (
	"context"
	"database/sql"
)

// Repository defines the interface for audit trail persistence.
// Entries are append-only.
type Repository interface {
	// Append persists an entry outside any transaction.
	Append(ctx context.Context, entry *Entry) error

	// AppendInTx persists an entry within a transaction.
	AppendInTx(ctx context.Context, tx *sql.Tx, entry *Entry) error

	// ListByResource returns the entries of one resource, oldest first.
	ListByResource(ctx context.Context, namespaceID int64, resourceType ResourceType, resourceID string) ([]*Entry, error)
}
