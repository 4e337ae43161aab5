package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openctemio/qualitygate/pkg/domain/audit"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// AuditRepository implements audit.Repository using PostgreSQL.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append persists a new audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	return r.append(ctx, r.db, entry)
}

// AppendInTx persists a new audit entry within a transaction.
func (r *AuditRepository) AppendInTx(ctx context.Context, tx *sql.Tx, entry *audit.Entry) error {
	return r.append(ctx, tx, entry)
}

func (r *AuditRepository) append(ctx context.Context, exec executor, entry *audit.Entry) error {
	query := `
		INSERT INTO audit_entries (
			id, namespace_id, entity_type, entity_id, action, actor,
			before, after, message, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := exec.ExecContext(ctx, query,
		entry.ID().String(),
		entry.NamespaceID(),
		entry.ResourceType().String(),
		entry.ResourceID(),
		entry.Action().String(),
		entry.Actor(),
		jsonOrNull(entry.Before()),
		jsonOrNull(entry.After()),
		entry.GenerateMessage(),
		entry.Timestamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByResource returns the entries of one resource, oldest first.
func (r *AuditRepository) ListByResource(
	ctx context.Context,
	namespaceID int64,
	resourceType audit.ResourceType,
	resourceID string,
) ([]*audit.Entry, error) {
	query := `
		SELECT id, namespace_id, entity_type, entity_id, action, actor,
		       before, after, message, created_at
		FROM audit_entries
		WHERE namespace_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, namespaceID, resourceType.String(), resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// CountOlderThan counts the entries created before the cutoff.
func (r *AuditRepository) CountOlderThan(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE created_at < $1`, before.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// DeleteOlderThan deletes up to limit entries created before the cutoff,
// oldest first.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, before time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM audit_entries
		WHERE id IN (
			SELECT id FROM audit_entries
			WHERE created_at < $1
			ORDER BY created_at
			LIMIT $2
		)
	`
	result, err := r.db.ExecContext(ctx, query, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func scanAuditEntry(row scanner) (*audit.Entry, error) {
	var (
		id, entityType, entityID, action, actor, message string
		namespaceID                                      int64
		before, after                                    []byte
		createdAt                                        sql.NullTime
	)
	if err := row.Scan(&id, &namespaceID, &entityType, &entityID, &action, &actor,
		&before, &after, &message, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	parsed, err := shared.ParseID(id)
	if err != nil {
		return nil, err
	}
	return audit.Reconstitute(
		parsed,
		namespaceID,
		audit.ResourceType(entityType),
		entityID,
		audit.Action(action),
		actor,
		before,
		after,
		message,
		createdAt.Time.UTC(),
	), nil
}

// jsonOrNull stores empty and JSON null snapshots as SQL NULL.
func jsonOrNull(b []byte) any {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}
