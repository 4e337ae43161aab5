package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openctemio/qualitygate/pkg/domain/finding"
	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

const findingColumns = `
	id, namespace_id, config_id, hash,
	chapter, requirement, check_id, criterion, justification,
	status, occurrence_count, metadata,
	resolved_manually, resolver, resolved_at, run_id,
	created_at, updated_at`

// FindingRepository implements finding.Repository using PostgreSQL.
type FindingRepository struct {
	db *DB
}

// NewFindingRepository creates a new FindingRepository.
func NewFindingRepository(db *DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// GetByID retrieves a finding by ID.
func (r *FindingRepository) GetByID(ctx context.Context, id shared.ID) (*finding.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM findings WHERE id = $1`
	f, err := scanFinding(r.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, finding.NotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get finding: %w", err)
	}
	return f, nil
}

// Update persists a finding outside reconciliation.
func (r *FindingRepository) Update(ctx context.Context, f *finding.Finding) error {
	return r.update(ctx, r.db, f)
}

// UpdateInTx persists a finding within a transaction.
func (r *FindingRepository) UpdateInTx(ctx context.Context, tx *sql.Tx, f *finding.Finding) error {
	return r.update(ctx, tx, f)
}

// Delete removes a finding.
func (r *FindingRepository) Delete(ctx context.Context, id shared.ID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM findings WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete finding: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return finding.NotFoundError(id)
	}
	return nil
}

// ListByScopeInTx returns every finding of a configuration within a
// transaction. Rows are locked until the transaction ends.
func (r *FindingRepository) ListByScopeInTx(ctx context.Context, tx *sql.Tx, scope run.Scope) ([]*finding.Finding, error) {
	query := `SELECT ` + findingColumns + `
		FROM findings
		WHERE namespace_id = $1 AND config_id = $2
		ORDER BY created_at, id
		FOR UPDATE`

	rows, err := tx.QueryContext(ctx, query, scope.NamespaceID, scope.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []*finding.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate findings: %w", err)
	}
	return findings, nil
}

// CreateInTx inserts a finding within a transaction.
func (r *FindingRepository) CreateInTx(ctx context.Context, tx *sql.Tx, f *finding.Finding) error {
	metadata, err := toJSONB(f.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if metadata == nil {
		metadata = []byte("{}")
	}

	query := `INSERT INTO findings (` + findingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err = tx.ExecContext(ctx, query,
		f.ID.String(),
		f.Scope.NamespaceID,
		f.Scope.ConfigID,
		f.Hash,
		f.Chapter,
		f.Requirement,
		f.Check,
		f.Criterion,
		f.Justification,
		f.Status.String(),
		f.OccurrenceCount,
		metadata,
		f.ResolvedManually,
		nullStringPtr(f.ResolvedBy),
		nullTime(f.ResolvedAt),
		f.RunID,
		f.CreatedAt,
		f.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return finding.AlreadyExistsError(f.Hash)
		}
		return fmt.Errorf("failed to create finding: %w", err)
	}
	return nil
}

func (r *FindingRepository) update(ctx context.Context, exec executor, f *finding.Finding) error {
	metadata, err := toJSONB(f.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if metadata == nil {
		metadata = []byte("{}")
	}

	query := `
		UPDATE findings SET
			status = $2, occurrence_count = $3, metadata = $4,
			resolved_manually = $5, resolver = $6, resolved_at = $7,
			run_id = $8, updated_at = $9
		WHERE id = $1
	`

	result, err := exec.ExecContext(ctx, query,
		f.ID.String(),
		f.Status.String(),
		f.OccurrenceCount,
		metadata,
		f.ResolvedManually,
		nullStringPtr(f.ResolvedBy),
		nullTime(f.ResolvedAt),
		f.RunID,
		f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update finding: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return finding.NotFoundError(f.ID)
	}
	return nil
}

func scanFinding(row scanner) (*finding.Finding, error) {
	var (
		f          finding.Finding
		id         string
		status     string
		metadata   []byte
		resolver   sql.NullString
		resolvedAt sql.NullTime
	)

	err := row.Scan(
		&id,
		&f.Scope.NamespaceID,
		&f.Scope.ConfigID,
		&f.Hash,
		&f.Chapter,
		&f.Requirement,
		&f.Check,
		&f.Criterion,
		&f.Justification,
		&status,
		&f.OccurrenceCount,
		&metadata,
		&f.ResolvedManually,
		&resolver,
		&resolvedAt,
		&f.RunID,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := shared.ParseID(id)
	if err != nil {
		return nil, err
	}
	f.ID = parsed
	f.Status = finding.Status(status)
	f.ResolvedBy = nullStringPtrValue(resolver)
	f.ResolvedAt = nullTimeValue(resolvedAt)
	f.Metadata = map[string]any{}
	if err := fromJSONB(metadata, &f.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &f, nil
}
