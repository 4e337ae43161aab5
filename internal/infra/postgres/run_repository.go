package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/openctemio/qualitygate/pkg/domain/run"
)

// maxCreateAttempts bounds id allocation races between concurrent creates.
const maxCreateAttempts = 3

const runColumns = `
	namespace_id, id, config_id, status, overall_result,
	job_name, job_namespace, job_id, log,
	creation_time, completion_time, storage_path`

// RunRepository implements run.Repository using PostgreSQL.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts the run and assigns it the next id of its namespace.
func (r *RunRepository) Create(ctx context.Context, rn *run.Run) error {
	logJSON, err := toJSONB(logOrEmpty(rn.Log))
	if err != nil {
		return fmt.Errorf("failed to marshal log: %w", err)
	}
	job := jobColumns(rn.Job)

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES (
			$1, (SELECT COALESCE(MAX(id), 0) + 1 FROM runs WHERE namespace_id = $1),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		RETURNING id
	`

	for attempt := 1; ; attempt++ {
		var id int64
		err = r.db.QueryRowContext(ctx, query,
			rn.Scope.NamespaceID,
			rn.Scope.ConfigID,
			rn.Status.String(),
			overallResultValue(rn.OverallResult),
			job[0], job[1], job[2],
			logJSON,
			rn.CreationTime,
			nullTime(rn.CompletionTime),
			rn.StoragePath,
		).Scan(&id)
		if err == nil {
			rn.ID = id
			return nil
		}
		if !isUniqueViolation(err) || attempt == maxCreateAttempts {
			return fmt.Errorf("failed to create run: %w", err)
		}
	}
}

// GetByID retrieves a run by namespace and id.
func (r *RunRepository) GetByID(ctx context.Context, namespaceID, id int64) (*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE namespace_id = $1 AND id = $2`
	rn, err := scanRun(r.db.QueryRowContext(ctx, query, namespaceID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d/%d", run.ErrNotFound, namespaceID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rn, nil
}

// ListActive lists every pending or running run, oldest first.
func (r *RunRepository) ListActive(ctx context.Context) ([]*run.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE status IN ($1, $2)
		ORDER BY creation_time ASC, namespace_id, id`

	rows, err := r.db.QueryContext(ctx, query, run.StatusPending.String(), run.StatusRunning.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	defer rows.Close()

	var runs []*run.Run
	for rows.Next() {
		rn, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// UpdateInTx persists the mutable fields of a run within a transaction.
// With from set, the row is only written while its status is one of from.
func (r *RunRepository) UpdateInTx(ctx context.Context, tx *sql.Tx, rn *run.Run, from ...run.Status) error {
	return r.update(ctx, tx, rn, from)
}

func (r *RunRepository) update(ctx context.Context, exec executor, rn *run.Run, from []run.Status) error {
	logJSON, err := toJSONB(logOrEmpty(rn.Log))
	if err != nil {
		return fmt.Errorf("failed to marshal log: %w", err)
	}
	job := jobColumns(rn.Job)

	query := `
		UPDATE runs SET
			status = $3, overall_result = $4,
			job_name = $5, job_namespace = $6, job_id = $7,
			log = $8, creation_time = $9, completion_time = $10
		WHERE namespace_id = $1 AND id = $2
	`
	args := []any{
		rn.Scope.NamespaceID,
		rn.ID,
		rn.Status.String(),
		overallResultValue(rn.OverallResult),
		job[0], job[1], job[2],
		logJSON,
		rn.CreationTime,
		nullTime(rn.CompletionTime),
	}
	if len(from) > 0 {
		query += ` AND status = ANY($11)`
		args = append(args, pq.Array(statusStrings(from)))
	}

	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if len(from) == 0 {
		return fmt.Errorf("%w: %d/%d", run.ErrNotFound, rn.Scope.NamespaceID, rn.ID)
	}

	var exists bool
	err = exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM runs WHERE namespace_id = $1 AND id = $2)`,
		rn.Scope.NamespaceID, rn.ID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check run: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %d/%d", run.ErrNotFound, rn.Scope.NamespaceID, rn.ID)
	}
	return fmt.Errorf("%w: %d/%d", run.ErrStale, rn.Scope.NamespaceID, rn.ID)
}

func scanRun(row scanner) (*run.Run, error) {
	var (
		rn             run.Run
		status         string
		overallResult  sql.NullString
		jobName        sql.NullString
		jobNamespace   sql.NullString
		jobID          sql.NullString
		logJSON        []byte
		completionTime sql.NullTime
	)

	err := row.Scan(
		&rn.Scope.NamespaceID,
		&rn.ID,
		&rn.Scope.ConfigID,
		&status,
		&overallResult,
		&jobName,
		&jobNamespace,
		&jobID,
		&logJSON,
		&rn.CreationTime,
		&completionTime,
		&rn.StoragePath,
	)
	if err != nil {
		return nil, err
	}

	rn.Status = run.Status(status)
	if overallResult.Valid {
		res := run.OverallResult(overallResult.String)
		rn.OverallResult = &res
	}
	if jobName.Valid || jobNamespace.Valid || jobID.Valid {
		rn.Job = &run.JobRef{
			Name:      nullStringValue(jobName),
			Namespace: nullStringValue(jobNamespace),
			ID:        nullStringValue(jobID),
		}
	}
	if err := fromJSONB(logJSON, &rn.Log); err != nil {
		return nil, fmt.Errorf("failed to unmarshal log: %w", err)
	}
	rn.Log = logOrEmpty(rn.Log)
	rn.CreationTime = rn.CreationTime.UTC()
	rn.CompletionTime = nullTimeValue(completionTime)
	return &rn, nil
}

func jobColumns(job *run.JobRef) [3]sql.NullString {
	if job == nil {
		return [3]sql.NullString{}
	}
	return [3]sql.NullString{nullString(job.Name), nullString(job.Namespace), nullString(job.ID)}
}

func overallResultValue(res *run.OverallResult) sql.NullString {
	if res == nil {
		return sql.NullString{}
	}
	return nullString(res.String())
}

func statusStrings(statuses []run.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = st.String()
	}
	return out
}

func logOrEmpty(log []string) []string {
	if log == nil {
		return []string{}
	}
	return log
}
