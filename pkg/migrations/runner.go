// Package migrations applies the embedded Postgres schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/openctemio/qualitygate/pkg/logger"
)

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the migrations shipped with the binary.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err) // the embed pattern guarantees the directory
	}
	return sub
}

// Runner executes database migrations.
type Runner struct {
	db     *sql.DB
	files  fs.FS
	logger *logger.Logger
}

// NewRunner creates a new migration runner over files.
func NewRunner(db *sql.DB, files fs.FS, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{
		db:     db,
		files:  files,
		logger: log.With("component", "migrations"),
	}
}

// MigrationRecord represents a migration in the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// EnsureMigrationTable creates the schema_migrations table if it doesn't exist.
func (r *Runner) EnsureMigrationTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(14) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	return err
}

// GetAppliedMigrations returns all applied migration versions.
func (r *Runner) GetAppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.Version, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetPendingMigrations returns versions that need to be applied, in order.
func (r *Runner) GetPendingMigrations(ctx context.Context) ([]string, error) {
	available, err := r.versions()
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	applied, err := r.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, rec := range applied {
		appliedSet[rec.Version] = true
	}

	var pending []string
	for _, v := range available {
		if !appliedSet[v] {
			pending = append(pending, v)
		}
	}
	return pending, nil
}

// Up runs all pending migrations and returns how many were applied.
func (r *Runner) Up(ctx context.Context) (int, error) {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to ensure migration table: %w", err)
	}

	pending, err := r.GetPendingMigrations(ctx)
	if err != nil {
		return 0, err
	}

	for i, version := range pending {
		if err := r.apply(ctx, version); err != nil {
			return i, fmt.Errorf("migration %s failed: %w", version, err)
		}
		r.logger.Info("migration applied", "version", version)
	}
	return len(pending), nil
}

func (r *Runner) apply(ctx context.Context, version string) error {
	name, err := r.file(version, "up")
	if err != nil {
		return err
	}
	content, err := fs.ReadFile(r.files, name)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Runner) file(version, direction string) (string, error) {
	matches, err := fs.Glob(r.files, fmt.Sprintf("%s_*.%s.sql", version, direction))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("migration file not found: %s (%s)", version, direction)
	}
	return matches[0], nil
}

func (r *Runner) versions() ([]string, error) {
	matches, err := fs.Glob(r.files, "*.up.sql")
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(matches))
	for _, m := range matches {
		version, _, _ := strings.Cut(path.Base(m), "_")
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}
