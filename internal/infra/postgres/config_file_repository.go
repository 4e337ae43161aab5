package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"

	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// ConfigFileRepository stores the files of quality gate configurations.
type ConfigFileRepository struct {
	db *DB
}

// NewConfigFileRepository creates a new ConfigFileRepository.
func NewConfigFileRepository(db *DB) *ConfigFileRepository {
	return &ConfigFileRepository{db: db}
}

// GetContentOfMultipleFiles returns every file of a configuration keyed by
// filename.
func (r *ConfigFileRepository) GetContentOfMultipleFiles(ctx context.Context, scope run.Scope) (map[string][]byte, error) {
	query := `
		SELECT filename, content
		FROM config_files
		WHERE namespace_id = $1 AND config_id = $2
	`

	rows, err := r.db.QueryContext(ctx, query, scope.NamespaceID, scope.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("failed to query config files: %w", err)
	}
	defer rows.Close()

	files := make(map[string][]byte)
	for rows.Next() {
		var (
			name    string
			content []byte
		)
		if err := rows.Scan(&name, &content); err != nil {
			return nil, fmt.Errorf("failed to scan config file: %w", err)
		}
		files[name] = content
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate config files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: configuration %s has no files", shared.ErrNotFound, scope)
	}
	return files, nil
}

// Put replaces the files of a configuration.
func (r *ConfigFileRepository) Put(ctx context.Context, scope run.Scope, files map[string][]byte) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM config_files WHERE namespace_id = $1 AND config_id = $2`,
			scope.NamespaceID, scope.ConfigID,
		)
		if err != nil {
			return fmt.Errorf("failed to clear config files: %w", err)
		}

		for _, name := range slices.Sorted(maps.Keys(files)) {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO config_files (namespace_id, config_id, filename, content) VALUES ($1, $2, $3, $4)`,
				scope.NamespaceID, scope.ConfigID, name, files[name],
			)
			if err != nil {
				return fmt.Errorf("failed to insert config file %s: %w", name, err)
			}
		}
		return nil
	})
}
