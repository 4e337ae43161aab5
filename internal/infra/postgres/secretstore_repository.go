package postgres

import (
	"context"
	"fmt"

	"github.com/openctemio/qualitygate/pkg/crypto"
)

// SecretRepository stores namespace secrets encrypted at rest.
type SecretRepository struct {
	db        *DB
	encryptor crypto.Encryptor
}

// NewSecretRepository creates a new SecretRepository. A nil encryptor stores
// values in plain text.
func NewSecretRepository(db *DB, encryptor crypto.Encryptor) *SecretRepository {
	if encryptor == nil {
		encryptor = crypto.NoOpEncryptor{}
	}
	return &SecretRepository{db: db, encryptor: encryptor}
}

// secretLabel binds a ciphertext to its namespace and name.
func secretLabel(namespaceID int64, name string) string {
	return fmt.Sprintf("%d/%s", namespaceID, name)
}

// GetSecrets returns the decrypted secrets of a namespace keyed by name.
func (r *SecretRepository) GetSecrets(ctx context.Context, namespaceID int64) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, encrypted_value FROM secrets WHERE namespace_id = $1`,
		namespaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query secrets: %w", err)
	}
	defer rows.Close()

	secrets := make(map[string]string)
	for rows.Next() {
		var name, encrypted string
		if err := rows.Scan(&name, &encrypted); err != nil {
			return nil, fmt.Errorf("failed to scan secret: %w", err)
		}
		value, err := r.encryptor.DecryptString(secretLabel(namespaceID, name), encrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt secret %s: %w", name, err)
		}
		secrets[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate secrets: %w", err)
	}
	return secrets, nil
}

// Set creates or replaces a secret.
func (r *SecretRepository) Set(ctx context.Context, namespaceID int64, name, value string) error {
	encrypted, err := r.encryptor.EncryptString(secretLabel(namespaceID, name), value)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	query := `
		INSERT INTO secrets (namespace_id, name, encrypted_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace_id, name) DO UPDATE SET encrypted_value = EXCLUDED.encrypted_value
	`
	if _, err := r.db.ExecContext(ctx, query, namespaceID, name, encrypted); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}
