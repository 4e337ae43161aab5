// Package bootstrap builds the repositories and services shared by the
// server and the admin CLI.
package bootstrap

import (
	"github.com/openctemio/qualitygate/internal/infra/postgres"
	"github.com/openctemio/qualitygate/pkg/crypto"
)

// Repositories holds all repository instances.
type Repositories struct {
	Run     *postgres.RunRepository
	Finding *postgres.FindingRepository
	Audit   *postgres.AuditRepository
	Config  *postgres.ConfigFileRepository
	Secret  *postgres.SecretRepository
}

// NewRepositories creates all repositories over db. Secrets are decrypted
// with encryptor.
func NewRepositories(db *postgres.DB, encryptor crypto.Encryptor) *Repositories {
	return &Repositories{
		Run:     postgres.NewRunRepository(db),
		Finding: postgres.NewFindingRepository(db),
		Audit:   postgres.NewAuditRepository(db),
		Config:  postgres.NewConfigFileRepository(db),
		Secret:  postgres.NewSecretRepository(db, encryptor),
	}
}

// NewEncryptor builds the secret store cipher. Without a configured key,
// secrets are stored as-is; config validation forbids that in production.
func NewEncryptor(key, passphrase, salt string) (crypto.Encryptor, error) {
	switch {
	case key != "":
		return crypto.NewCipherFromBase64(key)
	case passphrase != "":
		return crypto.NewCipherFromPassphrase(passphrase, salt)
	default:
		return crypto.NoOpEncryptor{}, nil
	}
}
