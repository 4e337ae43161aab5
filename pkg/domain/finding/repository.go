package finding

import (
	"context"
	"database/sql"

	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// Repository defines the interface for finding persistence.
type Repository interface {
	// GetByID retrieves a finding by ID.
	GetByID(ctx context.Context, id shared.ID) (*Finding, error)

	// Update persists a finding outside reconciliation, e.g. a manual resolution.
	Update(ctx context.Context, f *Finding) error

	// Delete removes a finding. Only users delete findings.
	Delete(ctx context.Context, id shared.ID) error

	// ListByScopeInTx returns every finding of a configuration within a transaction.
	ListByScopeInTx(ctx context.Context, tx *sql.Tx, scope run.Scope) ([]*Finding, error)

	// CreateInTx inserts a finding within a transaction.
	CreateInTx(ctx context.Context, tx *sql.Tx, f *Finding) error

	// UpdateInTx persists a finding within a transaction.
	UpdateInTx(ctx context.Context, tx *sql.Tx, f *Finding) error
}
