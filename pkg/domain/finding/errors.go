package finding

import (
	"fmt"

	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// NotFoundError returns a not found error for a finding.
func NotFoundError(id shared.ID) error {
	return fmt.Errorf("%w: finding with id %s not found", shared.ErrNotFound, id)
}

// AlreadyExistsError returns a conflict error for a duplicate hash.
func AlreadyExistsError(hash string) error {
	return fmt.Errorf("%w: finding with hash %s already exists", shared.ErrConflict, hash)
}
