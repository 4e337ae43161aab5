package audit

import (
	"fmt"

	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// SnapshotError returns a validation error for a snapshot that cannot be encoded.
func SnapshotError(err error) error {
	return fmt.Errorf("%w: encode audit snapshot: %w", shared.ErrValidation, err)
}
