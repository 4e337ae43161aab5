package findings

import (
	"errors"
	"fmt"
)

// ErrProcessing marks a failed reconciliation. Callers log it and carry on.
var ErrProcessing = errors.New("findings processing failed")

func processingError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProcessing, op, err)
}
