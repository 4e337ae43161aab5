package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrStageOrder is returned when builder stages are called out of order.
	ErrStageOrder = errors.New("workflow builder stage called out of order")

	// ErrMissingRootFile is returned when the bundle lacks the root configuration file.
	ErrMissingRootFile = errors.New("configuration root file is missing")
)

// FormatError reports a configuration whose declared format is not supported.
// Its message is shown to users as-is.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "Unknown format: " + e.Reason
}

func newFormatError(format string, args ...any) *FormatError {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// IsFormatError reports whether err is or wraps a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
