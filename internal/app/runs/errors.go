package runs

import (
	"errors"

	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// ErrIncompleteJobIdentity is returned by CheckHasFinished when the job id,
// name or namespace is missing.
var ErrIncompleteJobIdentity = shared.NewDomainError(
	"INCOMPLETE_JOB_IDENTITY",
	"job id, name and namespace are required to check a run",
	shared.ErrValidation,
)

// ErrNotPending is returned when submitting a run that already left pending.
var ErrNotPending = errors.New("only pending runs can be submitted")
