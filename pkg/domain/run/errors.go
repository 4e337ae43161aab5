package run

import (
	"errors"

	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

var (
	// ErrNotFound is returned when a run does not exist in its namespace.
	ErrNotFound = shared.NewDomainError("RUN_NOT_FOUND", "run not found", shared.ErrNotFound)

	// ErrStale is returned when a run is no longer in the status an update
	// expected, because another process already moved it.
	ErrStale = shared.NewDomainError("RUN_STALE", "run already left the expected status", shared.ErrConflict)

	// ErrIncompleteJob is returned when a job reference misses one of its parts.
	ErrIncompleteJob = shared.NewDomainError("INCOMPLETE_JOB", "job name, namespace and id are all required", shared.ErrValidation)

	// ErrDataInconsistency marks a persisted run whose fields contradict each
	// other, such as a running run without a job reference. It is logged, never
	// returned to callers.
	ErrDataInconsistency = errors.New("run data inconsistency")
)

// TimeoutLogLine is the whole log of a run failed by the poller timeout.
const TimeoutLogLine = "Failed due to timeout"
