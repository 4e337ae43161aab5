package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResponse is returned when the executor could not be reached at all.
	ErrNoResponse = errors.New("executor: no result returned")

	// ErrUnknownContainer is returned for a container role outside main, init and wait.
	ErrUnknownContainer = errors.New("executor: unknown container")
)

// maxErrorBody bounds the response body kept in an HTTPError.
const maxErrorBody = 2048

// HTTPError is a non-2xx executor response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("executor: %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsHTTPStatus reports whether err is an HTTPError with the given status code.
func IsHTTPStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}
