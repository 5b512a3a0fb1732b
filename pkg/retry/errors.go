package retry

import (
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"time"
)

// ExhaustedError is returned when an operation fails terminally. It matches both errs.ErrRetryExhausted and the
// cause with errors.Is.
type ExhaustedError struct {
	Operation string
	Service   string
	Attempts  int
	Elapsed   time.Duration
	Metadata  map[string]any
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s/%s failed after %d attempt(s) in %s: %v",
		errs.ErrRetryExhausted.Error(), e.Service, e.Operation, e.Attempts, e.Elapsed, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{errs.ErrRetryExhausted, e.Err}
}
