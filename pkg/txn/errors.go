package txn

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrClosed is returned once the manager has shut down.
	ErrClosed = errors.New("transaction manager closed")
	// ErrUnknownLock is returned when releasing a lock that is not held.
	ErrUnknownLock = errors.New("lock not held")
	// ErrVerifyFailed marks a step whose verification never passed.
	ErrVerifyFailed = errors.New("step verification failed")
)

// ConcurrencyError reports a lock or queue slot that could not be granted
// before the caller's context ended.
type ConcurrencyError struct {
	Store string
	Mode  Mode
	Err   error
}

func (e *ConcurrencyError) Error() string {
	if e.Store == "" {
		return fmt.Sprintf("transaction queue: %v", e.Err)
	}
	return fmt.Sprintf("acquire %s lock on %s: %v", e.Mode, e.Store, e.Err)
}

func (e *ConcurrencyError) Unwrap() error {
	return e.Err
}

// RollbackFailure records a rollback handler that returned an error.
type RollbackFailure struct {
	Step string `json:"step"`
	Err  error  `json:"-"`
}

// AtomicityError reports a multi-step operation that failed after partial
// execution, along with the outcome of rolling back the completed steps.
type AtomicityError struct {
	Step             string
	Err              error
	RolledBack       []string
	RollbackFailures []RollbackFailure
}

func (e *AtomicityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "atomic step %q failed: %v", e.Step, e.Err)
	if len(e.RollbackFailures) > 0 {
		names := make([]string, len(e.RollbackFailures))
		for i, f := range e.RollbackFailures {
			names[i] = fmt.Sprintf("%s (%v)", f.Step, f.Err)
		}
		fmt.Fprintf(&b, "; rollback failed for %s", strings.Join(names, ", "))
	}
	return b.String()
}

// Unwrap exposes the step failure and every rollback failure to errors.Is/As.
func (e *AtomicityError) Unwrap() []error {
	errs := make([]error, 0, 1+len(e.RollbackFailures))
	errs = append(errs, e.Err)
	for _, f := range e.RollbackFailures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Consistent reports whether every completed step rolled back cleanly.
func (e *AtomicityError) Consistent() bool {
	return len(e.RollbackFailures) == 0
}

// MapHTTPStatus maps transaction errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	var ce *ConcurrencyError
	if errors.As(err, &ce) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
