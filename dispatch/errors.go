package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCancelled is matched by every error caused by the caller's cancellation.
	ErrCancelled = errors.New("operation cancelled")
	// ErrRetryExhausted is matched by *RetryExhaustedError.
	ErrRetryExhausted = errors.New("retry budget exhausted")
	// ErrAuthentication is matched by *AuthenticationError.
	ErrAuthentication = errors.New("authentication failed")
	// ErrCredentialsRejected is matched by token errors caused by the auth
	// endpoint refusing the credentials (as opposed to being unreachable).
	// The dispatcher treats them like a 401 instead of a transient failure.
	ErrCredentialsRejected = errors.New("credentials rejected")
)

// TransientError describes a single failed attempt: a network error, a
// timeout or a retryable status. It never reaches the caller on its own, only
// wrapped inside a RetryExhaustedError.
type TransientError struct {
	Endpoint   string
	Attempt    int
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("attempt %d on %s: HTTP %d: %s", e.Attempt, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("attempt %d on %s: %s", e.Attempt, e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is returned when the total attempt budget was consumed
// without success. Failures holds the last failure observed on each endpoint
// that was tried.
type RetryExhaustedError struct {
	Attempts int
	Failures map[string]error
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s after %d attempt(s)", ErrRetryExhausted, e.Attempts)
	for _, endpoint := range sortedKeys(e.Failures) {
		fmt.Fprintf(&b, "; %s: %s", endpoint, e.Failures[endpoint])
	}
	return b.String()
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

func (e *RetryExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, endpoint := range sortedKeys(e.Failures) {
		errs = append(errs, e.Failures[endpoint])
	}
	return errs
}

// AuthenticationError is returned when the budget ran out while the last
// attempt was still rejected with 401, i.e. token refreshes did not help.
type AuthenticationError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s on %s after %d attempt(s): %s", ErrAuthentication, e.Endpoint, e.Attempts, e.Err)
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// CancelledError wraps the context error of a dispatch stopped by its caller.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCancelled, e.Err)
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
