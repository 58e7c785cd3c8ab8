package retry

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Policy is the single retry/backoff abstraction shared by the session
// provisioner and the automation dispatcher. An attempt reports the HTTP
// status it observed (0 for transport failures); the policy decides whether
// to try again.
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	RetryableStatus func(status int) bool
}

// Default retries transport failures and 5xx responses, three attempts total,
// with a linearly increasing delay between attempts.
func Default() Policy {
	return Policy{
		MaxAttempts:     3,
		BaseDelay:       250 * time.Millisecond,
		RetryableStatus: ServerErrors,
	}
}

func ServerErrors(status int) bool {
	return status >= http.StatusInternalServerError
}

// TerminalError marks an outcome that must not be retried: a non-retryable
// HTTP status, typically 4xx configuration mistakes.
type TerminalError struct {
	Status int
	Err    error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal status %d: %v", e.Status, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// TransientError marks a retry budget exhausted on retryable failures.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Attempt performs one call against the external system. status is 0 when no
// response was received.
type Attempt func(ctx context.Context) (status int, err error)

// Do runs fn under the policy. A nil error from fn ends the loop immediately.
// Failed attempts with a retryable status are repeated until the budget runs
// out and surface as *TransientError; non-retryable statuses surface as
// *TerminalError after the first occurrence. Context cancellation aborts the
// wait between attempts.
func (p Policy) Do(ctx context.Context, fn Attempt) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.RetryableStatus
	if retryable == nil {
		retryable = ServerErrors
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if status != 0 && !retryable(status) {
			return &TerminalError{Status: status, Err: err}
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return &TransientError{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * p.BaseDelay):
		}
	}
	return &TransientError{Attempts: attempts, Err: lastErr}
}
