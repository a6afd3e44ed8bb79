package coalescer

import (
	"errors"
	"fmt"
)

// ErrCancelled is carried by a Result whose Cancelled flag is set; it is
// exposed as a sentinel so callers can errors.Is against a uniform
// value instead of checking the Cancelled flag by hand.
var ErrCancelled = errors.New("coalescer: cancelled")

// RetryExhaustedError wraps the last underlying error once the retry
// policy has given up (spec.md §7's RetryExhausted(last_underlying)).
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("coalescer: retry exhausted after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
