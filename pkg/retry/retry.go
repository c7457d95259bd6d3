package retry

import (
	"context"
	"errors"

	errs "bulkgrab/pkg/errors"
)

// DefaultMaxRetries is the number of retries granted after the first attempt
const DefaultMaxRetries = 3

// Policy decides whether a failed task goes back to the scheduler.
// Retries happen by requeueing, never by looping inside a worker.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
}

// DefaultPolicy returns a policy with sensible defaults
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		RetryIf:    DefaultRetryIf,
	}
}

// DefaultRetryIf is the default retry predicate
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	// Context errors mean the caller gave up
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var typed *errs.Error
	if errors.As(err, &typed) {
		return errs.IsRetryable(typed.Type)
	}

	// Default to retrying unknown errors
	return true
}

// ShouldRetry reports whether a task that has already been retried
// retryCount times may be retried after err
func (p Policy) ShouldRetry(retryCount int, err error) bool {
	if err == nil || retryCount >= p.MaxRetries {
		return false
	}
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	return retryIf(err)
}
