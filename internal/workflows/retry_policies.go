package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Error types the activities mark non-retryable
const (
	ErrTypeNotFound          = "NotFoundError"
	ErrTypeInvalidTransition = "InvalidTransitionError"
	ErrTypeInvariant         = "InvariantViolationError"
)

// SweepRetryPolicy retries ledger writes that lost a race or hit a transient
// store error; a missing or already-consumed reservation is final
func SweepRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    5,
		NonRetryableErrorTypes: []string{
			ErrTypeNotFound,
			ErrTypeInvalidTransition,
			ErrTypeInvariant,
		},
	}
}

// SweepActivityOptions are the options of both sweep activities
func SweepActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         SweepRetryPolicy(),
	}
}
