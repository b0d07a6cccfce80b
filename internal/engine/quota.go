package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps bounds the transform loop and the hook drain loop.
const DefaultMaxSteps = 1000

// QuotaEnforcer counts the steps of one bounded loop.
//
// Two loops in the engine have no natural bound: version transforms applied
// to one mutation, and hook rounds triggered by rows the hooks themselves
// write. Each creates its own enforcer and calls Check once per step.
type QuotaEnforcer struct {
	loop     string
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates an enforcer for the named loop.
func NewQuotaEnforcer(loop string, maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{loop: loop, maxSteps: maxSteps}
}

// Check counts one step and fails once the limit is exceeded.
func (q *QuotaEnforcer) Check() error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{Loop: q.loop, Steps: q.current, Limit: q.maxSteps}
	}
	return nil
}

// Current returns the step count so far.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// StepsExceededError is the cause of an ErrCodeNonTermination MutationError.
type StepsExceededError struct {
	Loop  string
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("%s exceeded max steps: %d steps > %d limit", e.Loop, e.Steps, e.Limit)
}

// IsStepsExceededError reports whether err is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
