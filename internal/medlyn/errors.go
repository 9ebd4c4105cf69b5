package medlyn

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidSamples means every sample had a null input or vpd <= 0.
	ErrNoValidSamples = errors.New("no samples with finite inputs and positive vpd")
	// ErrInsufficientSamples means too few samples remain to estimate sigma.
	ErrInsufficientSamples = errors.New("not enough samples to estimate residual standard error")
	// ErrNotConverged means the solver stopped without meeting a convergence criterion.
	ErrNotConverged = errors.New("solver stopped before convergence")
)

// ConvergenceError reports a failed fit. It wraps one of the sentinel errors
// above or the solver's own error.
type ConvergenceError struct {
	Reason     string
	Status     string
	Iterations int
	NUsed      int
	Excluded   int
	Err        error
}

func (e *ConvergenceError) Error() string {
	msg := fmt.Sprintf("medlyn fit failed: %s", e.Reason)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %s after %d iterations)", e.Status, e.Iterations)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConvergenceError) Unwrap() error {
	return e.Err
}

// IsTransient returns false; refitting the same data fails the same way.
func (e *ConvergenceError) IsTransient() bool {
	return false
}
