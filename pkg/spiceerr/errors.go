// Package spiceerr defines the typed failures the engine raises.
package spiceerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConvergence is raised by the Newton driver once every
	// convergence aid (voltage limiting, gmin stepping, source stepping)
	// has been exhausted.
	ErrNoConvergence = errors.New("spiceerr: no convergence")

	// ErrSingularMatrix is raised by OrderAndFactor when no acceptable
	// pivot exists at some elimination step.
	ErrSingularMatrix = errors.New("spiceerr: singular matrix")

	// ErrTimestepTooSmall is raised by the transient driver when a
	// proposed step falls below DeltaMin.
	ErrTimestepTooSmall = errors.New("spiceerr: timestep too small")

	// ErrInvalidParameter is raised when an export names a device or
	// property that does not exist.
	ErrInvalidParameter = errors.New("spiceerr: invalid parameter")

	// ErrBadConnection names a pin/node mismatch; no function in this
	// module returns it.
	ErrBadConnection = errors.New("spiceerr: bad connection")

	// ErrNotFactored is raised by Solve/SolveTransposed before a
	// successful Factor/OrderAndFactor.
	ErrNotFactored = errors.New("spiceerr: matrix not factored")

	// ErrMatrixFrozen is raised by GetElement once the matrix is fixed
	// and the requested element was not created during setup.
	ErrMatrixFrozen = errors.New("spiceerr: matrix is frozen")

	// ErrFactorFailed is raised by Factor (as opposed to OrderAndFactor)
	// on a numerically zero pivot; callers should re-order.
	ErrFactorFailed = errors.New("spiceerr: factor failed, reorder required")
)

// SimError wraps one of the sentinels above with the offending entity
// name and the simulation time or frequency at which it occurred.
type SimError struct {
	Entity  string
	Time    float64
	HasTime bool
	Wrapped error
}

func (e *SimError) Error() string {
	if e.Entity == "" && !e.HasTime {
		return e.Wrapped.Error()
	}
	if e.HasTime {
		return fmt.Sprintf("%s (entity %q, t=%g)", e.Wrapped.Error(), e.Entity, e.Time)
	}
	return fmt.Sprintf("%s (entity %q)", e.Wrapped.Error(), e.Entity)
}

func (e *SimError) Unwrap() error { return e.Wrapped }

// Wrap attaches entity context to a sentinel error.
func Wrap(err error, entity string) error {
	if err == nil {
		return nil
	}
	return &SimError{Entity: entity, Wrapped: err}
}

// WrapAt attaches entity and time/frequency context to a sentinel error.
func WrapAt(err error, entity string, t float64) error {
	if err == nil {
		return nil
	}
	return &SimError{Entity: entity, Time: t, HasTime: true, Wrapped: err}
}
