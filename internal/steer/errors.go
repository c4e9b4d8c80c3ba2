package steer

import (
	"errors"
	"fmt"
)

// ShapeMismatchError reports an intervention that would change an
// activation's shape. This is a programming error in a spec or custom mode;
// it fails fast and is never silently coerced, because a shape change would
// corrupt every layer downstream.
type ShapeMismatchError struct {
	// Layer is the hook point where the mismatch occurred.
	Layer string

	// DirectionDim is the steering vector's length.
	DirectionDim int

	// ActivationDim is the activation's trailing (hidden) dimension.
	ActivationDim int
}

// Error implements the error interface.
func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch at layer %q: direction has %d dims, activation has %d",
		e.Layer, e.DirectionDim, e.ActivationDim)
}

// IsShapeMismatch reports whether err is (or wraps) a ShapeMismatchError.
func IsShapeMismatch(err error) bool {
	var se *ShapeMismatchError
	return errors.As(err, &se)
}

// ConflictingModeError reports a spec set that violates the composition
// policy - for example a per-layer strength budget exceeded, or two
// clamped-additive specs with incompatible norm caps on the same layer.
// Surfaced at attach time, before any forward pass runs.
type ConflictingModeError struct {
	// Layer is the contested layer path.
	Layer string

	// Reason describes the policy violation.
	Reason string
}

// Error implements the error interface.
func (e *ConflictingModeError) Error() string {
	return fmt.Sprintf("conflicting steering specs at layer %q: %s", e.Layer, e.Reason)
}

// IsConflictingMode reports whether err is (or wraps) a ConflictingModeError.
func IsConflictingMode(err error) bool {
	var ce *ConflictingModeError
	return errors.As(err, &ce)
}
