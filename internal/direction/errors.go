package direction

import (
	"errors"
	"fmt"
)

// InsufficientDataError reports too few contrastive pairs to estimate a
// direction. A single pair cannot separate concept signal from
// example-specific noise. User error; surfaced immediately, never retried.
type InsufficientDataError struct {
	// Pairs is the number of pairs supplied.
	Pairs int

	// Min is the required minimum.
	Min int
}

// Error implements the error interface.
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("direction estimation requires at least %d contrastive pairs, got %d", e.Min, e.Pairs)
}

// IsInsufficientData reports whether err is (or wraps) an
// InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ie *InsufficientDataError
	return errors.As(err, &ie)
}
