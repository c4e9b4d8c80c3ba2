package model

import (
	"errors"
	"fmt"
)

// LayerNotFoundError reports a LayerHandle or layer name that does not
// resolve against the target model. This is a user/config error and is
// never retried.
type LayerNotFoundError struct {
	// Layer is the path that failed to resolve.
	Layer string

	// Model is the name of the model instance it was resolved against.
	Model string

	// Known lists the valid layer paths, for diagnostics.
	Known []string
}

// Error implements the error interface.
func (e *LayerNotFoundError) Error() string {
	return fmt.Sprintf("layer %q not found in model %q (%d hookable layers)", e.Layer, e.Model, len(e.Known))
}

// IsLayerNotFound reports whether err is (or wraps) a LayerNotFoundError.
func IsLayerNotFound(err error) bool {
	var le *LayerNotFoundError
	return errors.As(err, &le)
}

// ForwardPassError reports a failure inside the underlying model's forward
// computation. It is propagated to the caller only after all probes and
// hooks have been detached.
type ForwardPassError struct {
	// Model is the name of the model instance that failed.
	Model string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *ForwardPassError) Error() string {
	return fmt.Sprintf("forward pass failed on model %q: %v", e.Model, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As chains.
func (e *ForwardPassError) Unwrap() error {
	return e.Err
}

// IsForwardPassError reports whether err is (or wraps) a ForwardPassError.
func IsForwardPassError(err error) bool {
	var fe *ForwardPassError
	return errors.As(err, &fe)
}
