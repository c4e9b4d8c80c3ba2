// Package model defines the capability interface the control engine uses to
// talk to a neural network, plus a deterministic reference implementation.
//
// The engine never depends on a framework's internals. Everything it needs
// from a model is expressed here: resolving named layers, registering and
// removing activation hooks, and running a forward pass. Any backend that
// implements Model (an adapter around a real inference runtime, or the toy
// tower in this package) can be captured, probed, and steered.
package model

import (
	"context"

	"github.com/sourcery-ai-experiments/mulsi/internal/tensor"
)

// LayerHandle identifies an addressable point in a model's computation
// graph. Immutable once created; resolved against a specific model instance.
//
// Path is the dotted module path (e.g. "vision.blocks.3.mlp"); Index is the
// layer's ordinal in forward order, assigned at resolution time.
type LayerHandle struct {
	Path  string
	Index int
}

// HookFn observes or replaces the activation tensor flowing through a layer.
// Returning a different tensor substitutes it into the forward pass; the
// replacement must preserve shape and dtype.
type HookFn func(act *tensor.Dense) (*tensor.Dense, error)

// HookToken identifies one registered hook for later removal.
// Opaque to callers; comparable so registries can be snapshotted and diffed.
type HookToken struct {
	ID    string
	Layer string
}

// Example is one preprocessed input to the model.
type Example struct {
	ID     string
	Tokens []int
}

// Inputs is a batch of preprocessed examples.
type Inputs struct {
	Examples []Example
}

// Outputs holds per-example forward pass results.
// Logits and Pooled are indexed parallel to Inputs.Examples.
type Outputs struct {
	Logits [][]float32
	Pooled [][]float32
}

// Model is the opaque capability the engine steers and probes.
//
// Hook registration mutates shared per-instance state; callers are expected
// to serialize RegisterHook/RemoveHook/Forward for a given instance (the
// SteeringController holds that boundary).
type Model interface {
	// Name identifies the model instance (for provenance records).
	Name() string

	// LayerNames enumerates hookable layer paths in forward order.
	LayerNames() []string

	// ResolveLayer resolves a dotted path to a handle.
	// Returns *LayerNotFoundError for unknown paths.
	ResolveLayer(name string) (LayerHandle, error)

	// RegisterHook attaches fn at the resolved point. Hooks at the same
	// layer run in registration order.
	RegisterHook(h LayerHandle, fn HookFn) (HookToken, error)

	// RemoveHook detaches a previously registered hook.
	RemoveHook(tok HookToken) error

	// HookSnapshot returns all registered tokens in deterministic order.
	// Used to verify that scoped attachment left no dangling probes.
	HookSnapshot() []HookToken

	// Forward runs one forward pass. Blocking; honors ctx cancellation.
	Forward(ctx context.Context, in *Inputs) (*Outputs, error)
}
