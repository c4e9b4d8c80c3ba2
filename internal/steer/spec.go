// Package steer applies steering directions to a live model through scoped
// intervention hooks.
//
// An InterventionSpec is declarative and inert; the SteeringController
// attaches it as a hook for the duration of a scope and guarantees
// detachment on every exit path. No spec outlives the scope that attached
// it - stale hooks silently persisting into a later pass are the primary
// correctness hazard this package exists to prevent.
package steer

import (
	"fmt"

	"github.com/sourcery-ai-experiments/mulsi/internal/direction"
	"github.com/sourcery-ai-experiments/mulsi/internal/model"
	"github.com/sourcery-ai-experiments/mulsi/internal/tensor"
)

// Mode selects how a direction is applied to an activation.
type Mode string

const (
	// ModeAdditive adds strength × direction to every token activation.
	ModeAdditive Mode = "additive"

	// ModeProjectOut removes the activation's component along the
	// direction, suppressing a concept instead of injecting one.
	ModeProjectOut Mode = "projection-removal"

	// ModeClampedAdditive is additive with the result's norm rescaled to
	// at most NormCap × the input's norm, preventing runaway magnitude
	// that destabilizes downstream layers.
	ModeClampedAdditive Mode = "clamped-additive"
)

// Spec is one declarative intervention: a layer, a direction, a mode, and a
// strength. Inert until attached by a SteeringController.
type Spec struct {
	Layer     string
	Direction direction.Direction
	Mode      Mode

	// Strength scales the direction for the additive modes.
	// Ignored by ModeProjectOut.
	Strength float32

	// NormCap bounds the output norm for ModeClampedAdditive, as a
	// multiple of the input norm. Must be > 0 for that mode.
	NormCap float32
}

// Validate checks structural well-formedness (not policy).
func (s Spec) Validate() error {
	switch s.Mode {
	case ModeAdditive, ModeProjectOut:
	case ModeClampedAdditive:
		if s.NormCap <= 0 {
			return fmt.Errorf("spec at layer %q: clamped-additive requires NormCap > 0", s.Layer)
		}
	default:
		return fmt.Errorf("spec at layer %q: unknown mode %q", s.Layer, s.Mode)
	}
	if s.Layer == "" {
		return fmt.Errorf("spec has empty layer")
	}
	if len(s.Direction.Vector) == 0 {
		return fmt.Errorf("spec at layer %q: direction has no vector", s.Layer)
	}
	return nil
}

// Hook builds the model.HookFn realizing this spec.
//
// The returned hook never mutates its input tensor; it clones, applies the
// mode row-wise (broadcasting across batch/sequence positions), and
// returns the clone. Shape and dtype are preserved by construction, and a
// direction whose width disagrees with the activation fails fast with a
// ShapeMismatchError.
func (s Spec) Hook() model.HookFn {
	dir := s.Direction.Vector
	return func(act *tensor.Dense) (*tensor.Dense, error) {
		if len(dir) != act.Width() {
			return nil, &ShapeMismatchError{
				Layer:         s.Layer,
				DirectionDim:  len(dir),
				ActivationDim: act.Width(),
			}
		}

		out := act.Clone()
		for i := 0; i < out.Rows(); i++ {
			row := out.Row(i)
			switch s.Mode {
			case ModeAdditive:
				tensor.AXPY(s.Strength, dir, row)

			case ModeProjectOut:
				proj := float32(tensor.Dot(row, dir))
				tensor.AXPY(-proj, dir, row)

			case ModeClampedAdditive:
				orig := tensor.Norm(row)
				tensor.AXPY(s.Strength, dir, row)
				limit := float64(s.NormCap) * orig
				if n := tensor.Norm(row); n > limit && n > 0 {
					tensor.Scale(float32(limit/n), row)
				}
			}
		}
		return out, nil
	}
}
