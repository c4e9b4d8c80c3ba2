// Package policy decides which steering spec sets may attach together.
//
// Policies are written in CUE and compiled at load time. The zero policy is
// never used: callers either compile a document or take Default(), which is
// built from an embedded CUE source.
package policy

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/sourcery-ai-experiments/mulsi/internal/steer"
)

//go:embed default.cue
var defaultCUE string

// Policy constrains how steering specs compose per layer.
// Implements steer.Policy.
type Policy struct {
	// MaxSpecsPerLayer bounds how many specs may target one layer. 0
	// disables the check.
	MaxSpecsPerLayer int

	// MaxTotalStrength bounds the summed |strength| of additive-family
	// specs per layer. 0 disables the check.
	MaxTotalStrength float64

	// AllowProjectionWithAdditive permits projection-removal and an
	// additive-family spec on the same layer.
	AllowProjectionWithAdditive bool
}

// Default returns the policy compiled from the embedded default document.
func Default() *Policy {
	p, err := CompileSource(defaultCUE)
	if err != nil {
		panic(fmt.Sprintf("embedded default policy: %v", err))
	}
	return p
}

// Load compiles a policy from a CUE file on disk.
func Load(path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	p, err := CompileSource(string(src))
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

// CompileSource compiles a policy from CUE source text.
// The document must carry a top-level `policy` struct.
func CompileSource(src string) (*Policy, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	return Compile(v.LookupPath(cue.ParsePath("policy")))
}

// Compile parses a CUE value into a Policy. The value should be the policy
// struct itself. Missing fields fall back to the embedded defaults; unknown
// fields are rejected.
func Compile(v cue.Value) (*Policy, error) {
	if !v.Exists() {
		return nil, fmt.Errorf("compile policy: no policy struct found")
	}
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	p := &Policy{
		MaxSpecsPerLayer:            2,
		MaxTotalStrength:            4.0,
		AllowProjectionWithAdditive: false,
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	for iter.Next() {
		name := iter.Label()
		field := iter.Value()
		switch name {
		case "max_specs_per_layer":
			n, err := field.Int64()
			if err != nil {
				return nil, fmt.Errorf("policy field %q: %w", name, err)
			}
			if n < 0 {
				return nil, fmt.Errorf("policy field %q: must be >= 0, got %d", name, n)
			}
			p.MaxSpecsPerLayer = int(n)
		case "max_total_strength":
			f, err := field.Float64()
			if err != nil {
				return nil, fmt.Errorf("policy field %q: %w", name, err)
			}
			if f < 0 {
				return nil, fmt.Errorf("policy field %q: must be >= 0, got %v", name, f)
			}
			p.MaxTotalStrength = f
		case "allow_projection_with_additive":
			b, err := field.Bool()
			if err != nil {
				return nil, fmt.Errorf("policy field %q: %w", name, err)
			}
			p.AllowProjectionWithAdditive = b
		default:
			return nil, fmt.Errorf("policy field %q: unknown field", name)
		}
	}

	return p, nil
}

// Validate checks a spec set against the policy. Violations come back as
// ConflictingModeError naming the contested layer.
func (p *Policy) Validate(specs []steer.Spec) error {
	byLayer := make(map[string][]steer.Spec)
	for _, s := range specs {
		byLayer[s.Layer] = append(byLayer[s.Layer], s)
	}

	for layer, group := range byLayer {
		if p.MaxSpecsPerLayer > 0 && len(group) > p.MaxSpecsPerLayer {
			return &steer.ConflictingModeError{
				Layer:  layer,
				Reason: fmt.Sprintf("%d specs target this layer, policy allows %d", len(group), p.MaxSpecsPerLayer),
			}
		}

		var total float64
		var hasAdditive, hasProjection bool
		normCaps := make(map[float32]bool)
		for _, s := range group {
			switch s.Mode {
			case steer.ModeAdditive:
				hasAdditive = true
				total += math.Abs(float64(s.Strength))
			case steer.ModeClampedAdditive:
				hasAdditive = true
				total += math.Abs(float64(s.Strength))
				normCaps[s.NormCap] = true
			case steer.ModeProjectOut:
				hasProjection = true
			}
		}

		if p.MaxTotalStrength > 0 && total > p.MaxTotalStrength {
			return &steer.ConflictingModeError{
				Layer:  layer,
				Reason: fmt.Sprintf("total additive strength %.3g exceeds policy budget %.3g", total, p.MaxTotalStrength),
			}
		}
		if !p.AllowProjectionWithAdditive && hasAdditive && hasProjection {
			return &steer.ConflictingModeError{
				Layer:  layer,
				Reason: "projection-removal and additive specs on the same layer",
			}
		}
		if len(normCaps) > 1 {
			return &steer.ConflictingModeError{
				Layer:  layer,
				Reason: "clamped-additive specs disagree on norm cap",
			}
		}
	}

	return nil
}
