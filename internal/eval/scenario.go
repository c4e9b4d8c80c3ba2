package eval

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sourcery-ai-experiments/mulsi/internal/direction"
	"github.com/sourcery-ai-experiments/mulsi/internal/model"
	"github.com/sourcery-ai-experiments/mulsi/internal/steer"
)

// Scenario is a declarative comparison run: a prompt batch, a set of
// steering specs referencing stored directions, and optional expectations
// about the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario; also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Model names the model the scenario was written against.
	Model string `yaml:"model"`

	// DirectionSet names the stored direction set the specs draw from.
	DirectionSet string `yaml:"direction_set"`

	// Prompts is the input batch, run identically in both conditions.
	Prompts []Prompt `yaml:"prompts"`

	// Specs lists the interventions to apply in the steered condition,
	// in attachment order.
	Specs []SpecRef `yaml:"specs"`

	// Expect optionally asserts on the comparison outcome.
	Expect *Expectation `yaml:"expect,omitempty"`
}

// Prompt is one tokenized input example.
type Prompt struct {
	ID     string `yaml:"id"`
	Tokens []int  `yaml:"tokens"`
}

// SpecRef is a steering spec with the direction referenced by ID rather
// than embedded. Resolved against a loaded direction set before running.
type SpecRef struct {
	Layer     string  `yaml:"layer"`
	Direction string  `yaml:"direction"`
	Mode      string  `yaml:"mode"`
	Strength  float32 `yaml:"strength,omitempty"`
	NormCap   float32 `yaml:"norm_cap,omitempty"`
}

// Expectation asserts on a Report. Subset semantics: only set fields are
// checked.
type Expectation struct {
	// AllChanged requires every input's logits to move.
	AllChanged *bool `yaml:"all_changed,omitempty"`

	// NoneChanged requires the steered outputs to match baseline exactly.
	NoneChanged *bool `yaml:"none_changed,omitempty"`

	// MinFlipRate is a lower bound on the argmax flip rate.
	MinFlipRate *float64 `yaml:"min_flip_rate,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently dropping assertions.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(s.Prompts) == 0 {
		return fmt.Errorf("prompts list is required and must be non-empty")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}

	for i, p := range s.Prompts {
		if p.ID == "" {
			return fmt.Errorf("prompts[%d]: id is required", i)
		}
		if len(p.Tokens) == 0 {
			return fmt.Errorf("prompts[%d]: tokens is required and must be non-empty", i)
		}
	}
	for i, ref := range s.Specs {
		if ref.Layer == "" {
			return fmt.Errorf("specs[%d]: layer is required", i)
		}
		if ref.Direction == "" {
			return fmt.Errorf("specs[%d]: direction is required", i)
		}
		switch steer.Mode(ref.Mode) {
		case steer.ModeAdditive, steer.ModeProjectOut, steer.ModeClampedAdditive:
		default:
			return fmt.Errorf("specs[%d]: unknown mode %q", i, ref.Mode)
		}
	}
	if s.Expect != nil && s.Expect.MinFlipRate != nil {
		if r := *s.Expect.MinFlipRate; r < 0 || r > 1 {
			return fmt.Errorf("expect.min_flip_rate must be in [0,1], got %v", r)
		}
	}
	return nil
}

// Inputs converts the scenario's prompts to a model input batch.
func (s *Scenario) Inputs() *model.Inputs {
	examples := make([]model.Example, len(s.Prompts))
	for i, p := range s.Prompts {
		tokens := make([]int, len(p.Tokens))
		copy(tokens, p.Tokens)
		examples[i] = model.Example{ID: p.ID, Tokens: tokens}
	}
	return &model.Inputs{Examples: examples}
}

// ResolveSpecs binds the scenario's spec references to concrete directions,
// keyed by direction ID.
func (s *Scenario) ResolveSpecs(dirs map[string]direction.Direction) ([]steer.Spec, error) {
	specs := make([]steer.Spec, len(s.Specs))
	for i, ref := range s.Specs {
		d, ok := dirs[ref.Direction]
		if !ok {
			return nil, fmt.Errorf("specs[%d]: direction %q not found in set %q", i, ref.Direction, s.DirectionSet)
		}
		specs[i] = steer.Spec{
			Layer:     ref.Layer,
			Direction: d,
			Mode:      steer.Mode(ref.Mode),
			Strength:  ref.Strength,
			NormCap:   ref.NormCap,
		}
	}
	return specs, nil
}

// CheckExpectation verifies the report against the scenario's expectations.
// A scenario without expectations always passes.
func (s *Scenario) CheckExpectation(r *Report) error {
	if s.Expect == nil {
		return nil
	}
	if s.Expect.AllChanged != nil && *s.Expect.AllChanged {
		for i, changed := range r.Metrics.Changed {
			if !changed {
				return fmt.Errorf("scenario %q: input %q did not change", s.Name, r.Baseline[i].ExampleID)
			}
		}
	}
	if s.Expect.NoneChanged != nil && *s.Expect.NoneChanged {
		for i, changed := range r.Metrics.Changed {
			if changed {
				return fmt.Errorf("scenario %q: input %q changed but none should", s.Name, r.Baseline[i].ExampleID)
			}
		}
	}
	if s.Expect.MinFlipRate != nil && r.Metrics.FlipRate < *s.Expect.MinFlipRate {
		return fmt.Errorf("scenario %q: flip rate %.3f below required %.3f",
			s.Name, r.Metrics.FlipRate, *s.Expect.MinFlipRate)
	}
	return nil
}
