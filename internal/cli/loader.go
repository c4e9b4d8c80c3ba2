package cli

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sourcery-ai-experiments/mulsi/internal/model"
)

// PairsManifest declares the contrastive pairs a direction is estimated
// from: for each pair, the same prompt framed with and without the concept.
type PairsManifest struct {
	// Model names the model to run. Only the built-in toy tower for now.
	Model string `yaml:"model"`

	// Layers lists the hook points to estimate directions at.
	Layers []string `yaml:"layers"`

	// Pairs is the contrastive prompt list.
	Pairs []PairEntry `yaml:"pairs"`
}

// PairEntry is one contrastive prompt pair, tokenized.
type PairEntry struct {
	ID       string `yaml:"id"`
	Positive []int  `yaml:"positive"`
	Negative []int  `yaml:"negative"`
}

// LoadPairsManifest reads and parses a pairs YAML file.
// Unknown fields are rejected.
func LoadPairsManifest(path string) (*PairsManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pairs file: %w", err)
	}

	var m PairsManifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validatePairsManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid pairs manifest: %w", err)
	}
	return &m, nil
}

func validatePairsManifest(m *PairsManifest) error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("layers list is required and must be non-empty")
	}
	if len(m.Pairs) == 0 {
		return fmt.Errorf("pairs list is required and must be non-empty")
	}
	seen := make(map[string]bool, len(m.Pairs))
	for i, p := range m.Pairs {
		if p.ID == "" {
			return fmt.Errorf("pairs[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("pairs[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if len(p.Positive) == 0 || len(p.Negative) == 0 {
			return fmt.Errorf("pairs[%d]: positive and negative token lists are required", i)
		}
	}
	return nil
}

// Batches splits the manifest into aligned positive and negative input
// batches, pair order preserved.
func (m *PairsManifest) Batches() (pos, neg *model.Inputs) {
	posEx := make([]model.Example, len(m.Pairs))
	negEx := make([]model.Example, len(m.Pairs))
	for i, p := range m.Pairs {
		posEx[i] = model.Example{ID: p.ID, Tokens: append([]int(nil), p.Positive...)}
		negEx[i] = model.Example{ID: p.ID, Tokens: append([]int(nil), p.Negative...)}
	}
	return &model.Inputs{Examples: posEx}, &model.Inputs{Examples: negEx}
}

// buildModel constructs the named model. An empty name means the default
// toy tower.
func buildModel(name string) (model.Model, error) {
	switch name {
	case "", "toy-vision-tower":
		return model.NewToyVisionTower(model.DefaultToyConfig()), nil
	default:
		return nil, fmt.Errorf("unknown model %q (only %q is built in)", name, "toy-vision-tower")
	}
}
