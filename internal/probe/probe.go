// Package probe fits linear readouts on captured activations.
//
// A probe is a multinomial logistic classifier trained on pooled
// activation vectors. It answers "is this concept linearly decodable at
// this layer" without ever touching the model: only the probe's own
// weights are fit, on records the capture package already extracted.
package probe

import (
	"fmt"
	"math/rand"

	"github.com/sourcery-ai-experiments/mulsi/internal/capture"
	"github.com/sourcery-ai-experiments/mulsi/internal/tensor"
)

// Example is one labeled activation vector.
type Example struct {
	Features []float32
	Label    int
}

// Config controls probe training.
type Config struct {
	// Classes is the number of output classes. Required, >= 2.
	Classes int

	// Epochs is the number of passes over the shuffled training set.
	// Defaults to 100.
	Epochs int

	// LearningRate for per-example gradient steps. Defaults to 0.1.
	LearningRate float64

	// Seed drives the shuffle order. Same seed, same probe.
	Seed int64
}

// MinExamples is the smallest training set a probe accepts.
const MinExamples = 2

// Probe is a trained linear readout. Immutable after Train.
type Probe struct {
	classes int
	dim     int

	// w is row-major classes × dim; b is the per-class bias.
	w [][]float32
	b []float32
}

// Train fits a probe by stochastic gradient descent on the softmax
// cross-entropy loss. All examples must share one feature width and carry
// labels inside [0, Classes).
func Train(examples []Example, cfg Config) (*Probe, error) {
	if cfg.Classes < 2 {
		return nil, fmt.Errorf("probe: need at least 2 classes, got %d", cfg.Classes)
	}
	if len(examples) < MinExamples {
		return nil, fmt.Errorf("probe: need at least %d examples, got %d", MinExamples, len(examples))
	}

	dim := len(examples[0].Features)
	if dim == 0 {
		return nil, fmt.Errorf("probe: example 0 has no features")
	}
	for i, ex := range examples {
		if len(ex.Features) != dim {
			return nil, fmt.Errorf("probe: example %d has width %d, want %d", i, len(ex.Features), dim)
		}
		if ex.Label < 0 || ex.Label >= cfg.Classes {
			return nil, fmt.Errorf("probe: example %d has label %d outside [0,%d)", i, ex.Label, cfg.Classes)
		}
	}

	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = 100
	}
	lr := float32(cfg.LearningRate)
	if lr <= 0 {
		lr = 0.1
	}

	p := &Probe{
		classes: cfg.Classes,
		dim:     dim,
		w:       make([][]float32, cfg.Classes),
		b:       make([]float32, cfg.Classes),
	}
	for c := range p.w {
		p.w[c] = make([]float32, dim)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			ex := examples[idx]
			probs := p.scores(ex.Features)
			for c := 0; c < p.classes; c++ {
				grad := probs[c]
				if c == ex.Label {
					grad -= 1
				}
				tensor.AXPY(-lr*grad, ex.Features, p.w[c])
				p.b[c] -= lr * grad
			}
		}
	}

	return p, nil
}

// Scores returns the per-class probabilities for one activation vector.
func (p *Probe) Scores(features []float32) ([]float32, error) {
	if len(features) != p.dim {
		return nil, fmt.Errorf("probe: features have width %d, probe trained on %d", len(features), p.dim)
	}
	return p.scores(features), nil
}

// Predict returns the most probable class.
func (p *Probe) Predict(features []float32) (int, error) {
	probs, err := p.Scores(features)
	if err != nil {
		return 0, err
	}
	return tensor.ArgMax(probs), nil
}

// Classes returns the number of output classes.
func (p *Probe) Classes() int { return p.classes }

// Dim returns the feature width the probe was trained on.
func (p *Probe) Dim() int { return p.dim }

func (p *Probe) scores(features []float32) []float32 {
	logits := make([]float32, p.classes)
	for c := 0; c < p.classes; c++ {
		logits[c] = float32(tensor.Dot(p.w[c], features)) + p.b[c]
	}
	probs := tensor.Softmax(logits)
	out := make([]float32, len(probs))
	for i, v := range probs {
		out[i] = float32(v)
	}
	return out
}

// Accuracy is the fraction of examples the probe classifies correctly.
func (p *Probe) Accuracy(examples []Example) (float64, error) {
	if len(examples) == 0 {
		return 0, fmt.Errorf("probe: no examples to score")
	}
	correct := 0
	for i, ex := range examples {
		pred, err := p.Predict(ex.Features)
		if err != nil {
			return 0, fmt.Errorf("probe: example %d: %w", i, err)
		}
		if pred == ex.Label {
			correct++
		}
	}
	return float64(correct) / float64(len(examples)), nil
}

// ExamplesFromCapture converts one layer's captured records into labeled
// training examples, pooling each record by mean across token positions.
// Records whose example ID is missing from labels are an error: silently
// dropping data would skew the probe.
func ExamplesFromCapture(res *capture.Result, layer string, labels map[string]int) ([]Example, error) {
	records := res.Layer(layer)
	if len(records) == 0 {
		return nil, fmt.Errorf("probe: capture session %s has no records for layer %q", res.SessionID, layer)
	}

	examples := make([]Example, len(records))
	for i, rec := range records {
		label, ok := labels[rec.ExampleID]
		if !ok {
			return nil, fmt.Errorf("probe: no label for example %q", rec.ExampleID)
		}
		var features []float32
		if rec.Act.Rank() == 1 {
			features = make([]float32, rec.Act.Len())
			copy(features, rec.Act.Data())
		} else {
			features = rec.Act.MeanRows()
		}
		examples[i] = Example{Features: features, Label: label}
	}
	return examples, nil
}
