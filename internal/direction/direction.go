// Package direction estimates steering directions from contrastive
// activation pairs.
//
// A direction is a unit vector in a layer's activation space pointing from
// "concept absent" toward "concept present". Estimation is graded, not
// binary: degenerate inputs (near-zero difference magnitude, near-zero
// activation variance) produce a direction flagged low-confidence instead
// of an error, and never NaN. Callers pick their own confidence thresholds.
package direction

import (
	"fmt"

	"github.com/sourcery-ai-experiments/mulsi/internal/canon"
	"github.com/sourcery-ai-experiments/mulsi/internal/tensor"
)

// Method selects the estimation algorithm.
type Method string

const (
	// MeanDifference normalizes the mean of the per-pair difference vectors.
	MeanDifference Method = "mean-difference"

	// PrincipalDirection takes the top principal component of the stacked
	// difference vectors.
	PrincipalDirection Method = "principal-direction"
)

// Pooling selects how token activations collapse to a single vector.
type Pooling string

const (
	// PoolLastToken uses the final token's activation.
	PoolLastToken Pooling = "last-token"

	// PoolMean averages across token positions.
	PoolMean Pooling = "mean"
)

// Confidence grades estimate quality. Advisory, never blocking.
type Confidence string

const (
	ConfidenceOK  Confidence = "ok"
	ConfidenceLow Confidence = "low"
)

// MinPairs is the smallest pair count that can separate concept signal from
// example-specific noise.
const MinPairs = 2

// DefaultVarianceFloor is the activation-variance threshold below which an
// estimate is graded low-confidence.
const DefaultVarianceFloor = 1e-10

// Direction is a steering direction for one layer plus its provenance.
// Immutable after creation; persisted independently of any running model.
type Direction struct {
	// ID content-addresses the direction (layer, method, pair count,
	// vector bytes). Stable across re-estimation from the same inputs.
	ID string

	Layer      string
	Method     Method
	Pooling    Pooling
	PairCount  int
	Confidence Confidence

	// Vector is unit-normalized, or all zeros when flagged low-confidence
	// due to vanishing magnitude.
	Vector []float32
}

// Params configures an estimation run.
type Params struct {
	Method  Method
	Pooling Pooling

	// VarianceFloor overrides DefaultVarianceFloor when > 0.
	VarianceFloor float64
}

// Estimate computes one steering direction per layer from the given
// contrastive pairs.
//
// Fails with InsufficientDataError when fewer than MinPairs pairs are
// supplied. Every pair must carry activations for every layer of the first
// pair; partial pairs are a caller bug and fail loudly.
func Estimate(pairs []Pair, p Params) (map[string]Direction, error) {
	if len(pairs) < MinPairs {
		return nil, &InsufficientDataError{Pairs: len(pairs), Min: MinPairs}
	}
	switch p.Method {
	case MeanDifference, PrincipalDirection:
	default:
		return nil, fmt.Errorf("estimate: unknown method %q", p.Method)
	}
	switch p.Pooling {
	case PoolLastToken, PoolMean:
	default:
		return nil, fmt.Errorf("estimate: unknown pooling %q", p.Pooling)
	}
	floor := p.VarianceFloor
	if floor <= 0 {
		floor = DefaultVarianceFloor
	}

	layers := pairs[0].Layers()
	if len(layers) == 0 {
		return nil, fmt.Errorf("estimate: pair %q carries no activations", pairs[0].ID)
	}

	out := make(map[string]Direction, len(layers))
	for _, layer := range layers {
		dir, err := estimateLayer(pairs, layer, p.Method, p.Pooling, floor)
		if err != nil {
			return nil, err
		}
		out[layer] = dir
	}
	return out, nil
}

func estimateLayer(pairs []Pair, layer string, method Method, pooling Pooling, floor float64) (Direction, error) {
	diffs := make([][]float32, 0, len(pairs))
	pooledAll := make([][]float32, 0, 2*len(pairs))

	for _, pair := range pairs {
		pos, ok := pair.Positive[layer]
		if !ok {
			return Direction{}, fmt.Errorf("estimate: pair %q missing positive activation for layer %q", pair.ID, layer)
		}
		neg, ok := pair.Negative[layer]
		if !ok {
			return Direction{}, fmt.Errorf("estimate: pair %q missing negative activation for layer %q", pair.ID, layer)
		}

		pv := pool(pos, pooling)
		nv := pool(neg, pooling)
		if len(pv) != len(nv) {
			return Direction{}, fmt.Errorf("estimate: pair %q has mismatched widths %d vs %d at layer %q",
				pair.ID, len(pv), len(nv), layer)
		}
		diffs = append(diffs, tensor.Sub(pv, nv))
		pooledAll = append(pooledAll, pv, nv)
	}

	var vec []float32
	var ok bool
	switch method {
	case MeanDifference:
		vec, ok = tensor.Unit(tensor.Mean(diffs))
	case PrincipalDirection:
		vec, ok = tensor.PrincipalComponent(diffs)
	}

	conf := ConfidenceOK
	if !ok || activationVariance(pooledAll) < floor {
		conf = ConfidenceLow
	}

	id, err := canon.DirectionID(layer, string(method), len(pairs), canon.VectorHash(vec))
	if err != nil {
		return Direction{}, fmt.Errorf("estimate: %w", err)
	}

	return Direction{
		ID:         id,
		Layer:      layer,
		Method:     method,
		Pooling:    pooling,
		PairCount:  len(pairs),
		Confidence: conf,
		Vector:     vec,
	}, nil
}

// pool collapses an activation tensor to a single vector.
func pool(t *tensor.Dense, pooling Pooling) []float32 {
	if t.Rank() == 1 {
		out := make([]float32, t.Len())
		copy(out, t.Data())
		return out
	}
	if pooling == PoolLastToken {
		return t.LastRow()
	}
	return t.MeanRows()
}

// activationVariance is the mean squared distance of the pooled activations
// from their centroid. Near zero means the layer barely reacts to the
// inputs and any estimated direction is suspect.
func activationVariance(vecs [][]float32) float64 {
	if len(vecs) == 0 {
		return 0
	}
	centroid := tensor.Mean(vecs)
	var sum float64
	for _, v := range vecs {
		d := tensor.L2Dist(v, centroid)
		sum += d * d
	}
	return sum / float64(len(vecs))
}
