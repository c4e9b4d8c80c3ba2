package direction

import (
	"fmt"
	"slices"

	"github.com/sourcery-ai-experiments/mulsi/internal/capture"
	"github.com/sourcery-ai-experiments/mulsi/internal/tensor"
)

// Pair holds the captured activations of one contrastive example pair:
// the same prompt framed with and without the target concept.
// Maps are keyed by layer path. Consumed once by Estimate.
type Pair struct {
	ID       string
	Positive map[string]*tensor.Dense
	Negative map[string]*tensor.Dense
}

// Layers returns the pair's layer paths in sorted order.
func (p Pair) Layers() []string {
	layers := make([]string, 0, len(p.Positive))
	for layer := range p.Positive {
		layers = append(layers, layer)
	}
	slices.Sort(layers)
	return layers
}

// PairsFromResults zips two capture sessions into contrastive pairs:
// the i-th positive example pairs with the i-th negative example.
//
// Both sessions must cover the same layers and the same number of examples;
// anything else is a caller mistake and fails immediately.
func PairsFromResults(pos, neg *capture.Result) ([]Pair, error) {
	if pos == nil || neg == nil {
		return nil, fmt.Errorf("pairs: nil capture result")
	}

	layers := make([]string, 0, len(pos.Records))
	for layer := range pos.Records {
		layers = append(layers, layer)
	}
	slices.Sort(layers)

	if len(layers) == 0 {
		return nil, fmt.Errorf("pairs: positive capture has no records")
	}

	var n int
	for i, layer := range layers {
		p := pos.Layer(layer)
		q := neg.Layer(layer)
		if len(q) == 0 {
			return nil, fmt.Errorf("pairs: negative capture missing layer %q", layer)
		}
		if len(p) != len(q) {
			return nil, fmt.Errorf("pairs: layer %q has %d positive but %d negative examples", layer, len(p), len(q))
		}
		if i == 0 {
			n = len(p)
		} else if len(p) != n {
			return nil, fmt.Errorf("pairs: inconsistent example count at layer %q", layer)
		}
	}

	pairs := make([]Pair, n)
	for i := 0; i < n; i++ {
		posActs := make(map[string]*tensor.Dense, len(layers))
		negActs := make(map[string]*tensor.Dense, len(layers))
		var posID, negID string
		for _, layer := range layers {
			pr := pos.Layer(layer)[i]
			nr := neg.Layer(layer)[i]
			posActs[layer] = pr.Act
			negActs[layer] = nr.Act
			posID, negID = pr.ExampleID, nr.ExampleID
		}
		pairs[i] = Pair{
			ID:       fmt.Sprintf("%s|%s", posID, negID),
			Positive: posActs,
			Negative: negActs,
		}
	}
	return pairs, nil
}
