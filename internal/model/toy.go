package model

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/sourcery-ai-experiments/mulsi/internal/tensor"
)

// PooledLayer is the hook point carrying the pooled (batch × hidden)
// representation, mirroring the pooler output of a CLIP-style vision tower.
const PooledLayer = "vision.pooled"

// ToyConfig configures the deterministic reference tower.
type ToyConfig struct {
	Name      string
	VocabSize int
	Hidden    int
	Blocks    int
	Classes   int
	Seed      int64
}

// DefaultToyConfig returns a small tower suitable for tests and the demo CLI.
func DefaultToyConfig() ToyConfig {
	return ToyConfig{
		Name:      "toy-vision-tower",
		VocabSize: 64,
		Hidden:    16,
		Blocks:    4,
		Classes:   4,
		Seed:      42,
	}
}

type hookEntry struct {
	tok HookToken
	fn  HookFn
}

// ToyVisionTower is a deterministic, seeded stand-in for a frozen
// vision-language tower. Each residual block exposes two hook points
// (post-attention and post-MLP), and the pooled representation exposes one
// more, so every capture and steering path can be exercised without a real
// inference runtime.
//
// Weights are derived from the config seed; two towers with the same config
// produce bit-identical outputs.
type ToyVisionTower struct {
	cfg      ToyConfig
	layers   []string
	index    map[string]int
	embed    [][]float32 // vocab × hidden
	attnGain [][]float32 // blocks × hidden
	mlpGate  [][]float32 // blocks × hidden
	mlpProj  [][]float32 // blocks × hidden
	outW     [][]float32 // classes × hidden

	mu     sync.Mutex
	hooks  map[string][]hookEntry
	nextID int
}

// NewToyVisionTower builds a tower from cfg. Zero-valued fields fall back
// to DefaultToyConfig.
func NewToyVisionTower(cfg ToyConfig) *ToyVisionTower {
	def := DefaultToyConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.VocabSize == 0 {
		cfg.VocabSize = def.VocabSize
	}
	if cfg.Hidden == 0 {
		cfg.Hidden = def.Hidden
	}
	if cfg.Blocks == 0 {
		cfg.Blocks = def.Blocks
	}
	if cfg.Classes == 0 {
		cfg.Classes = def.Classes
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	randMat := func(rows, cols int) [][]float32 {
		m := make([][]float32, rows)
		for i := range m {
			m[i] = make([]float32, cols)
			for j := range m[i] {
				m[i][j] = float32(rng.Float64() - 0.5)
			}
		}
		return m
	}

	layers := make([]string, 0, 2*cfg.Blocks+1)
	for b := 0; b < cfg.Blocks; b++ {
		layers = append(layers, blockLayer(b, "attn"), blockLayer(b, "mlp"))
	}
	layers = append(layers, PooledLayer)

	index := make(map[string]int, len(layers))
	for i, name := range layers {
		index[name] = i
	}

	return &ToyVisionTower{
		cfg:      cfg,
		layers:   layers,
		index:    index,
		embed:    randMat(cfg.VocabSize, cfg.Hidden),
		attnGain: randMat(cfg.Blocks, cfg.Hidden),
		mlpGate:  randMat(cfg.Blocks, cfg.Hidden),
		mlpProj:  randMat(cfg.Blocks, cfg.Hidden),
		outW:     randMat(cfg.Classes, cfg.Hidden),
		hooks:    make(map[string][]hookEntry),
	}
}

func blockLayer(b int, kind string) string {
	return fmt.Sprintf("vision.blocks.%d.%s", b, kind)
}

// Name implements Model.
func (m *ToyVisionTower) Name() string {
	return m.cfg.Name
}

// Hidden returns the hidden dimension (direction vectors must match it).
func (m *ToyVisionTower) Hidden() int {
	return m.cfg.Hidden
}

// LayerNames implements Model.
func (m *ToyVisionTower) LayerNames() []string {
	return slices.Clone(m.layers)
}

// ResolveLayer implements Model.
func (m *ToyVisionTower) ResolveLayer(name string) (LayerHandle, error) {
	idx, ok := m.index[name]
	if !ok {
		return LayerHandle{}, &LayerNotFoundError{
			Layer: name,
			Model: m.cfg.Name,
			Known: slices.Clone(m.layers),
		}
	}
	return LayerHandle{Path: name, Index: idx}, nil
}

// RegisterHook implements Model. Hooks at the same layer run in
// registration order.
func (m *ToyVisionTower) RegisterHook(h LayerHandle, fn HookFn) (HookToken, error) {
	if fn == nil {
		return HookToken{}, fmt.Errorf("register hook at %q: nil hook function", h.Path)
	}
	if _, ok := m.index[h.Path]; !ok {
		return HookToken{}, &LayerNotFoundError{
			Layer: h.Path,
			Model: m.cfg.Name,
			Known: slices.Clone(m.layers),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	tok := HookToken{
		ID:    fmt.Sprintf("hook-%06d", m.nextID),
		Layer: h.Path,
	}
	m.hooks[h.Path] = append(m.hooks[h.Path], hookEntry{tok: tok, fn: fn})
	return tok, nil
}

// RemoveHook implements Model.
func (m *ToyVisionTower) RemoveHook(tok HookToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.hooks[tok.Layer]
	for i, e := range entries {
		if e.tok == tok {
			m.hooks[tok.Layer] = append(entries[:i:i], entries[i+1:]...)
			if len(m.hooks[tok.Layer]) == 0 {
				delete(m.hooks, tok.Layer)
			}
			return nil
		}
	}
	return fmt.Errorf("remove hook: token %s not registered at layer %q", tok.ID, tok.Layer)
}

// HookSnapshot implements Model. Tokens are returned in layer forward
// order, then registration order within a layer, so two snapshots of the
// same registry state compare equal.
func (m *ToyVisionTower) HookSnapshot() []HookToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toks []HookToken
	for _, layer := range m.layers {
		for _, e := range m.hooks[layer] {
			toks = append(toks, e.tok)
		}
	}
	return toks
}

// Forward implements Model. Runs each example through the tower, invoking
// registered hooks at every hook point. A hook error aborts the pass and is
// returned unmodified so callers can classify it.
func (m *ToyVisionTower) Forward(ctx context.Context, in *Inputs) (*Outputs, error) {
	if in == nil || len(in.Examples) == 0 {
		return nil, fmt.Errorf("forward: empty input batch")
	}

	out := &Outputs{
		Logits: make([][]float32, len(in.Examples)),
		Pooled: make([][]float32, len(in.Examples)),
	}
	for i, ex := range in.Examples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pooled, logits, err := m.forwardExample(ex)
		if err != nil {
			return nil, err
		}
		out.Pooled[i] = pooled
		out.Logits[i] = logits
	}
	return out, nil
}

func (m *ToyVisionTower) forwardExample(ex Example) (pooled, logits []float32, err error) {
	if len(ex.Tokens) == 0 {
		return nil, nil, fmt.Errorf("forward: example %q has no tokens", ex.ID)
	}

	seq, hidden := len(ex.Tokens), m.cfg.Hidden
	x := tensor.Zeros(seq, hidden)
	for t, tok := range ex.Tokens {
		copy(x.Row(t), m.embed[((tok%m.cfg.VocabSize)+m.cfg.VocabSize)%m.cfg.VocabSize])
	}

	for b := 0; b < m.cfg.Blocks; b++ {
		// Attention proxy: residual add of the gain-scaled column mean.
		global := x.MeanRows()
		for t := 0; t < seq; t++ {
			row := x.Row(t)
			for j := range row {
				row[j] += m.attnGain[b][j] * global[j]
			}
		}
		if x, err = m.applyHooks(blockLayer(b, "attn"), x); err != nil {
			return nil, nil, err
		}

		// Gated MLP with residual add.
		for t := 0; t < seq; t++ {
			row := x.Row(t)
			for j := range row {
				h := row[j] * m.mlpGate[b][j]
				if h < 0 {
					h = 0
				}
				row[j] += h * m.mlpProj[b][j]
			}
		}
		if x, err = m.applyHooks(blockLayer(b, "mlp"), x); err != nil {
			return nil, nil, err
		}
	}

	p := tensor.MustNew([]int{hidden}, x.MeanRows())
	if p, err = m.applyHooks(PooledLayer, p); err != nil {
		return nil, nil, err
	}

	pooled = p.Data()
	logits = make([]float32, m.cfg.Classes)
	for c := range logits {
		logits[c] = float32(tensor.Dot(m.outW[c], pooled))
	}
	return pooled, logits, nil
}

// applyHooks runs registered hooks for a layer in order, substituting each
// returned tensor into the pass. Shape preservation is re-checked here as a
// last line of defense; well-behaved callers fail earlier with a typed
// shape error.
func (m *ToyVisionTower) applyHooks(layer string, act *tensor.Dense) (*tensor.Dense, error) {
	m.mu.Lock()
	entries := slices.Clone(m.hooks[layer])
	m.mu.Unlock()

	for _, e := range entries {
		next, err := e.fn(act)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("hook %s at %q returned nil tensor", e.tok.ID, layer)
		}
		if !next.SameShape(act) {
			return nil, fmt.Errorf("hook %s at %q changed activation shape %v -> %v",
				e.tok.ID, layer, act.Shape(), next.Shape())
		}
		act = next
	}
	return act, nil
}
