package model

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcery-ai-experiments/mulsi/internal/tensor"
)

func testInputs() *Inputs {
	return &Inputs{Examples: []Example{
		{ID: "ex-1", Tokens: []int{1, 2, 3}},
		{ID: "ex-2", Tokens: []int{4, 5}},
	}}
}

func TestToyVisionTower_DeterministicForward(t *testing.T) {
	cfg := DefaultToyConfig()
	a := NewToyVisionTower(cfg)
	b := NewToyVisionTower(cfg)

	outA, err := a.Forward(context.Background(), testInputs())
	require.NoError(t, err)
	outB, err := b.Forward(context.Background(), testInputs())
	require.NoError(t, err)

	assert.Equal(t, outA.Logits, outB.Logits, "same seed must give bit-identical logits")
	assert.Equal(t, outA.Pooled, outB.Pooled)
	assert.Len(t, outA.Logits, 2)
	assert.Len(t, outA.Logits[0], cfg.Classes)
	assert.Len(t, outA.Pooled[0], cfg.Hidden)
}

func TestToyVisionTower_DifferentSeedsDiffer(t *testing.T) {
	a := NewToyVisionTower(ToyConfig{Seed: 1})
	b := NewToyVisionTower(ToyConfig{Seed: 2})

	outA, err := a.Forward(context.Background(), testInputs())
	require.NoError(t, err)
	outB, err := b.Forward(context.Background(), testInputs())
	require.NoError(t, err)

	assert.NotEqual(t, outA.Logits, outB.Logits)
}

func TestToyVisionTower_ResolveLayer(t *testing.T) {
	m := NewToyVisionTower(DefaultToyConfig())

	h, err := m.ResolveLayer("vision.blocks.0.mlp")
	require.NoError(t, err)
	assert.Equal(t, "vision.blocks.0.mlp", h.Path)
	assert.Equal(t, 1, h.Index, "block 0 mlp follows block 0 attn")

	h, err = m.ResolveLayer(PooledLayer)
	require.NoError(t, err)
	assert.Equal(t, len(m.LayerNames())-1, h.Index)

	_, err = m.ResolveLayer("vision.blocks.99.mlp")
	require.Error(t, err)
	assert.True(t, IsLayerNotFound(err))
}

func TestToyVisionTower_HookObservesAndReplaces(t *testing.T) {
	m := NewToyVisionTower(DefaultToyConfig())
	h, err := m.ResolveLayer("vision.blocks.1.mlp")
	require.NoError(t, err)

	baseline, err := m.Forward(context.Background(), testInputs())
	require.NoError(t, err)

	var seenShape []int
	tok, err := m.RegisterHook(h, func(act *tensor.Dense) (*tensor.Dense, error) {
		if seenShape == nil {
			seenShape = act.Shape()
		}
		mod := act.Clone()
		tensor.Scale(2, mod.Data())
		return mod, nil
	})
	require.NoError(t, err)

	steered, err := m.Forward(context.Background(), testInputs())
	require.NoError(t, err)
	assert.Equal(t, []int{3, m.Hidden()}, seenShape, "hook sees sequence × hidden activations")
	assert.NotEqual(t, baseline.Logits, steered.Logits, "replacement must propagate downstream")

	require.NoError(t, m.RemoveHook(tok))
	restored, err := m.Forward(context.Background(), testInputs())
	require.NoError(t, err)
	assert.Equal(t, baseline.Logits, restored.Logits, "detached hook must have no residual effect")
}

func TestToyVisionTower_HooksRunInRegistrationOrder(t *testing.T) {
	m := NewToyVisionTower(DefaultToyConfig())
	h, err := m.ResolveLayer(PooledLayer)
	require.NoError(t, err)

	var order []string
	mk := func(name string) HookFn {
		return func(act *tensor.Dense) (*tensor.Dense, error) {
			order = append(order, name)
			return act, nil
		}
	}

	_, err = m.RegisterHook(h, mk("first"))
	require.NoError(t, err)
	_, err = m.RegisterHook(h, mk("second"))
	require.NoError(t, err)

	_, err = m.Forward(context.Background(), &Inputs{Examples: []Example{{ID: "ex", Tokens: []int{7}}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestToyVisionTower_HookErrorAbortsForward(t *testing.T) {
	m := NewToyVisionTower(DefaultToyConfig())
	h, err := m.ResolveLayer("vision.blocks.0.attn")
	require.NoError(t, err)

	boom := fmt.Errorf("hook exploded")
	_, err = m.RegisterHook(h, func(act *tensor.Dense) (*tensor.Dense, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = m.Forward(context.Background(), testInputs())
	require.ErrorIs(t, err, boom)
}

func TestToyVisionTower_HookShapeChangeRejected(t *testing.T) {
	m := NewToyVisionTower(DefaultToyConfig())
	h, err := m.ResolveLayer(PooledLayer)
	require.NoError(t, err)

	_, err = m.RegisterHook(h, func(act *tensor.Dense) (*tensor.Dense, error) {
		return tensor.Zeros(act.Len() + 1), nil
	})
	require.NoError(t, err)

	_, err = m.Forward(context.Background(), testInputs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "changed activation shape")
}

func TestToyVisionTower_SnapshotAndRemove(t *testing.T) {
	m := NewToyVisionTower(DefaultToyConfig())
	require.Empty(t, m.HookSnapshot())

	h1, err := m.ResolveLayer("vision.blocks.0.attn")
	require.NoError(t, err)
	h2, err := m.ResolveLayer(PooledLayer)
	require.NoError(t, err)

	noop := func(act *tensor.Dense) (*tensor.Dense, error) { return act, nil }

	t1, err := m.RegisterHook(h1, noop)
	require.NoError(t, err)
	t2, err := m.RegisterHook(h2, noop)
	require.NoError(t, err)

	snap := m.HookSnapshot()
	assert.Equal(t, []HookToken{t1, t2}, snap, "snapshot follows layer forward order")

	require.NoError(t, m.RemoveHook(t1))
	assert.Equal(t, []HookToken{t2}, m.HookSnapshot())

	err = m.RemoveHook(t1)
	require.Error(t, err, "double removal must fail")

	require.NoError(t, m.RemoveHook(t2))
	assert.Empty(t, m.HookSnapshot())
}

func TestToyVisionTower_RegisterHookUnknownLayer(t *testing.T) {
	m := NewToyVisionTower(DefaultToyConfig())

	_, err := m.RegisterHook(LayerHandle{Path: "nope"}, func(act *tensor.Dense) (*tensor.Dense, error) {
		return act, nil
	})
	require.Error(t, err)
	assert.True(t, IsLayerNotFound(err))
}

func TestToyVisionTower_ContextCancellation(t *testing.T) {
	m := NewToyVisionTower(DefaultToyConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Forward(ctx, testInputs())
	require.ErrorIs(t, err, context.Canceled)
}

func TestToyVisionTower_EmptyBatchRejected(t *testing.T) {
	m := NewToyVisionTower(DefaultToyConfig())

	_, err := m.Forward(context.Background(), &Inputs{})
	require.Error(t, err)

	_, err = m.Forward(context.Background(), &Inputs{Examples: []Example{{ID: "e", Tokens: nil}}})
	require.Error(t, err)
}
