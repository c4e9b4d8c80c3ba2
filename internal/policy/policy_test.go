package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcery-ai-experiments/mulsi/internal/direction"
	"github.com/sourcery-ai-experiments/mulsi/internal/steer"
)

func specWith(layer string, mode steer.Mode, strength, normCap float32) steer.Spec {
	return steer.Spec{
		Layer:     layer,
		Direction: direction.Direction{ID: "d", Layer: layer, Vector: []float32{1, 0}},
		Mode:      mode,
		Strength:  strength,
		NormCap:   normCap,
	}
}

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, 2, p.MaxSpecsPerLayer)
	assert.Equal(t, 4.0, p.MaxTotalStrength)
	assert.False(t, p.AllowProjectionWithAdditive)
}

func TestCompileSource_Overrides(t *testing.T) {
	p, err := CompileSource(`
policy: {
	max_specs_per_layer:            3
	max_total_strength:             10.5
	allow_projection_with_additive: true
}
`)
	require.NoError(t, err)
	assert.Equal(t, 3, p.MaxSpecsPerLayer)
	assert.Equal(t, 10.5, p.MaxTotalStrength)
	assert.True(t, p.AllowProjectionWithAdditive)
}

func TestCompileSource_PartialDocumentKeepsDefaults(t *testing.T) {
	p, err := CompileSource(`policy: max_total_strength: 1.0`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.MaxTotalStrength)
	assert.Equal(t, 2, p.MaxSpecsPerLayer)
}

func TestCompileSource_Rejections(t *testing.T) {
	cases := map[string]string{
		"no policy struct":  `other: {}`,
		"unknown field":     `policy: max_strength_total: 4.0`,
		"negative budget":   `policy: max_total_strength: -1.0`,
		"negative count":    `policy: max_specs_per_layer: -2`,
		"wrong type":        `policy: max_specs_per_layer: "two"`,
		"cue compile error": `policy: { a: b `,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := CompileSource(src)
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.cue")
	require.NoError(t, os.WriteFile(path, []byte(`policy: max_specs_per_layer: 5`), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, p.MaxSpecsPerLayer)

	_, err = Load(filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
}

func TestValidate_SpecCountBudget(t *testing.T) {
	p := &Policy{MaxSpecsPerLayer: 1}

	require.NoError(t, p.Validate([]steer.Spec{
		specWith("a", steer.ModeAdditive, 1, 0),
		specWith("b", steer.ModeAdditive, 1, 0),
	}))

	err := p.Validate([]steer.Spec{
		specWith("a", steer.ModeAdditive, 1, 0),
		specWith("a", steer.ModeAdditive, 1, 0),
	})
	require.Error(t, err)
	assert.True(t, steer.IsConflictingMode(err))
	assert.Contains(t, err.Error(), `layer "a"`)
}

func TestValidate_StrengthBudget(t *testing.T) {
	p := &Policy{MaxTotalStrength: 3}

	require.NoError(t, p.Validate([]steer.Spec{
		specWith("a", steer.ModeAdditive, 2, 0),
		specWith("a", steer.ModeAdditive, -1, 0),
	}))

	// Magnitudes sum, signs do not cancel.
	err := p.Validate([]steer.Spec{
		specWith("a", steer.ModeAdditive, 2, 0),
		specWith("a", steer.ModeClampedAdditive, -2, 1.5),
	})
	require.Error(t, err)
	assert.True(t, steer.IsConflictingMode(err))
	assert.Contains(t, err.Error(), "budget")
}

func TestValidate_ProjectionWithAdditive(t *testing.T) {
	specs := []steer.Spec{
		specWith("a", steer.ModeAdditive, 1, 0),
		specWith("a", steer.ModeProjectOut, 0, 0),
	}

	strict := &Policy{}
	err := strict.Validate(specs)
	require.Error(t, err)
	assert.True(t, steer.IsConflictingMode(err))

	lenient := &Policy{AllowProjectionWithAdditive: true}
	require.NoError(t, lenient.Validate(specs))

	// Disjoint layers never conflict.
	require.NoError(t, strict.Validate([]steer.Spec{
		specWith("a", steer.ModeAdditive, 1, 0),
		specWith("b", steer.ModeProjectOut, 0, 0),
	}))
}

func TestValidate_NormCapDisagreement(t *testing.T) {
	p := &Policy{MaxSpecsPerLayer: 4, MaxTotalStrength: 100}

	require.NoError(t, p.Validate([]steer.Spec{
		specWith("a", steer.ModeClampedAdditive, 1, 1.5),
		specWith("a", steer.ModeClampedAdditive, 1, 1.5),
	}))

	err := p.Validate([]steer.Spec{
		specWith("a", steer.ModeClampedAdditive, 1, 1.5),
		specWith("a", steer.ModeClampedAdditive, 1, 2.0),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "norm cap")
}

func TestValidate_DefaultPolicyAcceptsTypicalScenario(t *testing.T) {
	require.NoError(t, Default().Validate([]steer.Spec{
		specWith("vision.blocks.2.mlp", steer.ModeAdditive, 2, 0),
	}))
}
