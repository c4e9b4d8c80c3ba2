package eval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcery-ai-experiments/mulsi/internal/direction"
	"github.com/sourcery-ai-experiments/mulsi/internal/steer"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/politeness.yaml")
	require.NoError(t, err)

	assert.Equal(t, "politeness-injection", sc.Name)
	assert.Equal(t, "toy-vision-tower", sc.Model)
	assert.Equal(t, "demo", sc.DirectionSet)
	require.Len(t, sc.Prompts, 2)
	assert.Equal(t, []int{3, 1, 4, 1, 5}, sc.Prompts[0].Tokens)
	require.Len(t, sc.Specs, 1)
	assert.Equal(t, "additive", sc.Specs[0].Mode)
	assert.Equal(t, float32(2), sc.Specs[0].Strength)
	require.NotNil(t, sc.Expect)
	require.NotNil(t, sc.Expect.AllChanged)
	assert.True(t, *sc.Expect.AllChanged)

	in := sc.Inputs()
	require.Len(t, in.Examples, 2)
	assert.Equal(t, "p1", in.Examples[0].ID)
}

func TestLoadScenario_UnknownFieldRejected(t *testing.T) {
	path := writeScenario(t, `
name: typo
model: toy-vision-tower
prompts:
  - id: p1
    tokens: [1]
specs:
  - layer: l
    direction: d
    mode: additive
expectations:
  all_changed: true
`)
	_, err := LoadScenario(path)
	require.Error(t, err, "the typo'd expectations key must not be silently dropped")
}

func TestLoadScenario_MissingFields(t *testing.T) {
	cases := map[string]string{
		"no name": `
model: toy-vision-tower
prompts: [{id: p1, tokens: [1]}]
specs: [{layer: l, direction: d, mode: additive}]
`,
		"no prompts": `
name: s
model: toy-vision-tower
specs: [{layer: l, direction: d, mode: additive}]
`,
		"no specs": `
name: s
model: toy-vision-tower
prompts: [{id: p1, tokens: [1]}]
`,
		"bad mode": `
name: s
model: toy-vision-tower
prompts: [{id: p1, tokens: [1]}]
specs: [{layer: l, direction: d, mode: sideways}]
`,
		"empty tokens": `
name: s
model: toy-vision-tower
prompts: [{id: p1, tokens: []}]
specs: [{layer: l, direction: d, mode: additive}]
`,
		"flip rate out of range": `
name: s
model: toy-vision-tower
prompts: [{id: p1, tokens: [1]}]
specs: [{layer: l, direction: d, mode: additive}]
expect: {min_flip_rate: 1.5}
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, content))
			require.Error(t, err)
		})
	}
}

func TestScenario_ResolveSpecs(t *testing.T) {
	sc := &Scenario{
		Name:         "resolve",
		DirectionSet: "demo",
		Specs: []SpecRef{
			{Layer: "l", Direction: "known", Mode: "projection-removal"},
		},
	}

	d := direction.Direction{ID: "known", Layer: "l", Vector: []float32{1, 0}}
	specs, err := sc.ResolveSpecs(map[string]direction.Direction{"known": d})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, steer.ModeProjectOut, specs[0].Mode)
	assert.Equal(t, d, specs[0].Direction)

	_, err = sc.ResolveSpecs(map[string]direction.Direction{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `direction "known" not found`)
}

func TestScenario_CheckExpectation(t *testing.T) {
	yes := true
	half := 0.5
	report := &Report{
		Baseline: []Output{{ExampleID: "a"}, {ExampleID: "b"}},
		Metrics:  Metrics{Changed: []bool{true, false}, FlipRate: 0.5},
	}

	sc := &Scenario{Name: "exp"}
	require.NoError(t, sc.CheckExpectation(report), "no expectations always passes")

	sc.Expect = &Expectation{AllChanged: &yes}
	require.Error(t, sc.CheckExpectation(report), "input b did not change")

	sc.Expect = &Expectation{NoneChanged: &yes}
	require.Error(t, sc.CheckExpectation(report), "input a changed")

	sc.Expect = &Expectation{MinFlipRate: &half}
	require.NoError(t, sc.CheckExpectation(report))

	high := 0.9
	sc.Expect = &Expectation{MinFlipRate: &high}
	require.Error(t, sc.CheckExpectation(report))
}
