package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and returns stdout, stderr, and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// pairsYAML builds a ten-pair manifest with clearly separated token ranges.
func pairsYAML() string {
	var b bytes.Buffer
	b.WriteString("model: toy-vision-tower\nlayers: [vision.blocks.2.mlp]\npairs:\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "  - id: p%d\n    positive: [%d, %d, %d]\n    negative: [%d, %d, %d]\n",
			i, i, i+1, i+2, 40+i, 41+i, 42+i)
	}
	return b.String()
}

const scenarioYAML = `name: cli-politeness
description: injection scenario for the CLI round trip
model: toy-vision-tower
direction_set: demo
prompts:
  - id: q1
    tokens: [7, 8, 9]
  - id: q2
    tokens: [20, 21]
specs:
  - layer: vision.blocks.2.mlp
    direction: vision.blocks.2.mlp
    mode: additive
    strength: 2
expect:
  all_changed: true
`

func TestEstimateInspectCompare_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "dirs.db")
	pairsPath := writeFile(t, dir, "pairs.yaml", pairsYAML())
	scenarioPath := writeFile(t, dir, "scenario.yaml", scenarioYAML)

	out, _, err := execute(t, "estimate", "--pairs", pairsPath, "--db", dbPath, "--set", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, `saved as set "demo"`)
	assert.Contains(t, out, "vision.blocks.2.mlp")

	out, _, err = execute(t, "inspect", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "directions=1")

	out, _, err = execute(t, "inspect", "--db", dbPath, "--set", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "confidence=ok")
	assert.Contains(t, out, "pairs=10")

	out, _, err = execute(t, "compare", "--scenario", scenarioPath, "--db", dbPath)
	require.NoError(t, err, "expectation all_changed must hold at strength 2")
	assert.Contains(t, out, "changed inputs:     2/2")
}

func TestEstimate_JSONOutput(t *testing.T) {
	dir := t.TempDir()
	pairsPath := writeFile(t, dir, "pairs.yaml", pairsYAML())

	out, _, err := execute(t, "--format", "json", "estimate",
		"--pairs", pairsPath, "--db", filepath.Join(dir, "dirs.db"), "--set", "demo")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestEstimate_InsufficientPairs(t *testing.T) {
	dir := t.TempDir()
	pairsPath := writeFile(t, dir, "pairs.yaml", `
model: toy-vision-tower
layers: [vision.blocks.2.mlp]
pairs:
  - id: only
    positive: [1, 2]
    negative: [3, 4]
`)

	out, _, err := execute(t, "estimate",
		"--pairs", pairsPath, "--db", filepath.Join(dir, "dirs.db"), "--set", "demo")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeInsufficientData)
}

func TestEstimate_UnknownLayer(t *testing.T) {
	dir := t.TempDir()
	pairsPath := writeFile(t, dir, "pairs.yaml", `
model: toy-vision-tower
layers: [vision.blocks.99.mlp]
pairs:
  - id: a
    positive: [1]
    negative: [2]
  - id: b
    positive: [3]
    negative: [4]
`)

	out, _, err := execute(t, "estimate",
		"--pairs", pairsPath, "--db", filepath.Join(dir, "dirs.db"), "--set", "demo")
	require.Error(t, err)
	assert.Contains(t, out, ErrCodeLayerNotFound)
}

func TestCompare_MissingSet(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeFile(t, dir, "scenario.yaml", scenarioYAML)

	out, _, err := execute(t, "compare",
		"--scenario", scenarioPath, "--db", filepath.Join(dir, "empty.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeSetNotFound)
}

func TestCompare_PolicyViolationExitsOne(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "dirs.db")
	pairsPath := writeFile(t, dir, "pairs.yaml", pairsYAML())
	_, _, err := execute(t, "estimate", "--pairs", pairsPath, "--db", dbPath, "--set", "demo")
	require.NoError(t, err)

	scenarioPath := writeFile(t, dir, "scenario.yaml", `
name: over-budget
description: exceeds the tight policy strength budget
model: toy-vision-tower
direction_set: demo
prompts:
  - id: q1
    tokens: [7, 8, 9]
specs:
  - layer: vision.blocks.2.mlp
    direction: vision.blocks.2.mlp
    mode: additive
    strength: 3
`)
	policyPath := writeFile(t, dir, "policy.cue", `policy: max_total_strength: 1.0`)

	out, _, err := execute(t, "compare",
		"--scenario", scenarioPath, "--db", dbPath, "--policy", policyPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeConflictingMode)
}

func TestValidate_Command(t *testing.T) {
	dir := t.TempDir()
	goodPolicy := writeFile(t, dir, "policy.cue", `policy: max_specs_per_layer: 3`)
	goodScenario := writeFile(t, dir, "scenario.yaml", scenarioYAML)
	badScenario := writeFile(t, dir, "bad.yaml", "name: broken\n")

	out, _, err := execute(t, "validate", "--policy", goodPolicy, "--scenario", goodScenario)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")

	out, _, err = execute(t, "validate", "--scenario", badScenario)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")

	_, _, err = execute(t, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
