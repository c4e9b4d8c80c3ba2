package eval

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/sourcery-ai-experiments/mulsi/internal/canon"
)

// TraceDocument renders a report's run trace as a canonical JSON document.
//
// The document is strictly structural: seq-stamped event types, layers,
// modes, and strengths as round-trippable decimal strings. Computed floats
// (logits, metrics) never appear, so the bytes are identical across
// platforms and safe for golden comparison and content addressing.
func (r *Report) TraceDocument() canon.Object {
	events := make(canon.Array, len(r.Events))
	for i, ev := range r.Events {
		obj := canon.Object{
			"seq":  canon.Int(int64(ev.Seq)),
			"type": canon.String(ev.Type),
		}
		if ev.Layer != "" {
			obj["layer"] = canon.String(ev.Layer)
		}
		if ev.Mode != "" {
			obj["mode"] = canon.String(ev.Mode)
		}
		if ev.Strength != "" {
			obj["strength"] = canon.String(ev.Strength)
		}
		events[i] = obj
	}
	return canon.Object{
		"scenario": canon.String(r.Scenario),
		"model":    canon.String(r.Model),
		"inputs":   canon.Int(int64(len(r.Baseline))),
		"events":   events,
	}
}

// TraceHash content-addresses the report's trace document.
func (r *Report) TraceHash() (string, error) {
	return canon.TraceHash(r.TraceDocument())
}

// AssertGolden compares the report's canonical trace against the golden
// file testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/eval -update
func AssertGolden(t *testing.T, name string, r *Report) {
	t.Helper()

	data, err := canon.MarshalCanonical(r.TraceDocument())
	if err != nil {
		t.Fatalf("marshal trace for %q: %v", name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
