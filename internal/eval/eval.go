// Package eval measures what a set of steering specs does to a model's
// outputs.
//
// Compare runs the same input batch twice, once clean and once under
// steering, and reports per-input divergence. It is purely observational:
// it never persists anything and leaves the model exactly as it found it.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sourcery-ai-experiments/mulsi/internal/model"
	"github.com/sourcery-ai-experiments/mulsi/internal/steer"
	"github.com/sourcery-ai-experiments/mulsi/internal/tensor"
)

// Output is one example's model output under one condition.
type Output struct {
	ExampleID string
	Logits    []float32
	Pooled    []float32

	// Label is the argmax class of Logits.
	Label int
}

// Metrics summarizes baseline-versus-steered divergence.
type Metrics struct {
	// MeanL2 is the mean Euclidean distance between baseline and steered
	// logits across the batch.
	MeanL2 float64

	// MeanKL is the mean KL divergence, in nats, from each baseline output
	// distribution (softmax over logits) to its steered counterpart.
	MeanKL float64

	// Changed flags, per input, whether any logit moved at all.
	Changed []bool

	// FlipRate is the fraction of inputs whose argmax label changed.
	FlipRate float64
}

// TraceEvent is one seq-stamped step of a comparison run. Strength is
// carried as a string so traces stay float-free and byte-stable.
type TraceEvent struct {
	Seq      int
	Type     string
	Layer    string
	Mode     string
	Strength string
}

// Trace event types.
const (
	EventBaselineForward = "baseline-forward"
	EventAttach          = "attach"
	EventSteeredForward  = "steered-forward"
	EventCompare         = "compare"
)

// Report is the full result of one comparison run.
type Report struct {
	Scenario string
	Model    string
	Baseline []Output
	Steered  []Output
	Metrics  Metrics
	Events   []TraceEvent
}

// Option configures a Harness.
type Option func(*Harness)

// WithPolicy sets the composition policy enforced when specs attach.
func WithPolicy(p steer.Policy) Option {
	return func(h *Harness) { h.policy = p }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithScenarioName tags reports and traces with a scenario name.
func WithScenarioName(name string) Option {
	return func(h *Harness) { h.scenario = name }
}

// Harness runs baseline/steered comparisons.
type Harness struct {
	policy   steer.Policy
	logger   *slog.Logger
	scenario string
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{
		logger:   slog.Default(),
		scenario: "ad-hoc",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Compare runs in through m twice - clean, then under specs - and reports
// the divergence. The steered pass goes through a SteeringController, so
// every hook guarantee (scoped attachment, registry restoration, validation
// before attach) applies here too.
func (h *Harness) Compare(ctx context.Context, m model.Model, in *model.Inputs, specs []steer.Spec) (*Report, error) {
	if in == nil || len(in.Examples) == 0 {
		return nil, fmt.Errorf("compare: empty input batch")
	}

	report := &Report{
		Scenario: h.scenario,
		Model:    m.Name(),
	}
	seq := 0
	stamp := func(typ string, spec *steer.Spec) {
		ev := TraceEvent{Seq: seq, Type: typ}
		if spec != nil {
			ev.Layer = spec.Layer
			ev.Mode = string(spec.Mode)
			ev.Strength = formatStrength(spec.Strength)
		}
		report.Events = append(report.Events, ev)
		seq++
	}

	base, err := m.Forward(ctx, in)
	if err != nil {
		return nil, &model.ForwardPassError{Model: m.Name(), Err: err}
	}
	stamp(EventBaselineForward, nil)
	report.Baseline = outputs(in, base)

	ctrl := steer.NewController(m, steer.WithPolicy(h.policy), steer.WithLogger(h.logger))
	var steered *model.Outputs
	err = ctrl.WithSteering(ctx, specs, func(sm model.Model) error {
		for i := range specs {
			stamp(EventAttach, &specs[i])
		}
		out, ferr := sm.Forward(ctx, in)
		if ferr != nil {
			return ferr
		}
		stamp(EventSteeredForward, nil)
		steered = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Steered = outputs(in, steered)

	report.Metrics = diverge(report.Baseline, report.Steered)
	stamp(EventCompare, nil)

	h.logger.Info("comparison complete",
		"scenario", h.scenario,
		"model", m.Name(),
		"inputs", len(in.Examples),
		"mean_l2", report.Metrics.MeanL2,
		"mean_kl", report.Metrics.MeanKL,
		"flip_rate", report.Metrics.FlipRate,
	)
	return report, nil
}

func outputs(in *model.Inputs, out *model.Outputs) []Output {
	res := make([]Output, len(in.Examples))
	for i, ex := range in.Examples {
		res[i] = Output{
			ExampleID: ex.ID,
			Logits:    out.Logits[i],
			Pooled:    out.Pooled[i],
			Label:     tensor.ArgMax(out.Logits[i]),
		}
	}
	return res
}

// diverge computes the divergence metrics for aligned output slices.
func diverge(base, steered []Output) Metrics {
	m := Metrics{Changed: make([]bool, len(base))}
	flips := 0
	for i := range base {
		d := tensor.L2Dist(base[i].Logits, steered[i].Logits)
		m.MeanL2 += d
		m.MeanKL += tensor.KLDiv(tensor.Softmax(base[i].Logits), tensor.Softmax(steered[i].Logits))
		m.Changed[i] = d > 0
		if base[i].Label != steered[i].Label {
			flips++
		}
	}
	if len(base) > 0 {
		m.MeanL2 /= float64(len(base))
		m.MeanKL /= float64(len(base))
		m.FlipRate = float64(flips) / float64(len(base))
	}
	return m
}

// formatStrength renders a strength exactly, using the shortest decimal
// that round-trips the float32.
func formatStrength(s float32) string {
	return strconv.FormatFloat(float64(s), 'g', -1, 32)
}
