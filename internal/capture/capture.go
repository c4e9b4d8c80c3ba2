// Package capture records intermediate activations from a model forward
// pass without modifying them.
//
// A capture is a scoped acquisition: probes are attached, exactly one
// forward pass runs, and probes are detached unconditionally - including
// when the pass fails, in which case the failure is propagated as a
// ForwardPassError only after cleanup. All requested layers are captured in
// a single pass so callers never pay for repeated forwards.
package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sourcery-ai-experiments/mulsi/internal/model"
	"github.com/sourcery-ai-experiments/mulsi/internal/tensor"
)

// Record is one captured activation, tagged with the layer and input
// example that produced it. The tensor is a private clone; mutating the
// model's live activations after capture cannot change it.
type Record struct {
	Layer     model.LayerHandle
	ExampleID string
	SessionID string
	Seq       int64
	Act       *tensor.Dense
}

// Result holds all records from one capture session, keyed by layer path.
// Records within a layer follow input order.
type Result struct {
	SessionID string
	Model     string
	Records   map[string][]Record
}

// Layer returns the records captured at the given layer path.
func (r *Result) Layer(path string) []Record {
	return r.Records[path]
}

// Activation returns the captured tensor for one layer/example combination.
func (r *Result) Activation(path, exampleID string) (*tensor.Dense, bool) {
	for _, rec := range r.Records[path] {
		if rec.ExampleID == exampleID {
			return rec.Act, true
		}
	}
	return nil, false
}

// IDGenerator produces session identifiers.
// Implemented by UUIDv7Generator (production) and testutil.FixedIDGenerator.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session IDs.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Sequencer produces monotonically increasing record sequence numbers.
// Implemented by testutil.DeterministicClock; the default is a fresh
// per-session counter starting at 1.
type Sequencer interface {
	Next() int64
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithIDGenerator overrides session ID generation (deterministic tests).
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Capturer) { c.gen = gen }
}

// WithSequencer shares one sequence across capture sessions, so records
// from a multi-session workflow carry a global order.
func WithSequencer(s Sequencer) Option {
	return func(c *Capturer) { c.seq = s }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Capturer) { c.logger = l }
}

// Capturer attaches capture probes and records activations.
//
// Not safe for concurrent use against the same model instance: probe
// attachment mutates the model's hook registry, so callers serialize
// capture-then-steer workflows on one model (see SteeringController).
type Capturer struct {
	gen    IDGenerator
	seq    Sequencer
	logger *slog.Logger
}

// New creates a Capturer with UUIDv7 session IDs and default logging.
func New(opts ...Option) *Capturer {
	c := &Capturer{
		gen:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture runs one forward pass over in and records activations at every
// requested layer.
//
// Preconditions: every layer must resolve against m; otherwise a
// LayerNotFoundError is returned before any probe attaches. On forward
// failure all probes are still detached and the failure comes back as a
// ForwardPassError.
//
// The probe relies on the Model contract that each hook point fires exactly
// once per example, in input order; that is how records are matched to the
// example IDs in the batch.
func (c *Capturer) Capture(ctx context.Context, m model.Model, in *model.Inputs, layers []string) (*Result, error) {
	if in == nil || len(in.Examples) == 0 {
		return nil, fmt.Errorf("capture: empty input batch")
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("capture: no layers requested")
	}

	// Resolve everything up front so a bad handle costs nothing.
	handles := make([]model.LayerHandle, len(layers))
	for i, name := range layers {
		h, err := m.ResolveLayer(name)
		if err != nil {
			return nil, err
		}
		handles[i] = h
	}

	sessionID := c.gen.Generate()
	result := &Result{
		SessionID: sessionID,
		Model:     m.Name(),
		Records:   make(map[string][]Record, len(handles)),
	}

	var recorded int64
	nextSeq := func() int64 {
		recorded++
		return recorded
	}
	if c.seq != nil {
		nextSeq = func() int64 {
			recorded++
			return c.seq.Next()
		}
	}

	var tokens []model.HookToken
	defer func() {
		// Unconditional detach - the scoped-acquisition guarantee.
		for _, tok := range tokens {
			if err := m.RemoveHook(tok); err != nil {
				c.logger.Error("capture probe detach failed",
					"session", sessionID,
					"hook", tok.ID,
					"layer", tok.Layer,
					"error", err,
				)
			}
		}
	}()

	for _, h := range handles {
		h := h
		tok, err := m.RegisterHook(h, func(act *tensor.Dense) (*tensor.Dense, error) {
			i := len(result.Records[h.Path])
			if i >= len(in.Examples) {
				return nil, fmt.Errorf("capture: layer %q fired more than once per example", h.Path)
			}
			result.Records[h.Path] = append(result.Records[h.Path], Record{
				Layer:     h,
				ExampleID: in.Examples[i].ID,
				SessionID: sessionID,
				Seq:       nextSeq(),
				Act:       act.Clone(),
			})
			// Observation only - the live activation flows on untouched.
			return act, nil
		})
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}

	c.logger.Debug("capture probes attached",
		"session", sessionID,
		"model", m.Name(),
		"layers", len(handles),
		"examples", len(in.Examples),
	)

	if _, err := m.Forward(ctx, in); err != nil {
		return nil, &model.ForwardPassError{Model: m.Name(), Err: err}
	}

	c.logger.Info("capture complete",
		"session", sessionID,
		"model", m.Name(),
		"records", recorded,
	)
	return result, nil
}
