package steer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sourcery-ai-experiments/mulsi/internal/model"
)

// State is the controller lifecycle state.
//
// Transitions: Idle → Attached → Running → Idle, with Attached → Idle when
// attachment itself fails. All transitions happen inside WithSteering.
type State int

const (
	StateIdle State = iota
	StateAttached
	StateRunning
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Policy validates a spec set before attachment.
// Implemented by the CUE-backed policy package; nil disables policy checks.
type Policy interface {
	Validate(specs []Spec) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithPolicy sets the composition policy checked at attach time.
func WithPolicy(p Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller orchestrates intervention hooks on one model instance.
//
// The controller is the model-instance-scoped serialization boundary: hook
// registration mutates shared model state, so WithSteering holds an
// internal mutex for the whole scope. Concurrent callers queue; nested
// calls from inside fn deadlock by design rather than interleave hooks.
type Controller struct {
	mu     sync.Mutex
	model  model.Model
	policy Policy
	logger *slog.Logger
	state  State
}

// NewController creates a Controller for m in the Idle state.
func NewController(m model.Model, opts ...Option) *Controller {
	c := &Controller{
		model:  m,
		logger: slog.Default(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the underlying model instance.
func (c *Controller) Model() model.Model {
	return c.model
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WithSteering attaches all specs as intervention hooks, runs fn against
// the steered model, and detaches everything on the way out - normal
// return, error, or panic alike. After the scope exits the model's hook
// registry is verified to match its pre-attachment snapshot.
//
// Validation order, all before any hook attaches:
//  1. structural spec validation
//  2. composition policy (ConflictingModeError)
//  3. layer resolution (LayerNotFoundError)
//
// Specs targeting the same layer are applied in the order given; specs on
// disjoint layers are independent.
func (c *Controller) WithSteering(ctx context.Context, specs []Spec, fn func(m model.Model) error) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range specs {
		if verr := s.Validate(); verr != nil {
			return verr
		}
	}
	if c.policy != nil {
		if perr := c.policy.Validate(specs); perr != nil {
			return perr
		}
	}

	handles := make([]model.LayerHandle, len(specs))
	for i, s := range specs {
		h, rerr := c.model.ResolveLayer(s.Layer)
		if rerr != nil {
			return rerr
		}
		handles[i] = h
	}

	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}

	before := c.model.HookSnapshot()

	var tokens []model.HookToken
	defer func() {
		// Teardown runs on every exit path, panics included. A leaked
		// hook is worse than the original failure, so detachment errors
		// surface unless they would mask one.
		terr := c.detach(tokens, before)
		c.state = StateIdle
		if err == nil {
			err = terr
		} else if terr != nil {
			c.logger.Error("steering teardown failed after scope error",
				"model", c.model.Name(),
				"teardown_error", terr,
				"scope_error", err,
			)
		}
	}()

	for i, s := range specs {
		tok, aerr := c.model.RegisterHook(handles[i], s.Hook())
		if aerr != nil {
			return fmt.Errorf("attach spec at layer %q: %w", s.Layer, aerr)
		}
		tokens = append(tokens, tok)
		c.logger.Debug("intervention attached",
			"model", c.model.Name(),
			"layer", s.Layer,
			"mode", string(s.Mode),
			"strength", s.Strength,
			"direction", s.Direction.ID,
		)
	}
	c.state = StateAttached

	c.state = StateRunning
	return fn(c.model)
}

// detach removes the scope's hooks and verifies the registry matches the
// pre-attachment snapshot.
func (c *Controller) detach(tokens []model.HookToken, before []model.HookToken) error {
	var firstErr error
	for _, tok := range tokens {
		if derr := c.model.RemoveHook(tok); derr != nil && firstErr == nil {
			firstErr = fmt.Errorf("detach hook %s at %q: %w", tok.ID, tok.Layer, derr)
		}
	}
	if firstErr != nil {
		return firstErr
	}

	after := c.model.HookSnapshot()
	if !slices.Equal(before, after) {
		return fmt.Errorf("hook registry not restored after steering scope: before=%d hooks, after=%d", len(before), len(after))
	}
	return nil
}
