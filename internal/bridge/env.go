// Package bridge exposes a game.Game to dynamic-language hosts. Every call
// decodes its dynamic arguments into native containers, forwards to the
// engine, and encodes native results back into dynamic arrays.
//
// An Env holds no state besides the engine handle, which it borrows: the host
// that opened the engine closes it. Env does no locking; hosts serialize calls.
package bridge

import (
	"errors"
	"fmt"

	"github.com/MJE43/eden-env/internal/game"
	"github.com/MJE43/eden-env/internal/nested"
)

// EngineError marks an error returned by the engine during a forwarded call.
// It unwraps to the engine's own error unchanged.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *EngineError) Unwrap() error { return e.Err }

// Option configures an Env.
type Option func(*Env)

// WithStrictShapes makes Update reject ragged action arrays instead of
// forwarding them as-is.
func WithStrictShapes() Option {
	return func(e *Env) { e.strict = true }
}

// Env is the call surface over one engine handle.
type Env struct {
	game   game.Game
	strict bool
}

// New wraps g. The Env never closes g.
func New(g game.Game, opts ...Option) *Env {
	e := &Env{game: g}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strict reports whether ragged actions are rejected.
func (e *Env) Strict() bool { return e.strict }

func engineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Err: err}
}

// Reset forwards an integer seed.
func (e *Env) Reset(seed any) error {
	s, err := nested.ScalarOf[int](seed)
	if err != nil {
		return fmt.Errorf("reset: seed: %w", err)
	}
	return engineErr(OpReset, e.game.Reset(s))
}

// Update forwards per-agent action vectors. Rows may differ in length unless
// the Env is strict.
func (e *Env) Update(action any) error {
	if e.strict {
		if err := nested.CheckRectangular(action, 2); err != nil {
			return fmt.Errorf("update: action: %w", err)
		}
	}
	a, err := nested.Decode2[float32](action)
	if err != nil {
		return fmt.Errorf("update: action: %w", err)
	}
	return engineErr(OpUpdate, e.game.Update(a))
}

// Observe returns the engine's current per-agent observations.
func (e *Env) Observe() ([]any, error) {
	obs, err := e.game.AgentObserve()
	if err != nil {
		return nil, engineErr(OpObserve, err)
	}
	return nested.Encode2(obs), nil
}

// Result returns the engine's latest per-agent results.
func (e *Env) Result() ([]any, error) {
	res, err := e.game.AgentResult()
	if err != nil {
		return nil, engineErr(OpResult, err)
	}
	return nested.Encode2(res), nil
}

// AgentCount returns a one-element array holding the engine's agent count.
func (e *Env) AgentCount() ([]any, error) {
	n, err := e.game.AgentCount()
	if err != nil {
		return nil, engineErr(OpAgentCount, err)
	}
	return nested.Encode1([]int{n}), nil
}

// GetUI returns the UI vector for one agent. The id is not range checked here.
func (e *Env) GetUI(agentID any) ([]any, error) {
	id, err := nested.ScalarOf[int](agentID)
	if err != nil {
		return nil, fmt.Errorf("get_ui: agent_id: %w", err)
	}
	ui, err := e.game.GetUI(id)
	if err != nil {
		return nil, engineErr(OpGetUI, err)
	}
	return nested.Encode1(ui), nil
}

// RunScript forwards script text to the engine's interpreter.
func (e *Env) RunScript(script string) (string, error) {
	out, err := e.game.RunScript(script)
	if err != nil {
		return "", engineErr(OpRunScript, err)
	}
	return out, nil
}

// Step runs update, then observe, then result: one tick of a training loop in
// a single call. Nothing is read back if the update fails.
func (e *Env) Step(action any) (observation, result []any, err error) {
	if err := e.Update(action); err != nil {
		return nil, nil, err
	}
	if observation, err = e.Observe(); err != nil {
		return nil, nil, err
	}
	if result, err = e.Result(); err != nil {
		return nil, nil, err
	}
	return observation, result, nil
}

// IsEngineError reports whether err came from the engine rather than from
// argument conversion.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}
