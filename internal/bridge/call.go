package bridge

import (
	"errors"
	"fmt"

	"github.com/MJE43/eden-env/internal/nested"
)

// Operation names, as seen by hosts.
const (
	OpReset      = "reset"
	OpUpdate     = "update"
	OpObserve    = "observe"
	OpResult     = "result"
	OpAgentCount = "agent_count"
	OpGetUI      = "get_ui"
	OpRunScript  = "run_script"
	// OpStep is update, observe and result in one call.
	OpStep = "step"
)

// StepResult is what Call returns for OpStep.
type StepResult struct {
	Observation []any `json:"observation"`
	Result      []any `json:"result"`
}

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrArity            = errors.New("wrong number of arguments")
)

type operation struct {
	arity int
	call  func(e *Env, args []any) (any, error)
}

var operations = map[string]operation{
	OpReset: {1, func(e *Env, args []any) (any, error) {
		return nil, e.Reset(args[0])
	}},
	OpUpdate: {1, func(e *Env, args []any) (any, error) {
		return nil, e.Update(args[0])
	}},
	OpObserve: {0, func(e *Env, _ []any) (any, error) {
		return e.Observe()
	}},
	OpResult: {0, func(e *Env, _ []any) (any, error) {
		return e.Result()
	}},
	OpAgentCount: {0, func(e *Env, _ []any) (any, error) {
		return e.AgentCount()
	}},
	OpGetUI: {1, func(e *Env, args []any) (any, error) {
		return e.GetUI(args[0])
	}},
	OpRunScript: {1, func(e *Env, args []any) (any, error) {
		script, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("run_script: script: %w", &nested.TypeError{Want: "string", Got: fmt.Sprintf("%T", args[0])})
		}
		return e.RunScript(script)
	}},
	OpStep: {1, func(e *Env, args []any) (any, error) {
		obs, res, err := e.Step(args[0])
		if err != nil {
			return nil, err
		}
		return StepResult{Observation: obs, Result: res}, nil
	}},
}

// Operations lists the operation names accepted by Call, in call-surface order.
func Operations() []string {
	return []string{OpReset, OpUpdate, OpObserve, OpResult, OpAgentCount, OpGetUI, OpRunScript, OpStep}
}

// Call dispatches op by name. Operations without a result return nil.
func (e *Env) Call(op string, args ...any) (any, error) {
	o, ok := operations[op]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	if len(args) != o.arity {
		return nil, fmt.Errorf("%s: %w: want %d, got %d", op, ErrArity, o.arity, len(args))
	}
	return o.call(e, args)
}

// Arity returns the number of arguments op takes, or -1 for an unknown op.
func Arity(op string) int {
	o, ok := operations[op]
	if !ok {
		return -1
	}
	return o.arity
}
