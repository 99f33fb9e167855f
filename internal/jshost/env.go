package jshost

import (
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/game"
	"github.com/MJE43/eden-env/internal/metrics"
)

var errClosed = errors.New("env is closed")

type scriptEnv struct {
	g       game.Game
	env     *bridge.Env
	metrics *metrics.Metrics
	closed  bool
}

// close releases the engine once, from script or host, and drops it from the
// active env gauge.
func (e *scriptEnv) close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.metrics.EnvClosed()
	return game.Close(e.g)
}

// newEnv implements Env(config[, kind]).
func (h *Host) newEnv(call goja.FunctionCall) goja.Value {
	config, ok := call.Argument(0).Export().(string)
	if !ok {
		panic(h.rt.NewTypeError("Env: config must be a string"))
	}
	kind := h.kind
	if k := call.Argument(1); !goja.IsUndefined(k) {
		if kind, ok = k.Export().(string); !ok {
			panic(h.rt.NewTypeError("Env: kind must be a string"))
		}
	}

	g, err := h.open(kind, config)
	if err != nil {
		h.throw(err)
	}
	se := &scriptEnv{g: g, env: bridge.New(g, h.bridgeOpts...), metrics: h.metrics}
	h.envs = append(h.envs, se)
	h.metrics.EnvOpened()

	obj := h.rt.NewObject()
	for _, op := range bridge.Operations() {
		obj.Set(op, h.method(se, op))
	}
	obj.Set("close", func(goja.FunctionCall) goja.Value {
		if err := se.close(); err != nil {
			h.throw(err)
		}
		return goja.Undefined()
	})
	obj.Set("kind", kind)
	obj.Set("config", config)
	return obj
}

// method binds one bridge operation. Missing JS arguments arrive as nil and
// fail conversion like any other wrong type.
func (h *Host) method(se *scriptEnv, op string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if se.closed {
			panic(h.rt.NewGoError(errClosed))
		}
		args := make([]any, bridge.Arity(op))
		for i := range args {
			if a := call.Argument(i); !goja.IsUndefined(a) && !goja.IsNull(a) {
				args[i] = a.Export()
			}
		}

		start := time.Now()
		out, err := se.env.Call(op, args...)
		h.metrics.ObserveCall(op, start, err)
		if err != nil {
			h.throw(err)
		}
		if out == nil {
			return goja.Undefined()
		}
		return h.toJS(out)
	}
}
