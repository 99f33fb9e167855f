// Package jshost runs JavaScript driver scripts against engines through the
// bridge call surface. A script opens environments with the global Env
// function and steps them like any other dynamic host would:
//
//	const env = Env("worlds/arena")
//	env.reset(1)
//	env.update([[8, 4, 1], [0]])
//	env.observe()
package jshost

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/game"
	"github.com/MJE43/eden-env/internal/metrics"
	"github.com/MJE43/eden-env/internal/nested"
)

const (
	defaultTimeout = 30 * time.Second
	defaultKind    = "sandbox"
	maxLogs        = 500
)

// ErrTimeout is returned when a driver script runs past its timeout.
var ErrTimeout = errors.New("script execution timeout")

// LogEntry is one log call made by a script.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Opener opens an engine by kind and config, like game.Open.
type Opener func(kind, config string) (game.Game, error)

// Option configures a Host.
type Option func(*Host)

// WithTimeout bounds each Run call.
func WithTimeout(d time.Duration) Option {
	return func(h *Host) { h.timeout = d }
}

// WithKind sets the engine kind Env opens when the script names none.
func WithKind(kind string) Option {
	return func(h *Host) { h.kind = kind }
}

// WithOpener replaces game.Open.
func WithOpener(open Opener) Option {
	return func(h *Host) { h.open = open }
}

// WithBridgeOptions applies opts to every Env the script opens.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(h *Host) { h.bridgeOpts = append(h.bridgeOpts, opts...) }
}

// WithLogger routes script log output to l as well as the buffer.
func WithLogger(l *log.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithMetrics records every boundary call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// Host is a sandboxed goja runtime. It is single-threaded: Run must not be
// called concurrently.
type Host struct {
	rt         *goja.Runtime
	timeout    time.Duration
	kind       string
	open       Opener
	bridgeOpts []bridge.Option
	logger     *log.Logger
	metrics    *metrics.Metrics

	logs []LogEntry
	envs []*scriptEnv
}

// New creates a host with the Env constructor and log functions installed.
func New(opts ...Option) *Host {
	h := &Host{
		rt:      goja.New(),
		timeout: defaultTimeout,
		kind:    defaultKind,
		open:    game.Open,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.injectGlobals()
	return h
}

func (h *Host) injectGlobals() {
	rt := h.rt

	rt.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		h.appendLog(strings.Join(parts, " "))
		return goja.Undefined()
	})
	console := rt.NewObject()
	console.Set("log", rt.Get("log"))
	rt.Set("console", console)

	rt.Set("Env", h.newEnv)

	// Block dangerous globals.
	rt.Set("require", goja.Undefined())
	rt.Set("fetch", goja.Undefined())
	rt.Set("XMLHttpRequest", goja.Undefined())
	rt.Set("eval", goja.Undefined())
	rt.Set("Function", goja.Undefined())
}

func (h *Host) appendLog(msg string) {
	if len(h.logs) >= maxLogs {
		h.logs = h.logs[1:]
	}
	h.logs = append(h.logs, LogEntry{Time: time.Now(), Message: msg})
	if h.logger != nil {
		h.logger.Printf("log %s", msg)
	}
}

// Run executes a driver script and returns its completion value exported to
// Go, or nil for undefined.
func (h *Host) Run(source string) (any, error) {
	timer := time.AfterFunc(h.timeout, func() {
		h.rt.Interrupt(ErrTimeout.Error())
	})
	v, err := h.rt.RunString(source)
	timer.Stop()
	h.rt.ClearInterrupt()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w after %v", ErrTimeout, h.timeout)
		}
		return nil, fmt.Errorf("script execution error: %w", err)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

// Logs returns a copy of the log buffer.
func (h *Host) Logs() []LogEntry {
	return append([]LogEntry(nil), h.logs...)
}

// ClearLogs empties the log buffer.
func (h *Host) ClearLogs() {
	h.logs = h.logs[:0]
}

// OpenEnvs returns the number of environments the scripts left open.
func (h *Host) OpenEnvs() int {
	n := 0
	for _, e := range h.envs {
		if !e.closed {
			n++
		}
	}
	return n
}

// Close closes every environment opened by scripts on this host.
func (h *Host) Close() error {
	var errs []error
	for _, e := range h.envs {
		if err := e.close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.envs = nil
	return errors.Join(errs...)
}

// throw converts a Go error into a JS exception. Conversion failures become
// TypeError so scripts can tell bad arguments from engine failures.
func (h *Host) throw(err error) {
	if errors.Is(err, nested.ErrTypeMismatch) || errors.Is(err, nested.ErrRagged) {
		panic(h.rt.NewTypeError(err.Error()))
	}
	panic(h.rt.NewGoError(err))
}

// toJS converts encoded bridge output into native JS arrays and objects.
func (h *Host) toJS(v any) goja.Value {
	if step, ok := v.(bridge.StepResult); ok {
		obj := h.rt.NewObject()
		obj.Set("observation", h.toJS(step.Observation))
		obj.Set("result", h.toJS(step.Result))
		return obj
	}
	list, ok := v.([]any)
	if !ok {
		return h.rt.ToValue(v)
	}
	items := make([]any, len(list))
	for i, e := range list {
		items[i] = h.toJS(e)
	}
	return h.rt.NewArray(items...)
}
