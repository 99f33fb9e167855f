package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const defaultScriptTimeout = 2 * time.Second

// ErrScriptTimeout is returned when a console script runs past its timeout.
var ErrScriptTimeout = errors.New("script execution timeout")

// console is the JavaScript runtime behind World.RunScript. Globals defined
// by one script stay visible to the next.
type console struct {
	world   *World
	rt      *goja.Runtime
	timeout time.Duration
	logs    []string
}

func newConsole(w *World) *console {
	c := &console{world: w, rt: goja.New(), timeout: defaultScriptTimeout}
	c.injectGlobals()
	return c
}

func (c *console) injectGlobals() {
	rt := c.rt

	rt.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		c.logs = append(c.logs, strings.Join(parts, " "))
		return goja.Undefined()
	})
	con := rt.NewObject()
	con.Set("log", rt.Get("log"))
	rt.Set("console", con)

	rt.Set("agent", func(call goja.FunctionCall) goja.Value {
		a := c.agentArg(call, 0)
		return rt.ToValue(map[string]any{
			"name":   a.spec.Name,
			"x":      a.x,
			"y":      a.y,
			"health": a.health,
			"alive":  a.alive(),
		})
	})

	rt.Set("teleport", func(call goja.FunctionCall) goja.Value {
		a := c.agentArg(call, 0)
		x := int(call.Argument(1).ToInteger())
		y := int(call.Argument(2).ToInteger())
		if x < 0 || y < 0 || x >= c.world.cfg.MapSizeX || y >= c.world.cfg.MapSizeY {
			return rt.ToValue(false)
		}
		a.x, a.y = x, y
		return rt.ToValue(true)
	})

	rt.Set("setHealth", func(call goja.FunctionCall) goja.Value {
		a := c.agentArg(call, 0)
		a.health = max(float32(call.Argument(1).ToFloat()), 0)
		return goja.Undefined()
	})

	rt.Set("require", goja.Undefined())
	rt.Set("fetch", goja.Undefined())
	rt.Set("eval", goja.Undefined())
	rt.Set("Function", goja.Undefined())
}

// agentArg resolves argument n to an agent or throws into the script.
func (c *console) agentArg(call goja.FunctionCall, n int) *agent {
	id := int(call.Argument(n).ToInteger())
	if id < 0 || id >= len(c.world.agents) {
		panic(c.rt.NewGoError(fmt.Errorf("%w: %d", ErrAgentID, id)))
	}
	return c.world.agents[id]
}

func (c *console) syncState() {
	w := c.world
	c.rt.Set("tick", w.tick)
	c.rt.Set("agentCount", len(w.agents))
	c.rt.Set("mapSize", []int{w.cfg.MapSizeX, w.cfg.MapSizeY})
}

func (c *console) run(src string) (string, error) {
	c.logs = c.logs[:0]
	c.syncState()

	timer := time.AfterFunc(c.timeout, func() {
		c.rt.Interrupt(ErrScriptTimeout.Error())
	})
	v, err := c.rt.RunString(src)
	timer.Stop()
	c.rt.ClearInterrupt()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return "", fmt.Errorf("%w after %v", ErrScriptTimeout, c.timeout)
		}
		return "", fmt.Errorf("script error: %w", err)
	}

	lines := append([]string(nil), c.logs...)
	if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		lines = append(lines, v.String())
	}
	return strings.Join(lines, "\n"), nil
}
