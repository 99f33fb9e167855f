// Package sandbox is a small grid-world engine implementing game.Game. It is
// the reference engine the hosts run against: deterministic per seed, loaded
// from a config directory of CSV tables, with a JavaScript console for
// run_script.
package sandbox

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MJE43/eden-env/internal/game"
)

// Kind is the registry name of this engine.
const Kind = "sandbox"

func init() {
	game.Register(Kind, func(config string) (game.Game, error) {
		return Open(config)
	})
}

// Action codes, indexed like the engine's action table.
const (
	ActionIdle = iota
	ActionAttack
	ActionCollect
	ActionPickup
	ActionConsume
	ActionEquip
	ActionSynthesize
	ActionDiscard
	ActionMove
)

// Result row columns: action code, target type, target id, outcome.
const (
	targetTypeAgent = 0
	outcomeFail     = 0
	outcomeSuccess  = 1
	attackDamage    = 10
)

// ErrAgentID is returned for an agent id outside the world.
var ErrAgentID = errors.New("agent id out of range")

type agent struct {
	spec   AgentSpec
	x, y   int
	health float32
}

func (a *agent) alive() bool { return a.health > 0 }

// World is a game.Game over a rectangular map. It is not safe for concurrent
// use.
type World struct {
	cfg     *Config
	agents  []*agent
	tick    int
	results [][]float32
	console *console
}

// Option configures a World.
type Option func(*World)

// WithScriptTimeout bounds each RunScript call.
func WithScriptTimeout(d time.Duration) Option {
	return func(w *World) { w.console.timeout = d }
}

// Open loads the config directory and resets the world with seed 0.
func Open(dir string, opts ...Option) (*World, error) {
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...), nil
}

// New builds a world from an already loaded config and resets it with seed 0.
func New(cfg *Config, opts ...Option) *World {
	w := &World{cfg: cfg}
	for _, spec := range cfg.Agents {
		w.agents = append(w.agents, &agent{spec: spec})
	}
	w.console = newConsole(w)
	for _, opt := range opts {
		opt(w)
	}
	w.place(0)
	return w
}

func (w *World) place(seed int) {
	rng := newFloatStream(w.cfg.Key, "reset", seed)
	for _, a := range w.agents {
		if a.spec.StartX != nil {
			a.x = clamp(*a.spec.StartX, 0, w.cfg.MapSizeX-1)
		} else {
			a.x = rng.Intn(w.cfg.MapSizeX)
		}
		if a.spec.StartY != nil {
			a.y = clamp(*a.spec.StartY, 0, w.cfg.MapSizeY-1)
		} else {
			a.y = rng.Intn(w.cfg.MapSizeY)
		}
		a.health = a.spec.Health
	}
	w.tick = 0
	w.results = nil
}

// Reset restores every agent and reseeds placement.
func (w *World) Reset(seed int) error {
	w.place(seed)
	return nil
}

// Update advances one tick. Row i drives agent i; agents act in index order.
func (w *World) Update(action [][]float32) error {
	w.tick++
	results := make([][]float32, len(w.agents))
	for i, a := range w.agents {
		var row []float32
		if i < len(action) {
			row = action[i]
		}
		results[i] = w.act(i, a, row)
	}
	w.results = results
	return nil
}

func (w *World) act(i int, a *agent, row []float32) []float32 {
	if !a.alive() {
		return []float32{ActionIdle, 0, 0, outcomeFail}
	}
	if len(row) == 0 {
		return []float32{ActionIdle, 0, 0, outcomeSuccess}
	}
	code, ok := whole(row[0])
	if !ok {
		return []float32{row[0], 0, 0, outcomeFail}
	}
	switch code {
	case ActionIdle:
		return []float32{ActionIdle, 0, 0, outcomeSuccess}
	case ActionMove:
		return w.move(a, row)
	case ActionAttack:
		return w.attack(i, a, row)
	default:
		return []float32{float32(code), 0, 0, outcomeFail}
	}
}

func (w *World) move(a *agent, row []float32) []float32 {
	fail := []float32{ActionMove, 0, 0, outcomeFail}
	if len(row) < 3 {
		return fail
	}
	tx, okx := whole(row[1])
	ty, oky := whole(row[2])
	if !okx || !oky || tx < 0 || ty < 0 || tx >= w.cfg.MapSizeX || ty >= w.cfg.MapSizeY {
		return fail
	}
	a.x += sign(tx - a.x)
	a.y += sign(ty - a.y)
	return []float32{ActionMove, 0, 0, outcomeSuccess}
}

func (w *World) attack(i int, a *agent, row []float32) []float32 {
	if len(row) < 2 {
		return []float32{ActionAttack, targetTypeAgent, 0, outcomeFail}
	}
	t, ok := whole(row[1])
	if !ok || t < 0 || t >= len(w.agents) || t == i {
		return []float32{ActionAttack, targetTypeAgent, row[1], outcomeFail}
	}
	target := w.agents[t]
	if !target.alive() || abs(target.x-a.x) > 1 || abs(target.y-a.y) > 1 {
		return []float32{ActionAttack, targetTypeAgent, float32(t), outcomeFail}
	}
	target.health = max(target.health-attackDamage, 0)
	return []float32{ActionAttack, targetTypeAgent, float32(t), outcomeSuccess}
}

// AgentObserve returns [id, alive, health, tick, x, y] per agent. Dead agents
// observe nothing and get an empty row.
func (w *World) AgentObserve() ([][]float32, error) {
	out := make([][]float32, len(w.agents))
	for i, a := range w.agents {
		if !a.alive() {
			out[i] = []float32{}
			continue
		}
		out[i] = []float32{float32(i), 1, a.health, float32(w.tick), float32(a.x), float32(a.y)}
	}
	return out, nil
}

// AgentResult returns the per-agent outcome of the last Update, or no rows
// since the last Reset.
func (w *World) AgentResult() ([][]float32, error) {
	out := make([][]float32, len(w.results))
	for i, r := range w.results {
		out[i] = append([]float32(nil), r...)
	}
	return out, nil
}

// AgentCount returns the number of agents, dead or alive.
func (w *World) AgentCount() (int, error) {
	return len(w.agents), nil
}

// GetUI returns [x, y, health, alive, mapX, mapY] for one agent.
func (w *World) GetUI(agentID int) ([]float32, error) {
	if agentID < 0 || agentID >= len(w.agents) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrAgentID, agentID, len(w.agents))
	}
	a := w.agents[agentID]
	alive := float32(0)
	if a.alive() {
		alive = 1
	}
	return []float32{float32(a.x), float32(a.y), a.health, alive, float32(w.cfg.MapSizeX), float32(w.cfg.MapSizeY)}, nil
}

// RunScript evaluates JavaScript against the world and returns its log output
// followed by the completion value.
func (w *World) RunScript(script string) (string, error) {
	return w.console.run(script)
}

// Tick returns the number of updates since the last reset.
func (w *World) Tick() int { return w.tick }

// whole reports f as an int when it holds an exact, reasonably sized integer.
func whole(f float32) (int, bool) {
	v := float64(f)
	if math.IsInf(v, 0) || v != math.Trunc(v) || math.Abs(v) > 1<<24 {
		return 0, false
	}
	return int(v), true
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
