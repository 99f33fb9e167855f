// Package game defines the engine contract the bridge forwards to and a
// registry of engine openers keyed by kind.
package game

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Game is the native engine handle. Implementations work purely on native
// containers; conversion from dynamic values happens in the bridge.
type Game interface {
	Reset(seed int) error
	Update(action [][]float32) error
	RunScript(script string) (string, error)
	AgentObserve() ([][]float32, error)
	AgentResult() ([][]float32, error)
	AgentCount() (int, error)
	GetUI(agentID int) ([]float32, error)
}

// Closer is implemented by engines holding resources. Whoever opened the
// engine closes it.
type Closer interface {
	Close() error
}

// Opener constructs an engine from a configuration string, usually a path.
type Opener func(config string) (Game, error)

// ErrUnknownKind is returned by Open for an unregistered kind.
var ErrUnknownKind = errors.New("unknown engine kind")

var (
	registryMu sync.RWMutex
	registry   = map[string]Opener{}
)

// Register makes an opener available under kind. Registering a kind twice
// panics, as that is a programming error.
func Register(kind string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if open == nil {
		panic("game: Register opener is nil")
	}
	if _, dup := registry[kind]; dup {
		panic("game: Register called twice for kind " + kind)
	}
	registry[kind] = open
}

// Open constructs an engine of the given kind.
func Open(kind, config string) (Game, error) {
	registryMu.RLock()
	open, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return open(config)
}

// Kinds lists the registered kinds in sorted order.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Close closes g if it holds resources.
func Close(g Game) error {
	if c, ok := g.(Closer); ok {
		return c.Close()
	}
	return nil
}
