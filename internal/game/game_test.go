package game

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopGame struct{ closed bool }

func (g *nopGame) Reset(int) error { return nil }
func (g *nopGame) Update([][]float32) error { return nil }
func (g *nopGame) RunScript(string) (string, error) { return "", nil }
func (g *nopGame) AgentObserve() ([][]float32, error) { return nil, nil }
func (g *nopGame) AgentResult() ([][]float32, error) { return nil, nil }
func (g *nopGame) AgentCount() (int, error) { return 0, nil }
func (g *nopGame) GetUI(int) ([]float32, error) { return nil, nil }
func (g *nopGame) Close() error { g.closed = true; return nil }

func TestRegisterAndOpen(t *testing.T) {
	var gotConfig string
	Register("test-nop", func(config string) (Game, error) {
		gotConfig = config
		return &nopGame{}, nil
	})

	g, err := Open("test-nop", "some/dir")
	require.NoError(t, err)
	assert.Equal(t, "some/dir", gotConfig)
	assert.Contains(t, Kinds(), "test-nop")

	require.NoError(t, Close(g))
	assert.True(t, g.(*nopGame).closed)
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open("does-not-exist", "")
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestRegisterTwicePanics(t *testing.T) {
	open := func(string) (Game, error) { return &nopGame{}, nil }
	Register("test-dup", open)
	assert.Panics(t, func() { Register("test-dup", open) })
}
