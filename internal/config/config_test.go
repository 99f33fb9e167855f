package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edenctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromPathMergesFile(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
  read_timeout: 5s
store:
  path: /tmp/eden.db
bridge:
  strict_shapes: true
script:
  timeout: 250ms
rate_limit:
  rps: 0
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, Default().Server.WriteTimeout, cfg.Server.WriteTimeout, "absent key keeps default")
	assert.Equal(t, "/tmp/eden.db", cfg.Store.Path)
	assert.True(t, cfg.Bridge.StrictShapes)
	assert.Equal(t, 250*time.Millisecond, cfg.Script.Timeout)
	assert.Zero(t, cfg.RateLimit.RPS, "explicit zero disables limiting")
}

func TestLoadFromPathMissingExplicitFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromPathBadYAML(t *testing.T) {
	_, err := LoadFromPath(writeFile(t, "server: [\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EDEN_SERVER_ADDR", "0.0.0.0:1234")
	t.Setenv("EDEN_BRIDGE_STRICT_SHAPES", "true")
	t.Setenv("EDEN_SCRIPT_TIMEOUT", "3s")
	t.Setenv("EDEN_RATE_LIMIT_RPS", "2.5")
	t.Setenv("EDEN_RATE_LIMIT_BURST", "4")

	cfg, err := LoadFromPath(writeFile(t, "server:\n  addr: \":9090\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:1234", cfg.Server.Addr, "env wins over file")
	assert.True(t, cfg.Bridge.StrictShapes)
	assert.Equal(t, 3*time.Second, cfg.Script.Timeout)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	assert.Equal(t, 4, cfg.RateLimit.Burst)
}

func TestEnvOverrideMalformed(t *testing.T) {
	t.Setenv("EDEN_SCRIPT_TIMEOUT", "soon")

	_, err := LoadFromPath(writeFile(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EDEN_SCRIPT_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero script timeout", func(c *Config) { c.Script.Timeout = 0 }},
		{"negative rps", func(c *Config) { c.RateLimit.RPS = -1 }},
		{"rps without burst", func(c *Config) { c.RateLimit.Burst = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
