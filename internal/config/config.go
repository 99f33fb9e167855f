// Package config loads edenctl settings: built-in defaults, then an optional
// YAML file, then EDEN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved configuration.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Bridge    BridgeConfig
	Script    ScriptConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StoreConfig.Path empty disables episode recording.
type StoreConfig struct {
	Path string
}

type BridgeConfig struct {
	StrictShapes bool
}

type ScriptConfig struct {
	Timeout time.Duration
}

// RateLimitConfig.RPS zero disables rate limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Script:    ScriptConfig{Timeout: 30 * time.Second},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
	}
}

// fileConfig mirrors Config with optional fields so absent keys keep their
// defaults.
type fileConfig struct {
	Server struct {
		Addr         string        `yaml:"addr"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`
	Store struct {
		Path *string `yaml:"path"`
	} `yaml:"store"`
	Bridge struct {
		StrictShapes *bool `yaml:"strict_shapes"`
	} `yaml:"bridge"`
	Script struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"script"`
	RateLimit struct {
		RPS   *float64 `yaml:"rps"`
		Burst int      `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// DefaultPaths are tried in order when no path is given.
var DefaultPaths = []string{"edenctl.yaml", "configs/edenctl.yaml"}

// LoadFromPath resolves the configuration. An explicit path must exist; the
// default paths are skipped when missing.
func LoadFromPath(path string) (Config, error) {
	cfg := Default()

	candidates := DefaultPaths
	if path != "" {
		candidates = []string{path}
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) && path == "" {
			continue
		}
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", p, err)
		}
		merge(&cfg, parsed)
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// merge copies the keys present in src over dst.
func merge(dst *Config, src fileConfig) {
	if src.Server.Addr != "" {
		dst.Server.Addr = src.Server.Addr
	}
	if src.Server.ReadTimeout != 0 {
		dst.Server.ReadTimeout = src.Server.ReadTimeout
	}
	if src.Server.WriteTimeout != 0 {
		dst.Server.WriteTimeout = src.Server.WriteTimeout
	}
	if src.Store.Path != nil {
		dst.Store.Path = *src.Store.Path
	}
	if src.Bridge.StrictShapes != nil {
		dst.Bridge.StrictShapes = *src.Bridge.StrictShapes
	}
	if src.Script.Timeout != 0 {
		dst.Script.Timeout = src.Script.Timeout
	}
	if src.RateLimit.RPS != nil {
		dst.RateLimit.RPS = *src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
}

// ApplyEnvOverrides applies EDEN_* variables. Unset or blank variables are
// ignored; malformed ones are an error.
func ApplyEnvOverrides(cfg *Config) error {
	if v := env("EDEN_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := env("EDEN_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if err := envParse("EDEN_SERVER_READ_TIMEOUT", time.ParseDuration, &cfg.Server.ReadTimeout); err != nil {
		return err
	}
	if err := envParse("EDEN_SERVER_WRITE_TIMEOUT", time.ParseDuration, &cfg.Server.WriteTimeout); err != nil {
		return err
	}
	if err := envParse("EDEN_BRIDGE_STRICT_SHAPES", strconv.ParseBool, &cfg.Bridge.StrictShapes); err != nil {
		return err
	}
	if err := envParse("EDEN_SCRIPT_TIMEOUT", time.ParseDuration, &cfg.Script.Timeout); err != nil {
		return err
	}
	if err := envParse("EDEN_RATE_LIMIT_RPS", func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }, &cfg.RateLimit.RPS); err != nil {
		return err
	}
	return envParse("EDEN_RATE_LIMIT_BURST", strconv.Atoi, &cfg.RateLimit.Burst)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envParse[T any](key string, parse func(string) (T, error), dst *T) error {
	raw := env(key)
	if raw == "" {
		return nil
	}
	v, err := parse(raw)
	if err != nil {
		return fmt.Errorf("config: %s=%q: %w", key, raw, err)
	}
	*dst = v
	return nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return errors.New("config: server.addr is empty")
	case c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0:
		return errors.New("config: server timeouts must not be negative")
	case c.Script.Timeout <= 0:
		return errors.New("config: script.timeout must be positive")
	case c.RateLimit.RPS < 0:
		return errors.New("config: rate_limit.rps must not be negative")
	case c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0:
		return errors.New("config: rate_limit.burst must be positive when rps is set")
	}
	return nil
}
