package sandbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config table file names inside a config directory.
const (
	GeneralFile = "0_general.csv"
	AgentFile   = "2_agent.csv"
)

const defaultHealth = 100

// Config describes a world loaded from a config directory. Key identifies the
// table contents and seeds placement, so one world places agents the same way
// whichever path it was loaded through.
type Config struct {
	Dir      string
	Key      string
	MapSizeX int
	MapSizeY int
	Agents   []AgentSpec
}

// AgentSpec is one row of the agent table. A nil start is drawn from the RNG
// on every reset.
type AgentSpec struct {
	Name   string
	StartX *int
	StartY *int
	Health float32
}

// ErrInvalidConfig is returned for malformed config tables.
var ErrInvalidConfig = errors.New("invalid config")

// LoadConfig reads the general and agent tables from dir.
func LoadConfig(dir string) (*Config, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("config directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config directory %s: %w", dir, fs.ErrNotExist)
	}

	digest := sha256.New()
	general, err := readTable(filepath.Join(dir, GeneralFile), digest)
	if err != nil {
		return nil, err
	}
	if len(general) == 0 {
		return nil, fmt.Errorf("%w: %s has no data row", ErrInvalidConfig, GeneralFile)
	}
	cfg := &Config{Dir: dir}
	if cfg.MapSizeX, err = intField(general[0], "MapSizeX", GeneralFile, 1); err != nil {
		return nil, err
	}
	if cfg.MapSizeY, err = intField(general[0], "MapSizeY", GeneralFile, 1); err != nil {
		return nil, err
	}

	agents, err := readTable(filepath.Join(dir, AgentFile), digest)
	if err != nil {
		return nil, err
	}
	cfg.Key = hex.EncodeToString(digest.Sum(nil))
	for i, row := range agents {
		spec, err := parseAgent(row, i+1)
		if err != nil {
			return nil, err
		}
		cfg.Agents = append(cfg.Agents, spec)
	}
	return cfg, nil
}

func parseAgent(row map[string]string, line int) (AgentSpec, error) {
	spec := AgentSpec{Name: strings.TrimSpace(row["AgentName"]), Health: defaultHealth}
	if spec.Name == "" {
		return spec, fmt.Errorf("%w: %s row %d: AgentName is empty", ErrInvalidConfig, AgentFile, line)
	}
	for _, f := range []struct {
		key string
		dst **int
	}{{"StartX", &spec.StartX}, {"StartY", &spec.StartY}} {
		raw := strings.TrimSpace(row[f.key])
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return spec, fmt.Errorf("%w: %s row %d: %s=%q", ErrInvalidConfig, AgentFile, line, f.key, raw)
		}
		*f.dst = &v
	}
	if raw := strings.TrimSpace(row["Health"]); raw != "" {
		h, err := strconv.ParseFloat(raw, 32)
		if err != nil || h <= 0 {
			return spec, fmt.Errorf("%w: %s row %d: Health=%q", ErrInvalidConfig, AgentFile, line, raw)
		}
		spec.Health = float32(h)
	}
	return spec, nil
}

func intField(row map[string]string, key, file string, least int) (int, error) {
	raw := strings.TrimSpace(row[key])
	v, err := strconv.Atoi(raw)
	if err != nil || v < least {
		return 0, fmt.Errorf("%w: %s: %s=%q", ErrInvalidConfig, file, key, raw)
	}
	return v, nil
}

// readTable parses a headed CSV file into one map per data row and writes the
// raw table to digest. A UTF-8 byte order mark before the header is ignored.
func readTable(path string, digest io.Writer) ([]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	fmt.Fprintf(digest, "%s:%d:", filepath.Base(path), len(data))
	digest.Write(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidConfig, filepath.Base(path))
	}

	keys := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(keys))
		for i, k := range keys {
			if i < len(rec) {
				row[strings.TrimSpace(k)] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
