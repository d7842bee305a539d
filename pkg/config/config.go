// Package config persists the application settings that survive restarts.
// The only setting is the voxel resolution, which is read once at startup;
// changing it takes effect after a restart.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chewxy/math32"
	"github.com/pelletier/go-toml/v2"
)

// DefaultResolution is the voxel size in mm used when nothing is saved.
const DefaultResolution = 0.5

// EnvPath overrides the config file location.
const EnvPath = "CEM_CONFIG"

// ErrRestartRequired is returned when a saved change only applies after the
// application restarts.
var ErrRestartRequired = errors.New("restart required")

// Config is the persisted application configuration.
type Config struct {
	// VoxelResolution is the mesh voxel size in mm.
	VoxelResolution float32 `toml:"voxel_resolution"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{VoxelResolution: DefaultResolution}
}

// Path returns the config file location: $CEM_CONFIG if set, otherwise
// cem/config.toml under the user config directory.
func Path() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config path: %w", err)
	}
	return filepath.Join(dir, "cem", "config.toml"), nil
}

// Open reads the config at path. A missing file yields the defaults and no
// error.
func Open(path string) (Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("open config: %w", err)
	}
	if err := toml.Unmarshal(b, &c); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}
	if !validResolution(c.VoxelResolution) {
		return Default(), fmt.Errorf("parse config %s: voxel_resolution must be positive and finite, got %g", path, c.VoxelResolution)
	}
	return c, nil
}

// Load is Open that falls back to the defaults on any error, logging a
// warning.
func Load(path string, log *slog.Logger) Config {
	if log == nil {
		log = slog.Default()
	}
	c, err := Open(path)
	if err != nil {
		log.Warn("using default config", "path", path, "error", err)
		return Default()
	}
	return c
}

// Save writes c to path, creating the directory if needed.
func Save(path string, c Config) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// validResolution rejects NaN along with non-positive and infinite values.
func validResolution(v float32) bool {
	return v > 0 && !math32.IsInf(v, 1)
}

// SameResolution reports whether two resolutions are equal within 0.001 mm.
func SameResolution(a, b float32) bool {
	d := a - b
	return d < 0.001 && d > -0.001
}

// SetResolution saves a new voxel resolution on top of the running
// configuration. It returns ErrRestartRequired when the value differs from
// the one in use.
func SetResolution(path string, running Config, v float32) error {
	if !validResolution(v) {
		return fmt.Errorf("voxel resolution must be positive and finite, got %g", v)
	}
	next := running
	next.VoxelResolution = v
	if err := Save(path, next); err != nil {
		return err
	}
	if !SameResolution(running.VoxelResolution, v) {
		return fmt.Errorf("voxel resolution %g mm saved: %w", v, ErrRestartRequired)
	}
	return nil
}
