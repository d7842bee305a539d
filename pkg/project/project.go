// Package project saves and restores a component tree as a project file:
// the root component type, the voxel resolution it was authored at, and
// every parameter value keyed by its flattened path. Files ending in .yaml
// or .yml are YAML; anything else is indented JSON.
package project

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/WiredGeist/CEM/pkg/config"
	"github.com/WiredGeist/CEM/pkg/graph"
)

// Version is written into new project files.
const Version = "1.0"

var (
	// ErrUnknownType is returned when the saved root type is not in the
	// catalog.
	ErrUnknownType = graph.ErrUnknownKind

	// ErrResolutionMismatch is returned together with a loaded tree when the
	// project was authored at a different voxel resolution than the one in
	// use.
	ErrResolutionMismatch = errors.New("voxel resolution mismatch")

	// ErrEmptyTree is returned when saving a tree without a root.
	ErrEmptyTree = errors.New("tree has no root")
)

// Format is a project file encoding.
type Format int

const (
	JSON Format = iota
	YAML
)

// FormatOf returns the encoding used for path.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return JSON
	}
}

// Record is the on-disk project.
type Record struct {
	Version         string     `json:"version" yaml:"version"`
	VoxelResolution float32    `json:"voxel_resolution" yaml:"voxel_resolution"`
	RootType        string     `json:"root_type" yaml:"root_type"`
	Parameters      Parameters `json:"parameters" yaml:"parameters"`
}

// Capture records the state of t.
func Capture(t *graph.Tree, resolution float32) (Record, error) {
	root := t.Root()
	if root == nil {
		return Record{}, ErrEmptyTree
	}
	return Record{
		Version:         Version,
		VoxelResolution: resolution,
		RootType:        root.Kind(),
		Parameters:      Parameters(t.ParameterState()),
	}, nil
}

// Encode writes r to w.
func Encode(w io.Writer, r Record, f Format) error {
	switch f {
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode project: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode project: %w", err)
		}
		return nil
	}
}

// Decode reads a record from b.
func Decode(b []byte, f Format) (Record, error) {
	var r Record
	var err error
	switch f {
	case YAML:
		err = yaml.Unmarshal(b, &r)
	default:
		err = json.Unmarshal(b, &r)
	}
	if err != nil {
		return Record{}, fmt.Errorf("decode project: %w", err)
	}
	if r.RootType == "" {
		return Record{}, fmt.Errorf("decode project: missing root_type")
	}
	return r, nil
}

// Save writes the state of t to path.
func Save(path string, t *graph.Tree, resolution float32) error {
	r, err := Capture(t, resolution)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, r, FormatOf(path)); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Loaded is the result of Load.
type Loaded struct {
	Tree   *graph.Tree
	Record Record
	// Unknown lists saved parameter keys the rebuilt tree does not have.
	Unknown []string
}

// Load rebuilds the tree saved at path. The root is created from the
// catalog and the saved values are replayed through the parameter
// callbacks in tree order. When the saved resolution differs from running
// the tree is still returned, with an error wrapping ErrResolutionMismatch.
func Load(path string, c *graph.Catalog, running float32) (*Loaded, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	r, err := Decode(b, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return Restore(r, c, running)
}

// Restore rebuilds a tree from a record.
func Restore(r Record, c *graph.Catalog, running float32) (*Loaded, error) {
	s, err := c.New(r.RootType)
	if err != nil {
		return nil, fmt.Errorf("restore project: %w", err)
	}
	t := graph.New()
	t.SetRoot(c.Title(r.RootType), s)
	l := &Loaded{
		Tree:    t,
		Record:  r,
		Unknown: t.ApplyParameterState(r.Parameters),
	}
	if r.VoxelResolution > 0 && !config.SameResolution(r.VoxelResolution, running) {
		return l, fmt.Errorf("project uses %g mm, running at %g mm: %w",
			r.VoxelResolution, running, ErrResolutionMismatch)
	}
	return l, nil
}
