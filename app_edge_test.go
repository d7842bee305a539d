package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/WiredGeist/CEM/pkg/config"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/project"
	"github.com/WiredGeist/CEM/pkg/scheduler"
)

// ---------------------------------------------------------------------------
// 1. Empty and comment-only scripts: no errors, slices non-nil for JSON.
// ---------------------------------------------------------------------------

func TestE2EEmptySourceExtended(t *testing.T) {
	a := newTestApp(t)
	result := a.LoadScript(context.Background(), "")

	if len(result.Errors) != 0 {
		t.Errorf("expected 0 errors for empty source, got %d", len(result.Errors))
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected 0 warnings for empty source, got %d", len(result.Warnings))
	}
	// Ensure slices are non-nil (JSON should serialize as [] not null).
	if result.Errors == nil {
		t.Error("Errors should be non-nil empty slice, got nil")
	}
	if result.Warnings == nil {
		t.Error("Warnings should be non-nil empty slice, got nil")
	}
}

func TestE2ECommentsOnly(t *testing.T) {
	a := newTestApp(t)
	result := a.LoadScript(context.Background(), "; just a comment\n;; another one\n")
	if len(result.Errors) != 0 {
		t.Errorf("expected 0 errors for comments, got %v", result.Errors)
	}
}

// ---------------------------------------------------------------------------
// 2. Script diagnostics: line info on errors, clamp warnings.
// ---------------------------------------------------------------------------

func TestE2ESyntaxErrorWithLineInfo(t *testing.T) {
	a := newTestApp(t)

	// Valid code on line 1, broken code on line 2 so line info is meaningful.
	result := a.LoadScript(context.Background(), "(root \"turbojet\")\n(param \"Inlet/Length\"")
	if len(result.Errors) == 0 {
		t.Fatal("expected at least one eval error for unmatched parens")
	}
	e := result.Errors[0]
	if e.Message == "" {
		t.Error("syntax error should have a non-empty message")
	}
	t.Logf("syntax error: line=%d, col=%d, message=%q", e.Line, e.Col, e.Message)
}

func TestE2EClampWarning(t *testing.T) {
	a := newTestApp(t)
	result := a.LoadScript(context.Background(), `
(root "turbojet")
(param "Exhaust Nozzle/Exp. Ratio" 99)
`)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", result.Warnings)
	}
	if !strings.Contains(result.Warnings[0].Message, "clamped to 30") {
		t.Errorf("warning = %q, want clamp to 30", result.Warnings[0].Message)
	}
}

func TestE2EUnknownComponent(t *testing.T) {
	a := newTestApp(t)
	result := a.LoadScript(context.Background(), `(root "ramjet")`)
	if len(result.Errors) == 0 {
		t.Fatal("expected an error for an unknown component")
	}
	if !strings.Contains(result.Errors[0].Message, "unknown component type") {
		t.Errorf("message = %q", result.Errors[0].Message)
	}
}

// ---------------------------------------------------------------------------
// 3. Structural edits and selection.
// ---------------------------------------------------------------------------

func TestE2ESetRootUnknownKind(t *testing.T) {
	a := newTestApp(t)
	err := a.SetRoot(context.Background(), "ramjet")
	if !errors.Is(err, graph.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestE2EAddChildMissingParent(t *testing.T) {
	a := newTestApp(t)
	_, err := a.AddChild(context.Background(), 42, "inlet", "")
	if !errors.Is(err, graph.ErrNoSuchNode) {
		t.Fatalf("expected ErrNoSuchNode, got %v", err)
	}
}

func TestE2EAddChildUsesTitle(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if err := a.SetRoot(ctx, "turbojet"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	in, _ := a.Inspect(ctx)
	comp := findNode(t, in, "Axial Compressor")

	id, err := a.AddChild(ctx, comp.ID, "cooling", "")
	if err != nil {
		t.Fatalf("add child: %v", err)
	}
	in, _ = a.Inspect(ctx)
	n := findNode(t, in, "Regenerative Cooling")
	if n.ID != id || n.Parent != comp.ID || n.Depth != 2 {
		t.Errorf("unexpected node: %+v", n)
	}
}

func TestE2ERemoveClearsSelection(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if err := a.SetRoot(ctx, "turbojet"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	in, _ := a.Inspect(ctx)
	inlet := findNode(t, in, "Inlet")

	if err := a.Select(ctx, inlet.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	in, _ = a.Inspect(ctx)
	if in.Selected != inlet.ID || !findNode(t, in, "Inlet").Selected {
		t.Fatalf("selection = %d, want %d", in.Selected, inlet.ID)
	}

	if err := a.Remove(ctx, inlet.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	in, _ = a.Inspect(ctx)
	if in.Selected != graph.NoNode {
		t.Errorf("selection = %d, want none", in.Selected)
	}
	if len(in.Nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(in.Nodes))
	}
}

func TestE2ESelectUnknownNode(t *testing.T) {
	a := newTestApp(t)
	err := a.Select(context.Background(), 7)
	if !errors.Is(err, graph.ErrNoSuchNode) {
		t.Fatalf("expected ErrNoSuchNode, got %v", err)
	}
	if err := a.Select(context.Background(), graph.NoNode); err != nil {
		t.Errorf("clearing the selection: %v", err)
	}
}

func TestE2EDisableStage(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if err := a.SetRoot(ctx, "turbojet"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	in, _ := a.Inspect(ctx)
	nozzle := findNode(t, in, "Exhaust Nozzle")
	waitPass(t, a, 1)

	if err := a.SetEnabled(ctx, nozzle.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	r := waitPass(t, a, 2)
	if !slices.Contains(r.Report.Disabled, nozzle.ID) {
		t.Errorf("disabled = %v, want nozzle %d", r.Report.Disabled, nozzle.ID)
	}
	if _, ok := r.Results["Exhaust Nozzle"]; ok {
		t.Error("disabled nozzle still reports read-outs")
	}
	in, _ = a.Inspect(ctx)
	if findNode(t, in, "Exhaust Nozzle").Enabled {
		t.Error("nozzle should be disabled")
	}
}

// ---------------------------------------------------------------------------
// 4. Rapid edits: drags collapse, script reloads never race.
// ---------------------------------------------------------------------------

func TestE2ERapidDrag(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if err := a.SetRoot(ctx, "turbojet"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	in, _ := a.Inspect(ctx)
	root := in.Nodes[0]
	waitPass(t, a, 1)

	for i := range 10 {
		a.DragParameter(root.ID, "Global Diameter", float32(800+10*i))
		time.Sleep(5 * time.Millisecond)
	}
	waitPass(t, a, 2)
	time.Sleep(3 * scheduler.DefaultDebounce)

	if n := a.Scheduler().Passes(); n != 2 {
		t.Errorf("passes = %d, want 2", n)
	}
	in, _ = a.Inspect(ctx)
	if got := paramValue(t, in.Nodes[0], "Global Diameter"); got != 890 {
		t.Errorf("Global Diameter = %g, want 890", got)
	}
}

func TestE2ERapidScriptLoads(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	sources := []string{
		`(root "turbojet")`,
		`(root "nozzle" :name "Bell")`,
		`(root "turbojet") (param "Inlet/Length" 500)`,
	}
	for i := range 20 {
		result := a.LoadScript(ctx, sources[i%len(sources)])
		if len(result.Errors) > 0 {
			t.Fatalf("iteration %d: unexpected errors: %v", i, result.Errors)
		}
	}

	// The last load (i = 19) was the bell nozzle.
	in, err := a.Inspect(ctx)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(in.Nodes) != 1 || in.Nodes[0].Name != "Bell" {
		t.Errorf("unexpected tree after reloads: %+v", in.Nodes)
	}
}

// ---------------------------------------------------------------------------
// 5. Settings and projects.
// ---------------------------------------------------------------------------

func TestE2EApplyResolution(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.toml")
	a := newTestAppAt(t, cfg)

	if err := a.ApplyResolution(config.DefaultResolution); err != nil {
		t.Errorf("same resolution: %v", err)
	}
	err := a.ApplyResolution(1.5)
	if !errors.Is(err, config.ErrRestartRequired) {
		t.Fatalf("expected ErrRestartRequired, got %v", err)
	}
	if a.Config().VoxelResolution != config.DefaultResolution {
		t.Errorf("running resolution changed to %g", a.Config().VoxelResolution)
	}

	b := newTestAppAt(t, cfg)
	if got := b.Config().VoxelResolution; got != 1.5 {
		t.Errorf("restarted resolution = %g, want 1.5", got)
	}
	if err := a.ApplyResolution(-1); err == nil {
		t.Error("expected an error for a negative resolution")
	}
}

func TestE2ELoadResolutionMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")

	a := newTestAppAt(t, filepath.Join(dir, "a.toml"))
	if err := a.SetRoot(ctx, "turbojet"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	if err := a.Save(ctx, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	other := filepath.Join(dir, "b.toml")
	if err := config.Save(other, config.Config{VoxelResolution: 2}); err != nil {
		t.Fatalf("config: %v", err)
	}
	b := newTestAppAt(t, other)
	_, err := b.Load(ctx, path)
	if !errors.Is(err, project.ErrResolutionMismatch) {
		t.Fatalf("expected ErrResolutionMismatch, got %v", err)
	}
	in, _ := b.Inspect(ctx)
	if len(in.Nodes) != 5 {
		t.Errorf("tree not installed on mismatch: %d nodes", len(in.Nodes))
	}
}

func TestE2ELoadUnknownKeys(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nozzle.json")
	src := fmt.Sprintf(`{
  "version": %q,
  "voxel_resolution": 0.5,
  "root_type": "nozzle",
  "parameters": {"Pressure (Bar)": 40, "Throat Fillet": 3}
}`, project.Version)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newTestApp(t)
	unknown, err := a.Load(ctx, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !slices.Equal(unknown, []string{"Throat Fillet"}) {
		t.Errorf("unknown = %v", unknown)
	}
	in, _ := a.Inspect(ctx)
	if got := paramValue(t, in.Nodes[0], "Pressure (Bar)"); got != 40 {
		t.Errorf("Pressure = %g, want 40", got)
	}
}

func TestE2ELoadMissingFile(t *testing.T) {
	a := newTestApp(t)
	if _, err := a.Load(context.Background(), filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing project")
	}
}

// ---------------------------------------------------------------------------
// 6. Section view from a script, palette wrapping.
// ---------------------------------------------------------------------------

func TestE2EScriptSection(t *testing.T) {
	a := newTestApp(t)
	result := a.LoadScript(context.Background(), `
(root "turbojet")
(section :axis :z :offset 100)
`)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if r := a.Scheduler().Latest(); r != nil && r.Section.Active {
			if r.Section.Offset != 100 {
				t.Errorf("offset = %g, want 100", r.Section.Offset)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("section never applied")
}

func TestE2EColorPaletteWrapping(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if err := a.SetRoot(ctx, "turbojet"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	waitPass(t, a, 1)

	meshes, err := a.Parts(ctx)
	if err != nil {
		t.Fatalf("parts: %v", err)
	}
	for i, m := range meshes {
		if want := colorPalette[i%len(colorPalette)]; m.Color != want {
			t.Errorf("mesh %d color = %s, want %s", i, m.Color, want)
		}
	}
}

func TestE2EKeys(t *testing.T) {
	a := newTestApp(t)
	params, err := a.Keys("turbojet")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(params) == 0 || params[0].Key != "Global Diameter" {
		t.Fatalf("first key = %v, want Global Diameter", params)
	}
	found := false
	for _, p := range params {
		if p.Key == "Inlet/Length" {
			found = true
		}
	}
	if !found {
		t.Error("missing Inlet/Length")
	}
	if _, err := a.Keys("ramjet"); !errors.Is(err, graph.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}
