package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel/kerneltest"
	"github.com/WiredGeist/CEM/pkg/scheduler"
)

// newTestApp returns a started App on the fake kernel with its settings in
// a temporary directory.
func newTestApp(t *testing.T) *App {
	t.Helper()
	return newTestAppAt(t, filepath.Join(t.TempDir(), "config.toml"))
}

func newTestAppAt(t *testing.T, configPath string) *App {
	t.Helper()
	a := NewApp(Options{
		ConfigPath: configPath,
		Kernel:     kerneltest.New(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
	})
	a.startup(context.Background())
	t.Cleanup(a.shutdown)
	return a
}

// waitPass waits until pass n or a later one has been published.
func waitPass(t *testing.T, a *App, n uint64) *scheduler.Result {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if r := a.Scheduler().Latest(); r != nil && r.Pass >= n {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pass %d never published", n)
	return nil
}

func findNode(t *testing.T, in Inspection, name string) NodeInfo {
	t.Helper()
	for _, n := range in.Nodes {
		if n.Name == name {
			return n
		}
	}
	t.Fatalf("no node %q in inspection", name)
	return NodeInfo{}
}

func paramValue(t *testing.T, n NodeInfo, name string) float32 {
	t.Helper()
	for _, p := range n.Params {
		if p.Name == name {
			return p.Value
		}
	}
	t.Fatalf("%s has no parameter %q", n.Name, name)
	return 0
}

// TestE2ETurbojetScript exercises the full pipeline: script -> engine ->
// tree -> scheduler pass -> read-outs.
func TestE2ETurbojetScript(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	result := a.LoadScript(ctx, `
(root "turbojet")
(param "Inlet/Length" 420)
`)
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			t.Errorf("eval error (line %d): %s", e.Line, e.Message)
		}
		t.FailNow()
	}

	r := waitPass(t, a, 1)
	if len(r.Report.Failures) > 0 {
		t.Fatalf("unexpected failures: %v", r.Report.Failures)
	}
	if r.Mesh == nil || r.Mesh.IsEmpty() {
		t.Fatal("expected an assembly mesh")
	}

	in, err := a.Inspect(ctx)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(in.Nodes) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(in.Nodes))
	}
	root := in.Nodes[0]
	if root.Name != "Turbojet Assembly" || root.Depth != 0 || root.Parent != graph.NoNode {
		t.Errorf("unexpected root: %+v", root)
	}
	inlet := findNode(t, in, "Inlet")
	if inlet.Depth != 1 {
		t.Errorf("inlet depth = %d, want 1", inlet.Depth)
	}
	if got := paramValue(t, inlet, "Length"); got != 420 {
		t.Errorf("Inlet Length = %g, want 420", got)
	}
	if in.Pass < 1 {
		t.Errorf("inspection pass = %d", in.Pass)
	}
	if _, ok := in.Results["Exhaust Nozzle"]; !ok {
		t.Error("expected nozzle read-outs")
	}
}

// TestE2EEmptySource ensures an empty script yields an empty tree.
func TestE2EEmptySource(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	result := a.LoadScript(ctx, "")
	if len(result.Errors) > 0 {
		t.Errorf("unexpected errors for empty source: %v", result.Errors)
	}
	r := waitPass(t, a, 1)
	if r.Solid != nil {
		t.Errorf("expected no geometry, got %s", kerneltest.Expr(r.Solid))
	}
	in, err := a.Inspect(ctx)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(in.Nodes) != 0 {
		t.Errorf("expected 0 nodes, got %d", len(in.Nodes))
	}
}

// TestE2ESyntaxError ensures eval errors are reported and the current tree
// stays in place.
func TestE2ESyntaxError(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if err := a.SetRoot(ctx, "turbojet"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	result := a.LoadScript(ctx, `(root "nozzle"`)
	if len(result.Errors) == 0 {
		t.Fatal("expected eval errors for syntax error")
	}

	in, err := a.Inspect(ctx)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(in.Nodes) != 5 {
		t.Errorf("tree replaced by a broken script: %d nodes", len(in.Nodes))
	}
}

// TestE2ESaveLoad saves an edited tree and loads it into a fresh App.
func TestE2ESaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.toml")
	path := filepath.Join(dir, "engine.json")

	a := newTestAppAt(t, cfg)
	if err := a.SetRoot(ctx, "turbojet"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	in, err := a.Inspect(ctx)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	waitPass(t, a, 1)
	a.SetParameter(findNode(t, in, "Inlet").ID, "Length", 450)
	waitPass(t, a, 2)
	if err := a.Save(ctx, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	b := newTestAppAt(t, cfg)
	unknown, err := b.Load(ctx, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(unknown) != 0 {
		t.Errorf("unexpected unknown keys: %v", unknown)
	}
	in, err = b.Inspect(ctx)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if got := paramValue(t, findNode(t, in, "Inlet"), "Length"); got != 450 {
		t.Errorf("Inlet Length = %g, want 450", got)
	}
}

// TestE2EExport writes the assembly through the export queue.
func TestE2EExport(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if err := a.SetRoot(ctx, "turbojet"); err != nil {
		t.Fatalf("set root: %v", err)
	}

	path := filepath.Join(t.TempDir(), "engine.stl")
	if err := a.Export(ctx, path); err != nil {
		t.Fatalf("export: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	want := kerneltest.Expr(a.Scheduler().Latest().Solid) + "\n"
	if string(b) != want {
		t.Errorf("export = %q, want %q", b, want)
	}
}

// TestE2EParts meshes each built stage separately.
func TestE2EParts(t *testing.T) {
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
	expectedParts := map[string]bool{
		"Inlet":             false,
		"Axial Compressor":  false,
		"Annular Combustor": false,
		"Exhaust Nozzle":    false,
	}
	for _, m := range meshes {
		if _, ok := expectedParts[m.PartName]; !ok {
			t.Errorf("unexpected part name: %q", m.PartName)
			continue
		}
		expectedParts[m.PartName] = true

		if len(m.Vertices) == 0 {
			t.Errorf("part %q: no vertices", m.PartName)
		}
		if len(m.Indices) == 0 {
			t.Errorf("part %q: no indices", m.PartName)
		}
		if m.Color == "" {
			t.Errorf("part %q: no color assigned", m.PartName)
		}
	}
	for name, found := range expectedParts {
		if !found {
			t.Errorf("missing mesh for part %q", name)
		}
	}
}

// TestE2EExampleScripts builds every script shipped in examples/.
func TestE2EExampleScripts(t *testing.T) {
	paths, err := filepath.Glob("examples/*.zy")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no example scripts")
	}
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			a := newTestApp(t)
			result, err := a.LoadScriptFile(context.Background(), path)
			if err != nil {
				t.Fatalf("failed to read %s: %v", path, err)
			}
			if len(result.Errors) > 0 {
				for _, e := range result.Errors {
					t.Errorf("eval error (line %d): %s", e.Line, e.Message)
				}
				t.FailNow()
			}
			for _, w := range result.Warnings {
				t.Errorf("warning: %s", w.Message)
			}
			r := waitPass(t, a, 1)
			for _, f := range r.Report.Failures {
				t.Errorf("node failed: %v", f)
			}
		})
	}
}
