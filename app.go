package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/WiredGeist/CEM/pkg/config"
	"github.com/WiredGeist/CEM/pkg/engine"
	"github.com/WiredGeist/CEM/pkg/generative"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/kernel/sdfx"
	"github.com/WiredGeist/CEM/pkg/param"
	"github.com/WiredGeist/CEM/pkg/project"
	"github.com/WiredGeist/CEM/pkg/propulsion"
	"github.com/WiredGeist/CEM/pkg/scheduler"
	"github.com/WiredGeist/CEM/pkg/tessellate"
	"github.com/WiredGeist/CEM/pkg/watch"
)

// colorPalette is a default palette used to assign distinct colors to parts.
var colorPalette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// MeshData is the JSON-serializable mesh format sent to the frontend.
type MeshData struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	PartName string    `json:"partName"`
	Color    string    `json:"color"`
}

// EvalErrorData is a JSON-serializable script error or warning.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// ScriptResult is what loading a scene script reports back.
type ScriptResult struct {
	Errors   []EvalErrorData `json:"errors"`
	Warnings []EvalErrorData `json:"warnings"`
}

// ParamInfo describes one parameter for the inspector.
type ParamInfo struct {
	Key   string  `json:"key"`
	Name  string  `json:"name"`
	Value float32 `json:"value"`
	Min   float32 `json:"min"`
	Max   float32 `json:"max"`
}

// NodeInfo describes one node for the inspector.
type NodeInfo struct {
	ID       graph.NodeID `json:"id"`
	Parent   graph.NodeID `json:"parent"`
	Depth    int          `json:"depth"`
	Name     string       `json:"name"`
	Kind     string       `json:"kind"`
	Enabled  bool         `json:"enabled"`
	Status   string       `json:"status"`
	Selected bool         `json:"selected"`
	Params   []ParamInfo  `json:"params"`
}

// Inspection is a snapshot of the tree as the geometry goroutine sees it.
type Inspection struct {
	Nodes    []NodeInfo                `json:"nodes"`
	Selected graph.NodeID              `json:"selected"`
	Pass     uint64                    `json:"pass"`
	Results  map[string][]graph.Result `json:"results"`
}

// Options configures an App.
type Options struct {
	// ConfigPath is the settings file; empty selects config.Path().
	ConfigPath string
	// Kernel defaults to the sdfx kernel.
	Kernel     kernel.Kernel
	Renderer   scheduler.Renderer
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// App is the UI-side API. Every method may be called from any goroutine;
// tree access is forwarded to the geometry goroutine.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan error

	log     *slog.Logger
	catalog *graph.Catalog
	engine  *engine.Engine
	kernel  kernel.Kernel
	sched   *scheduler.Scheduler

	cfgPath string
	cfg     config.Config
}

// NewCatalog returns a catalog with every built-in component.
func NewCatalog() *graph.Catalog {
	c := graph.NewCatalog()
	propulsion.Register(c)
	generative.Register(c)
	return c
}

// NewApp reads the persisted configuration once and wires the engine and
// the scheduler. Call startup before using it.
func NewApp(opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			log.Warn("no config location, using defaults", "error", err)
		}
	}
	cfg := config.Default()
	if path != "" {
		cfg = config.Load(path, log)
	}
	k := opts.Kernel
	if k == nil {
		k = sdfx.New()
	}
	catalog := NewCatalog()
	return &App{
		log:     log,
		catalog: catalog,
		engine:  engine.NewEngine(catalog),
		kernel:  k,
		sched: scheduler.New(scheduler.NewState(nil), scheduler.Options{
			Resolution: float64(cfg.VoxelResolution),
			Kernel:     k,
			Renderer:   opts.Renderer,
			Logger:     log,
			Registerer: opts.Registerer,
		}),
		cfgPath: path,
		cfg:     cfg,
	}
}

// startup starts the geometry goroutine. It stops when ctx is done or
// shutdown is called.
func (a *App) startup(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan error, 1)
	go func() { a.done <- a.sched.Run(a.ctx) }()
}

// shutdown stops the geometry goroutine and waits for it.
func (a *App) shutdown() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	if err := <-a.done; err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("scheduler exited", "error", err)
	}
	a.cancel = nil
}

// Catalog returns the component catalog.
func (a *App) Catalog() *graph.Catalog { return a.catalog }

// Config returns the configuration read at startup.
func (a *App) Config() config.Config { return a.cfg }

// Scheduler returns the geometry loop.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// ---------------------------------------------------------------------------
// Structural edits
// ---------------------------------------------------------------------------

// SetRoot replaces the tree with a new root of the given kind, together with
// the stages it declares.
func (a *App) SetRoot(ctx context.Context, kind string) error {
	s, err := a.catalog.New(kind)
	if err != nil {
		return err
	}
	title := a.catalog.Title(kind)
	return a.sched.Call(ctx, func(st *scheduler.ApplicationState) error {
		st.Tree.SetRoot(title, s)
		st.Selected = graph.NoNode
		return nil
	})
}

// AddChild appends a component of the given kind under parent. An empty
// name selects the catalog title.
func (a *App) AddChild(ctx context.Context, parent graph.NodeID, kind, name string) (graph.NodeID, error) {
	s, err := a.catalog.New(kind)
	if err != nil {
		return graph.NoNode, err
	}
	if name == "" {
		name = a.catalog.Title(kind)
	}
	id := graph.NoNode
	err = a.sched.Call(ctx, func(st *scheduler.ApplicationState) error {
		n, err := st.Tree.AddChild(parent, name, s)
		if err != nil {
			return err
		}
		id = n.ID
		return nil
	})
	return id, err
}

// Remove deletes a node and its subtree. The selection is cleared when it
// pointed into the removed subtree.
func (a *App) Remove(ctx context.Context, id graph.NodeID) error {
	return a.sched.Call(ctx, func(st *scheduler.ApplicationState) error {
		if err := st.Tree.Remove(id); err != nil {
			return err
		}
		if st.Tree.Node(st.Selected) == nil {
			st.Selected = graph.NoNode
		}
		return nil
	})
}

// Select marks a node as selected in the UI. graph.NoNode clears the
// selection.
func (a *App) Select(ctx context.Context, id graph.NodeID) error {
	var err error
	rerr := a.sched.Read(ctx, func(st *scheduler.ApplicationState) {
		if id != graph.NoNode && st.Tree.Node(id) == nil {
			err = fmt.Errorf("select: %w: %d", graph.ErrNoSuchNode, id)
			return
		}
		st.Selected = id
	})
	return errors.Join(rerr, err)
}

// SetEnabled toggles a node. Disabled nodes are skipped with their subtree.
func (a *App) SetEnabled(ctx context.Context, id graph.NodeID, enabled bool) error {
	return a.sched.Call(ctx, func(st *scheduler.ApplicationState) error {
		return st.Tree.SetEnabled(id, enabled)
	})
}

// ---------------------------------------------------------------------------
// Parameters and view
// ---------------------------------------------------------------------------

// SetParameter applies a discrete edit on the next pass.
func (a *App) SetParameter(node graph.NodeID, name string, v float32) {
	a.sched.SetParameter(param.Message{Node: int(node), Name: name, Value: v})
}

// DragParameter records a slider drag; only the value the slider settles on
// is built.
func (a *App) DragParameter(node graph.NodeID, name string, v float32) {
	a.sched.SetContinuous(param.Message{Node: int(node), Name: name, Value: v})
}

// SetSection changes the section view.
func (a *App) SetSection(sec tessellate.Section) {
	a.sched.SetSection(sec)
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// Save writes the current tree to path. The extension picks JSON or YAML.
func (a *App) Save(ctx context.Context, path string) error {
	var err error
	rerr := a.sched.Read(ctx, func(st *scheduler.ApplicationState) {
		err = project.Save(path, st.Tree, a.cfg.VoxelResolution)
	})
	return errors.Join(rerr, err)
}

// Load replaces the tree with the project at path and returns the saved
// keys the new tree does not have. A resolution mismatch still installs the
// tree and is returned as an error wrapping project.ErrResolutionMismatch.
func (a *App) Load(ctx context.Context, path string) ([]string, error) {
	l, err := project.Load(path, a.catalog, a.cfg.VoxelResolution)
	if l == nil {
		return nil, err
	}
	if len(l.Unknown) > 0 {
		a.log.Warn("project has parameters the tree does not", "path", path, "keys", l.Unknown)
	}
	if cerr := a.install(ctx, l.Tree); cerr != nil {
		return nil, cerr
	}
	return l.Unknown, err
}

func (a *App) install(ctx context.Context, t *graph.Tree) error {
	return a.sched.Call(ctx, func(st *scheduler.ApplicationState) error {
		st.Tree = t
		st.Selected = graph.NoNode
		return nil
	})
}

// ApplyResolution persists a new voxel resolution. The running pipeline
// keeps the old one; a changed value returns config.ErrRestartRequired.
func (a *App) ApplyResolution(v float32) error {
	if a.cfgPath == "" {
		return errors.New("no config location")
	}
	return config.SetResolution(a.cfgPath, a.cfg, v)
}

// Export writes the next pass's assembly to path, STL or 3MF by extension.
func (a *App) Export(ctx context.Context, path string) error {
	select {
	case err := <-a.sched.Export(path):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

// LoadScript evaluates a scene script and, when it succeeds, replaces the
// tree with the scene it built. Script errors are returned as data; the
// current tree stays in place.
func (a *App) LoadScript(ctx context.Context, source string) ScriptResult {
	result := ScriptResult{
		Errors:   []EvalErrorData{},
		Warnings: []EvalErrorData{},
	}

	sc, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		a.log.Error("script evaluation failed", "error", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{Line: e.Line, Col: e.Col, Message: e.Message})
		}
		return result
	}
	for _, w := range sc.Warnings {
		result.Warnings = append(result.Warnings, EvalErrorData{Line: w.Line, Col: w.Col, Message: w.Message})
	}

	if err := a.install(ctx, sc.Tree); err != nil {
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}
	if sc.Section != nil {
		a.sched.SetSection(*sc.Section)
	}
	return result
}

// LoadScriptFile reads and loads the script at path.
func (a *App) LoadScriptFile(ctx context.Context, path string) (ScriptResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScriptResult{}, fmt.Errorf("load script: %w", err)
	}
	return a.LoadScript(ctx, string(b)), nil
}

// WatchScript loads the script at path and reloads it whenever it changes,
// until ctx is done.
func (a *App) WatchScript(ctx context.Context, path string) error {
	res, err := a.LoadScriptFile(ctx, path)
	if err != nil {
		return err
	}
	a.logScript(path, res)

	w, err := watch.New(path, 0, func(b []byte) {
		a.logScript(path, a.LoadScript(ctx, string(b)))
	}, a.log)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func (a *App) logScript(path string, res ScriptResult) {
	for _, e := range res.Errors {
		a.log.Error("script error", "path", path, "line", e.Line, "message", e.Message)
	}
	for _, w := range res.Warnings {
		a.log.Warn("script warning", "path", path, "line", w.Line, "message", w.Message)
	}
}

// ---------------------------------------------------------------------------
// Read-outs
// ---------------------------------------------------------------------------

// Inspect returns the tree with every parameter, the selection, and the
// read-outs of the latest pass.
func (a *App) Inspect(ctx context.Context) (Inspection, error) {
	var in Inspection
	err := a.sched.Read(ctx, func(st *scheduler.ApplicationState) {
		t := st.Tree
		in.Selected = st.Selected
		depth := map[graph.NodeID]int{}
		t.Walk(func(n *graph.Node) bool {
			if n.Parent != graph.NoNode {
				depth[n.ID] = depth[n.Parent] + 1
			}
			info := NodeInfo{
				ID:       n.ID,
				Parent:   n.Parent,
				Depth:    depth[n.ID],
				Name:     n.Name,
				Kind:     n.Kind(),
				Enabled:  n.Enabled(),
				Status:   n.Status().String(),
				Selected: n.ID == st.Selected,
				Params:   []ParamInfo{},
			}
			for _, p := range n.Parameters() {
				info.Params = append(info.Params, ParamInfo{
					Key:   t.Key(n, p.Name),
					Name:  p.Name,
					Value: p.Value,
					Min:   p.Min,
					Max:   p.Max,
				})
			}
			in.Nodes = append(in.Nodes, info)
			return true
		})
	})
	if r := a.sched.Latest(); r != nil {
		in.Pass = r.Pass
		in.Results = r.Results
	}
	return in, err
}

// Parts meshes every built node separately, for part-by-part display.
func (a *App) Parts(ctx context.Context) ([]MeshData, error) {
	var meshes []*kernel.Mesh
	var err error
	rerr := a.sched.Read(ctx, func(st *scheduler.ApplicationState) {
		meshes, err = tessellate.Parts(st.Tree, a.kernel, float64(a.cfg.VoxelResolution))
	})
	if err = errors.Join(rerr, err); err != nil {
		return nil, err
	}

	out := make([]MeshData, 0, len(meshes))
	for i, m := range meshes {
		out = append(out, MeshData{
			Vertices: m.Vertices,
			Normals:  m.Normals,
			Indices:  m.Indices,
			PartName: m.Label,
			Color:    colorPalette[i%len(colorPalette)],
		})
	}
	return out, nil
}

// Keys returns the flattened parameter keys of kind's default tree, in
// tree order.
func (a *App) Keys(kind string) ([]ParamInfo, error) {
	s, err := a.catalog.New(kind)
	if err != nil {
		return nil, err
	}
	t := graph.New()
	t.SetRoot(a.catalog.Title(kind), s)
	var out []ParamInfo
	for _, e := range t.Parameters() {
		out = append(out, ParamInfo{
			Key:   e.Key,
			Name:  e.Param.Name,
			Value: e.Param.Value,
			Min:   e.Param.Min,
			Max:   e.Param.Max,
		})
	}
	return out, nil
}
