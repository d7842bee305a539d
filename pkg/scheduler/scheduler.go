// Package scheduler runs the geometry goroutine. It owns the application
// state, applies the edits queued from the UI side, and runs at most one
// pipeline pass at a time. Wake-ups that arrive while a pass runs are folded
// into a single follow-up pass.
//
// Everything except Run is safe to call from any goroutine. Parameter
// edits are messages; nothing outside Run touches the tree once it starts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/config"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/param"
	"github.com/WiredGeist/CEM/pkg/tessellate"
)

// DefaultDebounce is the quiet period for continuous controls.
const DefaultDebounce = 100 * time.Millisecond

var (
	// ErrStopped is returned for requests still queued when Run returns.
	ErrStopped = errors.New("scheduler stopped")

	// ErrNothingToExport is returned when an export is served by a pass
	// that produced no geometry.
	ErrNothingToExport = errors.New("nothing to export")

	// ErrRunning is returned by a second concurrent Run.
	ErrRunning = errors.New("scheduler already running")
)

// ApplicationState is what the geometry goroutine owns: the tree and the
// node selected in the UI.
type ApplicationState struct {
	Tree     *graph.Tree
	Selected graph.NodeID
}

// NewState returns a state for t with nothing selected.
func NewState(t *graph.Tree) *ApplicationState {
	if t == nil {
		t = graph.New()
	}
	return &ApplicationState{Tree: t, Selected: graph.NoNode}
}

// Command is a structural edit run on the geometry goroutine before the
// next pass.
type Command func(s *ApplicationState) error

// Renderer receives every successful pass result on the geometry
// goroutine. It must not block.
type Renderer interface {
	Render(r *Result)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(r *Result)

// Render calls f(r).
func (f RendererFunc) Render(r *Result) { f(r) }

// Result is the published outcome of one pass.
type Result struct {
	Pass uint64
	ID   uuid.UUID

	// Solid is the composited assembly, View the same with the section
	// cutter applied. Mesh is View at the configured resolution.
	Solid kernel.Solid
	View  kernel.Solid
	Mesh  *kernel.Mesh

	Guides   []buildctx.Guide
	Results  map[string][]graph.Result
	Report   graph.Report
	Section  tessellate.Section
	Duration time.Duration
}

// Options configures a Scheduler.
type Options struct {
	// Debounce is the quiet period for SetContinuous and SetSection.
	Debounce time.Duration
	// Epsilon is the cache signature tolerance; 0 keeps the tree's.
	Epsilon float32
	// Resolution is the voxel size in mm used for meshing and export.
	Resolution float64

	Kernel     kernel.Kernel
	Renderer   Renderer
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
}

type request struct {
	cmd  Command
	done chan error
}

// edit is a parameter message stamped with the tree generation it was
// addressed to.
type edit struct {
	param.Message
	gen uint64
}

// treeKey identifies the tree node ids refer to.
type treeKey struct {
	tree  *graph.Tree
	epoch uint64
}

func keyOf(t *graph.Tree) treeKey {
	if t == nil {
		return treeKey{}
	}
	return treeKey{tree: t, epoch: t.Epoch()}
}

type exportRequest struct {
	path string
	done chan error
}

// work is everything taken from the queues for one wake-up. Reads alone do
// not start a pass.
type work struct {
	commands []request
	reads    []request
	params   []edit
	exports  []exportRequest
	section  *tessellate.Section
	rebuild  bool
}

func (w work) empty() bool {
	return !w.rebuild && len(w.commands) == 0 && len(w.params) == 0 &&
		len(w.exports) == 0 && w.section == nil
}

// Scheduler is the rebuild loop.
type Scheduler struct {
	opts    Options
	state   *ApplicationState
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *metrics

	wake      chan struct{}
	debounced func(func())
	running   atomic.Bool

	mu         sync.Mutex
	queued     work
	continuous []edit
	section    *tessellate.Section

	// gen advances whenever the state's tree is replaced or re-rooted.
	// Edits carry the generation they were made against and are dropped
	// once it is stale, since node ids restart in a new tree.
	gen  atomic.Uint64
	tree treeKey

	current tessellate.Section
	latest  atomic.Pointer[Result]
	passes  atomic.Uint64
}

// New returns a scheduler that owns state. Options.Kernel is required.
func New(state *ApplicationState, opts Options) *Scheduler {
	if state == nil {
		state = NewState(nil)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if !(opts.Resolution > 0) || math.IsInf(opts.Resolution, 1) {
		opts.Resolution = config.DefaultResolution
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/WiredGeist/CEM/pkg/scheduler")
	}
	return &Scheduler{
		opts:      opts,
		state:     state,
		log:       opts.Logger,
		tracer:    opts.Tracer,
		metrics:   newMetrics(opts.Registerer),
		wake:      make(chan struct{}, 1),
		debounced: debounce.New(opts.Debounce),
		tree:      keyOf(state.Tree),
	}
}

// signal wakes the loop. A wake-up already pending absorbs this one.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
		s.metrics.coalesced.Inc()
	}
}

// RequestRebuild schedules a pass.
func (s *Scheduler) RequestRebuild() {
	s.mu.Lock()
	s.queued.rebuild = true
	s.mu.Unlock()
	s.signal()
}

// SetParameter queues a parameter edit for the next pass. It supersedes a
// continuous edit of the same parameter still waiting out its debounce.
func (s *Scheduler) SetParameter(m param.Message) {
	e := edit{Message: m, gen: s.gen.Load()}
	s.mu.Lock()
	s.continuous = slices.DeleteFunc(s.continuous, func(c edit) bool { return c.Key() == m.Key() })
	s.queued.params = append(s.queued.params, e)
	s.mu.Unlock()
	s.signal()
}

// SetContinuous records an edit from a continuous control such as a drag
// slider. Only the latest value per parameter is kept, and it reaches the
// geometry goroutine once the control has been quiet for the debounce
// period.
func (s *Scheduler) SetContinuous(m param.Message) {
	e := edit{Message: m, gen: s.gen.Load()}
	s.mu.Lock()
	if i := slices.IndexFunc(s.continuous, func(c edit) bool { return c.Key() == m.Key() }); i >= 0 {
		s.continuous[i] = e
	} else {
		s.continuous = append(s.continuous, e)
	}
	s.mu.Unlock()
	s.debounced(s.flushContinuous)
}

// SetSection updates the section view, debounced like SetContinuous.
func (s *Scheduler) SetSection(sec tessellate.Section) {
	s.mu.Lock()
	s.section = &sec
	s.mu.Unlock()
	s.debounced(s.flushContinuous)
}

func (s *Scheduler) flushContinuous() {
	s.mu.Lock()
	if len(s.continuous) == 0 && s.section == nil {
		s.mu.Unlock()
		return
	}
	s.queued.params = append(s.queued.params, s.continuous...)
	s.continuous = nil
	if s.section != nil {
		s.queued.section = s.section
		s.section = nil
	}
	s.mu.Unlock()
	s.signal()
}

// Do queues cmd for the geometry goroutine. The returned channel receives
// the command's error once it has run, or ErrStopped.
func (s *Scheduler) Do(cmd Command) <-chan error {
	done := make(chan error, 1)
	s.mu.Lock()
	s.queued.commands = append(s.queued.commands, request{cmd: cmd, done: done})
	s.mu.Unlock()
	s.signal()
	return done
}

// Call runs cmd on the geometry goroutine and waits for it.
func (s *Scheduler) Call(ctx context.Context, cmd Command) error {
	select {
	case err := <-s.Do(cmd):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read runs fn on the geometry goroutine and waits for it. Unlike Call it
// does not schedule a pass, so fn must not change anything a pass
// depends on. Changing the selection is fine.
func (s *Scheduler) Read(ctx context.Context, fn func(st *ApplicationState)) error {
	done := make(chan error, 1)
	s.mu.Lock()
	s.queued.reads = append(s.queued.reads, request{
		cmd:  func(st *ApplicationState) error { fn(st); return nil },
		done: done,
	})
	s.mu.Unlock()
	s.signal()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Export asks the next pass to write its assembly to path. The format
// follows the extension. The channel receives the outcome exactly once.
func (s *Scheduler) Export(path string) <-chan error {
	done := make(chan error, 1)
	s.mu.Lock()
	s.queued.exports = append(s.queued.exports, exportRequest{path: path, done: done})
	s.mu.Unlock()
	s.signal()
	return done
}

// Latest returns the most recent successful result, or nil.
func (s *Scheduler) Latest() *Result { return s.latest.Load() }

// Passes returns how many passes have run, failed ones included.
func (s *Scheduler) Passes() uint64 { return s.passes.Load() }

// Run is the geometry loop. It returns when ctx is done; requests still
// queued then fail with ErrStopped.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	s.log.Info("scheduler started", "debounce", s.opts.Debounce, "resolution", s.opts.Resolution)
	for {
		select {
		case <-ctx.Done():
		case <-s.wake:
		}
		if err := ctx.Err(); err != nil {
			s.stop()
			s.log.Info("scheduler stopped", "passes", s.Passes())
			return err
		}
		w := s.take()
		if w.empty() {
			s.serveReads(w.reads)
			continue
		}
		s.apply(w)
		s.serveReads(w.reads)
		s.pass(ctx, w)
	}
}

func (s *Scheduler) take() work {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.queued
	s.queued = work{}
	return w
}

func (s *Scheduler) stop() {
	w := s.take()
	for _, r := range append(w.commands, w.reads...) {
		r.done <- ErrStopped
	}
	for _, e := range w.exports {
		e.done <- fmt.Errorf("export %s: %w", e.path, ErrStopped)
	}
}

// apply runs queued commands, then parameter edits in arrival order. Edits
// made against a tree that has since been replaced are dropped.
func (s *Scheduler) apply(w work) {
	for _, r := range w.commands {
		err := s.run(r.cmd)
		s.track()
		r.done <- err
	}
	gen := s.gen.Load()
	for _, e := range w.params {
		if e.gen != gen {
			s.log.Debug("stale parameter edit dropped", "node", e.Node, "param", e.Name)
			continue
		}
		if err := s.state.Tree.Apply(e.Message); err != nil {
			s.log.Warn("parameter edit dropped", "node", e.Node, "param", e.Name, "error", err)
		}
	}
	s.metrics.pendingEdits.Set(float64(len(w.params)))
	if w.section != nil {
		s.current = *w.section
	}
}

// serveReads answers queued reads. It runs after apply so a read sees every
// edit queued before it.
func (s *Scheduler) serveReads(reads []request) {
	for _, r := range reads {
		r.done <- s.run(r.cmd)
	}
}

// track advances the generation when a command replaced or re-rooted the
// tree, and discards continuous edits still pending for the old one.
func (s *Scheduler) track() {
	key := keyOf(s.state.Tree)
	if key == s.tree {
		return
	}
	s.tree = key
	gen := s.gen.Add(1)
	s.mu.Lock()
	s.continuous = slices.DeleteFunc(s.continuous, func(c edit) bool { return c.gen != gen })
	s.mu.Unlock()
}

func (s *Scheduler) run(cmd Command) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command panicked: %v", p)
		}
	}()
	return cmd(s.state)
}

func (s *Scheduler) pass(ctx context.Context, w work) {
	n := s.passes.Load() + 1
	id := uuid.New()
	log := s.log.With("pass", n, "pass_id", id.String())
	ctx, span := s.tracer.Start(ctx, "scheduler.pass", trace.WithAttributes(
		attribute.Int64("cem.pass", int64(n)),
		attribute.String("cem.pass_id", id.String()),
		attribute.Int("cem.edits", len(w.params)),
	))
	defer span.End()

	start := time.Now()
	res, err := s.build(ctx, log)
	d := time.Since(start)
	s.passes.Add(1)
	s.metrics.passes.Inc()
	s.metrics.passDuration.Observe(d.Seconds())

	if err != nil {
		s.metrics.passFailures.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "pass failed")
		log.Error("pass failed, keeping previous result", "error", err, "duration", d)
		s.serveExports(log, w.exports, nil, err)
		return
	}

	res.Pass, res.ID, res.Duration = n, id, d
	s.metrics.observe(res.Report)
	span.SetAttributes(
		attribute.Int("cem.built", len(res.Report.Built)),
		attribute.Int("cem.reused", len(res.Report.Reused)),
		attribute.Int("cem.failed", len(res.Report.Failures)),
	)
	s.latest.Store(res)
	log.Info("pass complete",
		"built", len(res.Report.Built),
		"reused", len(res.Report.Reused),
		"failed", len(res.Report.Failures),
		"duration", d)

	if s.opts.Renderer != nil {
		s.opts.Renderer.Render(res)
	}
	s.serveExports(log, w.exports, res, nil)
}

// build runs the tree walk and the end-of-pass compositing. A panic here
// fails the whole pass.
func (s *Scheduler) build(ctx context.Context, log *slog.Logger) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("pass panicked: %v", p)
		}
	}()

	t := s.state.Tree
	if s.opts.Epsilon > 0 {
		t.Epsilon = s.opts.Epsilon
	}
	k := s.opts.Kernel
	bc := buildctx.New(ctx, k, log)
	report := t.Build(bc)

	solid := tessellate.Composite(bc, tessellate.Section{})
	view := s.current.Cut(k, solid)
	res = &Result{
		Solid:   solid,
		View:    view,
		Guides:  bc.Guides(),
		Results: t.Results(),
		Report:  report,
		Section: s.current,
	}
	if view != nil {
		res.Mesh, err = tessellate.Mesh(k, view, s.opts.Resolution, "assembly")
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Scheduler) serveExports(log *slog.Logger, reqs []exportRequest, res *Result, passErr error) {
	for _, e := range reqs {
		err := passErr
		switch {
		case err != nil:
		case res.Solid == nil:
			err = ErrNothingToExport
		default:
			err = s.opts.Kernel.Export(res.Solid, e.path, tessellate.Cells(res.Solid, s.opts.Resolution))
		}
		if err != nil {
			err = fmt.Errorf("export %s: %w", e.path, err)
			s.metrics.exports.WithLabelValues("error").Inc()
			log.Error("export failed", "path", e.path, "error", err)
		} else {
			s.metrics.exports.WithLabelValues("ok").Inc()
			log.Info("exported", "path", e.path)
		}
		e.done <- err
	}
}
