// Package buildctx holds the state threaded through one pipeline pass: the
// axial cursor, the stage-to-stage handshake, the registry, the assembly
// accumulator, the deferred solid and void batches, and post-process cuts.
//
// A Context belongs to exactly one pass and one goroutine.
package buildctx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WiredGeist/CEM/pkg/kernel"
)

// GuideKind selects how a preview guide is drawn.
type GuideKind int

const (
	GuideCircle GuideKind = iota
	GuideLine
)

// Guide is a lightweight preview overlay. Guides are never cached and never
// composited into geometry.
type Guide struct {
	Kind   GuideKind
	A, B   kernel.Vec3 // circle centre in A, line from A to B
	Radius float64
	Color  string
	Label  string
}

// Context is the per-pass build token.
type Context struct {
	ctx    context.Context
	kernel kernel.Kernel
	log    *slog.Logger

	// Cursor is the running position along the build axis (Z, mm).
	Cursor float32
	// Handshake is the value the previous stage handed to the next one,
	// typically an exit radius.
	Handshake float32

	registry *Registry
	assembly *kernel.Accumulator
	cuts     *kernel.Accumulator
	solids   *kernel.Batch
	voids    *kernel.Batch
	guides   []Guide
}

// New returns a fresh context for one pass. A nil logger uses slog.Default.
func New(ctx context.Context, k kernel.Kernel, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		ctx:      ctx,
		kernel:   k,
		log:      log,
		registry: NewRegistry(),
		assembly: kernel.NewAccumulator(k),
		cuts:     kernel.NewAccumulator(k),
		solids:   &kernel.Batch{},
		voids:    &kernel.Batch{},
	}
}

// Context returns the pass's cancellation context.
func (c *Context) Context() context.Context { return c.ctx }

// Kernel returns the geometry kernel.
func (c *Context) Kernel() kernel.Kernel { return c.kernel }

// Logger returns the pass logger.
func (c *Context) Logger() *slog.Logger { return c.log }

// Registry returns the pass registry.
func (c *Context) Registry() *Registry { return c.registry }

// Assembly returns the current assembly accumulator. Inside Scoped this is
// the node's scratch accumulator.
func (c *Context) Assembly() *kernel.Accumulator { return c.assembly }

// Solids returns the current deferred solids batch.
func (c *Context) Solids() *kernel.Batch { return c.solids }

// Voids returns the current deferred voids batch.
func (c *Context) Voids() *kernel.Batch { return c.voids }

// Cuts returns the post-process cut accumulator.
func (c *Context) Cuts() *kernel.Accumulator { return c.cuts }

// Advance moves the cursor by extent.
func (c *Context) Advance(extent float32) { c.Cursor += extent }

// AddGuide records a preview guide.
func (c *Context) AddGuide(g Guide) { c.guides = append(c.guides, g) }

// Guides returns the guides recorded so far.
func (c *Context) Guides() []Guide { return c.guides }

// Scratch is what a scoped construction produced, in the coordinates the
// strategy used.
type Scratch struct {
	Geometry kernel.Solid
	Solids   *kernel.Batch
	Voids    *kernel.Batch
	Cuts     kernel.Solid
}

// Scoped runs fn with the assembly, batches and cuts redirected to empty
// scratch accumulators and the cursor set to start. The real accumulators,
// cursor and handshake are restored on every exit path, including panics,
// which are returned as errors.
func (c *Context) Scoped(start float32, fn func() error) (sc Scratch, err error) {
	assembly, cuts, solids, voids := c.assembly, c.cuts, c.solids, c.voids
	cursor, handshake := c.Cursor, c.Handshake

	c.assembly = kernel.NewAccumulator(c.kernel)
	c.cuts = kernel.NewAccumulator(c.kernel)
	c.solids = &kernel.Batch{}
	c.voids = &kernel.Batch{}
	c.Cursor = start

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil {
			sc = Scratch{
				Geometry: c.assembly.Solid(),
				Solids:   c.solids,
				Voids:    c.voids,
				Cuts:     c.cuts.Solid(),
			}
		}
		c.assembly, c.cuts, c.solids, c.voids = assembly, cuts, solids, voids
		c.Cursor, c.Handshake = cursor, handshake
	}()

	err = fn()
	return sc, err
}
