package graph

import (
	"fmt"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/kernel"
)

var tracer = otel.Tracer("github.com/WiredGeist/CEM/pkg/graph")

// Phase names a lifecycle phase.
type Phase string

const (
	PhasePhysics   Phase = "physics"
	PhaseSetup     Phase = "setup"
	PhasePreview   Phase = "preview"
	PhaseConstruct Phase = "construct"
)

// NodeFailure records a phase of one node that failed during a pass. The
// node contributed nothing for that pass.
type NodeFailure struct {
	Node  NodeID
	Name  string
	Kind  string
	Phase Phase
	Err   error
}

func (f NodeFailure) Error() string {
	return fmt.Sprintf("%s %q (%s): %v", f.Phase, f.Name, f.Kind, f.Err)
}

func (f NodeFailure) Unwrap() error { return f.Err }

// Report summarises one pass over the tree.
type Report struct {
	Built      []NodeID // construct phase ran and succeeded
	Reused     []NodeID // cache reused
	Suppressed []NodeID // last construct failed with the same inputs, not retried
	Disabled   []NodeID // skipped with their subtree
	Failures   []NodeFailure
}

// Build runs one pass. The physics phase runs on every enabled node first;
// then a single pre-order traversal runs setup, preview and construct on
// each enabled node. Disabled nodes are skipped with their subtrees and do
// not move the cursor.
func (t *Tree) Build(bc *buildctx.Context) Report {
	var r Report

	t.walkEnabled(nil, func(n *Node) {
		t.run(&r, n, PhasePhysics, func() { n.Strategy.Physics(bc) })
	})

	t.walkEnabled(&r.Disabled, func(n *Node) {
		n.input = bc.Handshake
		n.start = bc.Cursor
		if !t.run(&r, n, PhaseSetup, func() { n.Strategy.Setup(bc) }) {
			return
		}
		t.run(&r, n, PhasePreview, func() { n.Strategy.Preview(bc) })
		t.construct(bc, &r, n)
	})
	return r
}

func (t *Tree) walkEnabled(disabled *[]NodeID, fn func(n *Node)) {
	t.Walk(func(n *Node) bool {
		if !n.enabled {
			if disabled != nil {
				*disabled = append(*disabled, n.ID)
			}
			return false
		}
		fn(n)
		return true
	})
}

// run calls fn and converts a panic into a recorded failure.
func (t *Tree) run(r *Report, n *Node, phase Phase, fn func()) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.Failures = append(r.Failures, NodeFailure{
				Node: n.ID, Name: n.Name, Kind: n.Kind(), Phase: phase,
				Err: fmt.Errorf("panic: %v", p),
			})
			ok = false
		}
	}()
	fn()
	return true
}

func (t *Tree) signature(bc *buildctx.Context, n *Node) []float32 {
	sig := []float32{n.input}
	if in, ok := n.Strategy.(Inputs); ok {
		sig = append(sig, in.CacheInputs(bc)...)
	}
	return sig
}

func (t *Tree) construct(bc *buildctx.Context, r *Report, n *Node) {
	log := bc.Logger().With("node", n.Name, "kind", n.Kind())
	sig := t.signature(bc, n)

	switch {
	case n.cache.Matches(n.revision, sig, t.Epsilon):
		r.Reused = append(r.Reused, n.ID)
	case n.failed != nil && n.failed.revision == n.revision && slices.Equal(n.failed.inputs, sig):
		r.Suppressed = append(r.Suppressed, n.ID)
		return
	default:
		_, span := tracer.Start(bc.Context(), "construct "+n.Name)
		span.SetAttributes(
			attribute.String("cem.kind", n.Kind()),
			attribute.Float64("cem.start", float64(n.start)),
		)
		n.building = true
		sc, err := bc.Scoped(n.start, func() error { return n.Strategy.Construct(bc) })
		n.building = false
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			n.failed = &failureMark{revision: n.revision, inputs: sig}
			r.Failures = append(r.Failures, NodeFailure{
				Node: n.ID, Name: n.Name, Kind: n.Kind(), Phase: PhaseConstruct, Err: err,
			})
			log.Error("construct failed", "error", err)
			return
		}
		span.End()
		n.failed = nil
		n.cache = &CacheEntry{
			Inputs:   sig,
			Revision: n.revision,
			Start:    n.start,
			Geometry: sc.Geometry,
			Solids:   sc.Solids,
			Voids:    sc.Voids,
			Cuts:     sc.Cuts,
		}
		r.Built = append(r.Built, n.ID)
		log.Debug("constructed", "cursor", n.start, "handshake", n.input)
	}

	t.composite(bc, n.cache, n.start)
}

// composite adds a cache entry to the pass accumulators, translated along Z
// when the node starts somewhere else than when it was built.
func (t *Tree) composite(bc *buildctx.Context, c *CacheEntry, start float32) {
	k := bc.Kernel()
	geometry, cuts, solids, voids := c.Geometry, c.Cuts, c.Solids, c.Voids
	if dz := float64(start - c.Start); dz != 0 {
		shift := kernel.Vec3{Z: dz}
		geometry = k.Translate(geometry, shift)
		cuts = k.Translate(cuts, shift)
		solids = solids.Translated(shift)
		voids = voids.Translated(shift)
	}
	bc.Assembly().Add(geometry)
	bc.Cuts().Add(cuts)
	bc.Solids().Merge(solids)
	bc.Voids().Merge(voids)
}

// Results collects read-outs from enabled nodes in tree order.
func (t *Tree) Results() map[string][]Result {
	out := make(map[string][]Result)
	t.Walk(func(n *Node) bool {
		if !n.enabled {
			return false
		}
		if rep, ok := n.Strategy.(Reporter); ok {
			if res := rep.Results(); len(res) > 0 {
				out[n.Name] = res
			}
		}
		return true
	})
	return out
}
