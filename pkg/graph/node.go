package graph

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/param"
)

// NodeID indexes a node in its tree's arena.
type NodeID int

// NoNode is the parent of the root.
const NoNode NodeID = -1

// Status is the cache state of a node.
type Status int

const (
	StatusDirty    Status = iota // never built, or a parameter changed since
	StatusCached                 // cache matches the current revision
	StatusBuilding               // construct phase in progress
	StatusDisabled               // skipped together with its subtree
)

func (s Status) String() string {
	switch s {
	case StatusDirty:
		return "dirty"
	case StatusCached:
		return "cached"
	case StatusBuilding:
		return "building"
	case StatusDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// CacheEntry is the result of a node's last successful construct phase.
// The entry is valid while Revision equals the node's revision and Inputs
// match the current signature within epsilon. Geometry, batches and cuts are
// in the coordinates of the pass that built them, which started the node at
// Start; reuse at a different start translates them.
type CacheEntry struct {
	Inputs   []float32
	Revision uint64
	Start    float32
	Geometry kernel.Solid
	Solids   *kernel.Batch
	Voids    *kernel.Batch
	Cuts     kernel.Solid
}

// Matches reports whether inputs equal the cached signature within eps.
func (c *CacheEntry) Matches(revision uint64, inputs []float32, eps float32) bool {
	if c == nil || c.Revision != revision || len(c.Inputs) != len(inputs) {
		return false
	}
	for i, v := range inputs {
		if math32.Abs(v-c.Inputs[i]) > eps {
			return false
		}
	}
	return true
}

type failureMark struct {
	revision uint64
	inputs   []float32
}

// Node is one component in the tree.
type Node struct {
	ID       NodeID
	Name     string
	Parent   NodeID
	Children []NodeID
	Strategy Strategy

	enabled  bool
	params   []*param.Parameter
	revision uint64
	cache    *CacheEntry
	start    float32
	input    float32
	building bool
	failed   *failureMark
}

func newNode(id NodeID, name string, parent NodeID, s Strategy) *Node {
	n := &Node{
		ID:       id,
		Name:     name,
		Parent:   parent,
		Strategy: s,
		enabled:  true,
		revision: 1,
	}
	n.params = s.Parameters()
	for _, p := range n.params {
		onChange := p.OnChange
		p.OnChange = func(v float32) {
			if onChange != nil {
				onChange(v)
			}
			n.revision++
		}
	}
	return n
}

// Kind returns the strategy kind.
func (n *Node) Kind() string { return n.Strategy.Kind() }

// Enabled reports whether the node takes part in passes.
func (n *Node) Enabled() bool { return n.enabled }

// Parameters returns the node's own parameters in declaration order.
func (n *Node) Parameters() []*param.Parameter { return n.params }

// Parameter returns the parameter with the given name, or nil.
func (n *Node) Parameter(name string) *param.Parameter {
	for _, p := range n.params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Revision increases every time a parameter callback fires.
func (n *Node) Revision() uint64 { return n.revision }

// Invalidate forces the next pass to rebuild the node.
func (n *Node) Invalidate() { n.revision++ }

// Cache returns the cache entry, nil before the first successful build.
func (n *Node) Cache() *CacheEntry { return n.cache }

// StartPosition is the cursor value at the start of the node's last setup
// phase.
func (n *Node) StartPosition() float32 { return n.start }

// InputHandshake is the handshake value the node received in its last setup
// phase.
func (n *Node) InputHandshake() float32 { return n.input }

// Status reports the node's cache state.
func (n *Node) Status() Status {
	switch {
	case !n.enabled:
		return StatusDisabled
	case n.building:
		return StatusBuilding
	case n.cache == nil || n.cache.Revision != n.revision:
		return StatusDirty
	default:
		return StatusCached
	}
}
