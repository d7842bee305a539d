package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/WiredGeist/CEM/pkg/param"
)

// DefaultEpsilon is the handshake tolerance below which an upstream change
// does not invalidate a node.
const DefaultEpsilon = 0.1

// Errors returned by tree operations.
var (
	ErrNoSuchNode      = errors.New("no such node")
	ErrNoSuchParameter = errors.New("no such parameter")
)

// Tree is an ordered, rooted tree of nodes stored in an arena. Removed
// slots stay nil so ids are not reused until SetRoot starts a new epoch. A
// Tree is owned by the geometry goroutine.
type Tree struct {
	nodes []*Node
	root  NodeID
	epoch uint64

	// Epsilon is the cache signature tolerance.
	Epsilon float32
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{root: NoNode, Epsilon: DefaultEpsilon}
}

// SetRoot discards the current tree and installs s as its root, together
// with any children s declares. Ids restart at zero and the epoch advances.
func (t *Tree) SetRoot(name string, s Strategy) *Node {
	t.nodes = nil
	t.root = NoNode
	t.epoch++
	n := t.add(NoNode, name, s)
	t.root = n.ID
	return n
}

// AddChild appends s (and its declared children) under parent.
func (t *Tree) AddChild(parent NodeID, name string, s Strategy) (*Node, error) {
	p := t.Node(parent)
	if p == nil {
		return nil, fmt.Errorf("add child %q: %w: %d", name, ErrNoSuchNode, parent)
	}
	return t.add(p.ID, name, s), nil
}

func (t *Tree) add(parent NodeID, name string, s Strategy) *Node {
	if name == "" {
		name = s.Kind()
	}
	n := newNode(NodeID(len(t.nodes)), name, parent, s)
	t.nodes = append(t.nodes, n)
	if parent != NoNode {
		p := t.nodes[parent]
		p.Children = append(p.Children, n.ID)
	}
	if d, ok := s.(Declarer); ok {
		for _, c := range d.Declare() {
			t.add(n.ID, c.Name, c.Strategy)
		}
	}
	return n
}

// Remove deletes a node and its subtree. Removing the root empties the tree.
func (t *Tree) Remove(id NodeID) error {
	n := t.Node(id)
	if n == nil {
		return fmt.Errorf("remove: %w: %d", ErrNoSuchNode, id)
	}
	if n.Parent != NoNode {
		p := t.nodes[n.Parent]
		p.Children = slices.DeleteFunc(p.Children, func(c NodeID) bool { return c == id })
	}
	t.walk(n, func(d *Node) bool {
		t.nodes[d.ID] = nil
		return true
	})
	if id == t.root {
		t.root = NoNode
	}
	return nil
}

// Epoch counts SetRoot calls. Node ids are only meaningful within one
// epoch.
func (t *Tree) Epoch() uint64 { return t.epoch }

// Root returns the root node, nil for an empty tree.
func (t *Tree) Root() *Node { return t.Node(t.root) }

// Node returns the node with the given id, or nil.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Len returns the number of live nodes.
func (t *Tree) Len() int {
	return lo.CountBy(t.nodes, func(n *Node) bool { return n != nil })
}

// Children returns the children of id in insertion order.
func (t *Tree) Children(id NodeID) []*Node {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	return lo.Map(n.Children, func(c NodeID, _ int) *Node { return t.nodes[c] })
}

// Walk visits nodes in pre-order, parent before children and siblings in
// insertion order. Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(n *Node) bool) {
	if r := t.Root(); r != nil {
		t.walk(r, fn)
	}
}

func (t *Tree) walk(n *Node, fn func(n *Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		t.walk(t.nodes[c], fn)
	}
}

// Nodes returns every node in pre-order.
func (t *Tree) Nodes() []*Node {
	var out []*Node
	t.Walk(func(n *Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Lookup returns the first node in pre-order with the given name, or nil.
func (t *Tree) Lookup(name string) *Node {
	var found *Node
	t.Walk(func(n *Node) bool {
		if found == nil && n.Name == name {
			found = n
		}
		return found == nil
	})
	return found
}

// SetEnabled toggles a node. Disabling keeps the cache; re-enabling does not
// invalidate it.
func (t *Tree) SetEnabled(id NodeID, enabled bool) error {
	n := t.Node(id)
	if n == nil {
		return fmt.Errorf("set enabled: %w: %d", ErrNoSuchNode, id)
	}
	n.enabled = enabled
	return nil
}

// ----------------------------------------------------------------------------
// Parameters

// Entry is one flattened parameter.
type Entry struct {
	Key   string
	Node  *Node
	Param *param.Parameter
}

// KeySeparator joins node names and the parameter name in flattened keys.
const KeySeparator = "/"

// Key returns the flattened key of a parameter of n. Root parameters use
// the bare name; descendants are prefixed with the node names below the
// root.
func (t *Tree) Key(n *Node, name string) string {
	var path []string
	for cur := n; cur != nil && cur.ID != t.root; cur = t.Node(cur.Parent) {
		path = append(path, cur.Name)
	}
	slices.Reverse(path)
	return strings.Join(append(path, name), KeySeparator)
}

// Parameters returns every parameter of the tree in pre-order, each node's
// parameters in declaration order.
func (t *Tree) Parameters() []Entry {
	var out []Entry
	t.Walk(func(n *Node) bool {
		for _, p := range n.params {
			out = append(out, Entry{Key: t.Key(n, p.Name), Node: n, Param: p})
		}
		return true
	})
	return out
}

// SetParameter sets a parameter by flattened key through its callback.
func (t *Tree) SetParameter(key string, v float32) error {
	for _, e := range t.Parameters() {
		if e.Key == key {
			e.Param.Set(v)
			return nil
		}
	}
	return fmt.Errorf("set %q: %w", key, ErrNoSuchParameter)
}

// Apply delivers a parameter message.
func (t *Tree) Apply(m param.Message) error {
	n := t.Node(NodeID(m.Node))
	if n == nil {
		return fmt.Errorf("apply %q: %w: %d", m.Name, ErrNoSuchNode, m.Node)
	}
	p := n.Parameter(m.Name)
	if p == nil {
		return fmt.Errorf("apply %q on %s: %w", m.Name, n.Name, ErrNoSuchParameter)
	}
	p.Set(m.Value)
	return nil
}

// EnabledKey is the reserved parameter name under which a node's enabled
// switch is saved. It comes first among the node's values and is 1 or 0.
const EnabledKey = "[enabled]"

// ParameterState returns the flattened saved state in tree order: for each
// node its enabled switch, then its parameter values.
func (t *Tree) ParameterState() []Value {
	var out []Value
	t.Walk(func(n *Node) bool {
		on := float32(0)
		if n.enabled {
			on = 1
		}
		out = append(out, Value{Key: t.Key(n, EnabledKey), Value: on})
		for _, p := range n.params {
			out = append(out, Value{Key: t.Key(n, p.Name), Value: p.Value})
		}
		return true
	})
	return out
}

// Value is a saved parameter value.
type Value struct {
	Key   string
	Value float32
}

// ApplyParameterState replays saved values in the tree's current order.
// Enabled switches go through SetEnabled and parameter values through their
// callbacks, exactly like live edits. Nodes without a saved switch stay
// enabled. It returns the saved keys the tree does not have.
func (t *Tree) ApplyParameterState(state []Value) (unknown []string) {
	saved := make(map[string]float32, len(state))
	for _, v := range state {
		saved[v.Key] = v.Value
	}
	take := func(key string) (float32, bool) {
		v, ok := saved[key]
		delete(saved, key)
		return v, ok
	}
	t.Walk(func(n *Node) bool {
		if v, ok := take(t.Key(n, EnabledKey)); ok {
			n.enabled = v > 0.5
		}
		for _, p := range n.params {
			if v, ok := take(t.Key(n, p.Name)); ok {
				p.Set(v)
			}
		}
		return true
	})
	for _, v := range state {
		if _, ok := saved[v.Key]; ok {
			unknown = append(unknown, v.Key)
		}
	}
	return unknown
}
