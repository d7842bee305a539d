package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/kernel/kerneltest"
	"github.com/WiredGeist/CEM/pkg/param"
)

// ----------------------------------------------------------------------------
// Fixtures

// stage is an axial stage: it advances the cursor by its length and, when
// Exit is non-zero, overwrites the handshake.
type stage struct {
	Base
	length float32
	exit   float32
	params []*param.Parameter

	builds   int
	fail     error
	panicMsg string
}

func newStage(length float32) *stage {
	s := &stage{length: length}
	s.params = []*param.Parameter{
		param.New("Length", length, 1, 2000, func(v float32) { s.length = v }),
		param.New("Exit", 0, 0, 1000, func(v float32) { s.exit = v }),
	}
	return s
}

func (s *stage) Kind() string                   { return "stage" }
func (s *stage) Parameters() []*param.Parameter { return s.params }

func (s *stage) Setup(bc *buildctx.Context) {
	bc.Advance(s.length)
	if s.exit > 0 {
		bc.Handshake = s.exit
	}
}

func (s *stage) Construct(bc *buildctx.Context) error {
	s.builds++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.fail != nil {
		bc.Solids().AddSphere(kernel.Vec3{}, 99)
		return s.fail
	}
	k := bc.Kernel()
	z := float64(bc.Cursor)
	r := 10 + float64(bc.Handshake)
	bc.Assembly().Add(k.Cylinder(kernel.Vec3{Z: z}, kernel.Vec3{Z: z + float64(s.length)}, r))
	bc.Solids().AddSphere(kernel.Vec3{Z: z}, 1)
	bc.Advance(5000) // must not leak out of the scoped construct
	return nil
}

// group is a root without geometry.
type group struct {
	Base
	declared []Declared
}

func (g *group) Kind() string        { return "group" }
func (g *group) Declare() []Declared { return g.declared }

// chain builds root -> A(300), B(600), C(420).
func chain(t *testing.T) (*Tree, [3]*stage, [3]*Node) {
	t.Helper()
	tree := New()
	tree.SetRoot("Assembly", &group{})
	var stages [3]*stage
	var nodes [3]*Node
	for i, l := range []float32{300, 600, 420} {
		stages[i] = newStage(l)
		n, err := tree.AddChild(tree.Root().ID, string(rune('A'+i)), stages[i])
		require.NoError(t, err)
		nodes[i] = n
	}
	return tree, stages, nodes
}

func pass(tree *Tree, k kernel.Kernel) (*buildctx.Context, Report) {
	bc := buildctx.New(context.Background(), k, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return bc, tree.Build(bc)
}

func ids(nodes ...*Node) []NodeID {
	out := make([]NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

// ----------------------------------------------------------------------------
// Tree structure

func TestTreeStructure(t *testing.T) {
	tree, _, nodes := chain(t)
	assert.Equal(t, 4, tree.Len())
	assert.Equal(t, NoNode, tree.Root().Parent)
	assert.Equal(t, nodes[1], tree.Lookup("B"))
	assert.Nil(t, tree.Lookup("missing"))

	var order []string
	tree.Walk(func(n *Node) bool {
		order = append(order, n.Name)
		return true
	})
	assert.Equal(t, []string{"Assembly", "A", "B", "C"}, order)

	_, err := tree.AddChild(NodeID(42), "x", newStage(1))
	assert.ErrorIs(t, err, ErrNoSuchNode)

	require.NoError(t, tree.Remove(nodes[1].ID))
	assert.Equal(t, 3, tree.Len())
	assert.Nil(t, tree.Node(nodes[1].ID))
	assert.Equal(t, ids(nodes[0], nodes[2]), ids(tree.Children(tree.Root().ID)...))
	assert.ErrorIs(t, tree.Remove(nodes[1].ID), ErrNoSuchNode)

	require.NoError(t, tree.Remove(tree.Root().ID))
	assert.Nil(t, tree.Root())
	assert.Zero(t, tree.Len())
}

func TestDeclaredChildrenAndFlattenedKeys(t *testing.T) {
	tree := New()
	root := &group{declared: []Declared{
		{Name: "Inlet", Strategy: newStage(300)},
		{Name: "Nozzle", Strategy: newStage(200)},
	}}
	tree.SetRoot("", root)
	assert.Equal(t, "group", tree.Root().Name, "empty name falls back to kind")
	require.Len(t, tree.Children(tree.Root().ID), 2)

	keys := make([]string, 0)
	for _, e := range tree.Parameters() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"Inlet/Length", "Inlet/Exit", "Nozzle/Length", "Nozzle/Exit"}, keys)

	require.NoError(t, tree.SetParameter("Nozzle/Length", 250))
	assert.Equal(t, float32(250), tree.Lookup("Nozzle").Parameter("Length").Value)
	assert.ErrorIs(t, tree.SetParameter("Nozzle/Width", 1), ErrNoSuchParameter)

	nested, err := tree.AddChild(tree.Lookup("Inlet").ID, "Spike", newStage(10))
	require.NoError(t, err)
	assert.Equal(t, "Inlet/Spike/Length", tree.Key(nested, "Length"))
}

func TestApplyMessage(t *testing.T) {
	tree, stages, nodes := chain(t)
	require.NoError(t, tree.Apply(param.Message{Node: int(nodes[2].ID), Name: "Length", Value: 5000}))
	assert.Equal(t, float32(2000), stages[2].length, "value is clamped")
	assert.ErrorIs(t, tree.Apply(param.Message{Node: 99, Name: "Length"}), ErrNoSuchNode)
	assert.ErrorIs(t, tree.Apply(param.Message{Node: int(nodes[0].ID), Name: "Width"}), ErrNoSuchParameter)
}

// ----------------------------------------------------------------------------
// Lifecycle

func TestCursorAdditivity(t *testing.T) {
	tree, _, nodes := chain(t)
	bc, r := pass(tree, kerneltest.New())
	require.Empty(t, r.Failures)

	got := []float32{nodes[0].StartPosition(), nodes[1].StartPosition(), nodes[2].StartPosition()}
	assert.Equal(t, []float32{0, 300, 900}, got)
	assert.Equal(t, float32(1320), bc.Cursor)
}

func TestCacheHitIdempotence(t *testing.T) {
	tree, stages, nodes := chain(t)
	k := kerneltest.New()

	bc1, r1 := pass(tree, k)
	assert.ElementsMatch(t, ids(tree.Root(), nodes[0], nodes[1], nodes[2]), r1.Built)
	first := nodes[1].Cache().Geometry

	bc2, r2 := pass(tree, k)
	assert.Empty(t, r2.Built)
	assert.Len(t, r2.Reused, 4)
	assert.Same(t, first, nodes[1].Cache().Geometry)
	for _, s := range stages {
		assert.Equal(t, 1, s.builds)
	}
	assert.Equal(t, kerneltest.Expr(bc1.Assembly().Solid()), kerneltest.Expr(bc2.Assembly().Solid()))
	if diff := cmp.Diff(bc1.Solids().Canonical(), bc2.Solids().Canonical()); diff != "" {
		t.Errorf("replayed batch differs (-first +second):\n%s", diff)
	}
}

func TestScopedInvalidation(t *testing.T) {
	tree, stages, nodes := chain(t)
	k := kerneltest.New()
	pass(tree, k)

	require.NoError(t, tree.SetParameter("B/Length", 700))
	assert.Equal(t, StatusCached, nodes[0].Status())
	assert.Equal(t, StatusDirty, nodes[1].Status())
	assert.Equal(t, StatusCached, nodes[2].Status())

	bc, r := pass(tree, k)
	assert.Equal(t, ids(nodes[1]), r.Built)
	assert.Equal(t, 1, stages[2].builds, "C only moved, so its cache is reused")
	assert.Equal(t, float32(1000), nodes[2].StartPosition())
	assert.Equal(t, float32(1420), bc.Cursor)

	// The moved node's contribution matches a fresh build at the new position.
	fresh, _, _ := chain(t)
	require.NoError(t, fresh.SetParameter("B/Length", 700))
	fbc, _ := pass(fresh, k)
	assert.Equal(t, fbc.Solids().Canonical(), bc.Solids().Canonical())
}

func TestUpstreamPropagation(t *testing.T) {
	tree, stages, nodes := chain(t)
	k := kerneltest.New()
	pass(tree, k)

	// A change within epsilon does not propagate.
	tree.Epsilon = 0.1
	require.NoError(t, tree.SetParameter("A/Exit", 0.05))
	_, r := pass(tree, k)
	assert.Equal(t, ids(nodes[0]), r.Built)

	require.NoError(t, tree.SetParameter("A/Exit", 50))
	_, r = pass(tree, k)
	assert.Equal(t, ids(nodes[0], nodes[1], nodes[2]), r.Built)
	assert.Equal(t, float32(50), nodes[1].InputHandshake())
	assert.Equal(t, 2, stages[1].builds)
}

func TestConstructFailureIsolation(t *testing.T) {
	for _, tc := range []struct {
		name     string
		sabotage func(s *stage)
	}{
		{"error", func(s *stage) { s.fail = errors.New("boom") }},
		{"panic", func(s *stage) { s.panicMsg = "kaboom" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tree, stages, nodes := chain(t)
			k := kerneltest.New()
			tc.sabotage(stages[1])

			bc, r := pass(tree, k)
			require.Len(t, r.Failures, 1)
			f := r.Failures[0]
			assert.Equal(t, nodes[1].ID, f.Node)
			assert.Equal(t, PhaseConstruct, f.Phase)
			assert.ElementsMatch(t, ids(tree.Root(), nodes[0], nodes[2]), r.Built)

			assert.Equal(t, float32(1320), bc.Cursor, "cursor restored after the failure")
			assert.Equal(t, float32(900), nodes[2].StartPosition())
			assert.Nil(t, nodes[1].Cache())
			assert.Equal(t, StatusDirty, nodes[1].Status())
			assert.Equal(t, 2, bc.Solids().Len(), "failed node's partial batch is discarded")
			assert.NotContains(t, kerneltest.Expr(bc.Assembly().Solid()), "cylinder(0 0 300;")

			// Same inputs: not retried.
			_, r = pass(tree, k)
			assert.Equal(t, ids(nodes[1]), r.Suppressed)
			assert.Empty(t, r.Failures)
			assert.Equal(t, 1, stages[1].builds)

			// Fixed and invalidated: rebuilt.
			stages[1].fail, stages[1].panicMsg = nil, ""
			nodes[1].Invalidate()
			_, r = pass(tree, k)
			assert.Equal(t, ids(nodes[1]), r.Built)
			assert.Equal(t, StatusCached, nodes[1].Status())
		})
	}
}

func TestDisabledSubtree(t *testing.T) {
	tree, stages, nodes := chain(t)
	k := kerneltest.New()
	pass(tree, k)
	cached := nodes[1].Cache()

	child, err := tree.AddChild(nodes[1].ID, "B1", newStage(50))
	require.NoError(t, err)
	require.NoError(t, tree.SetEnabled(nodes[1].ID, false))
	assert.Equal(t, StatusDisabled, nodes[1].Status())

	bc, r := pass(tree, k)
	assert.Equal(t, ids(nodes[1]), r.Disabled)
	assert.Nil(t, child.Cache(), "subtree of a disabled node is skipped")
	assert.Equal(t, float32(720), bc.Cursor)
	assert.Equal(t, float32(300), nodes[2].StartPosition())
	assert.Same(t, cached, nodes[1].Cache(), "cache kept while disabled")

	require.NoError(t, tree.SetEnabled(nodes[1].ID, true))
	assert.Equal(t, StatusCached, nodes[1].Status())
	_, r = pass(tree, k)
	assert.NotContains(t, r.Built, nodes[1].ID, "re-enable does not rebuild")
	assert.Contains(t, r.Built, child.ID)
	assert.Equal(t, 1, stages[1].builds)

	assert.ErrorIs(t, tree.SetEnabled(NodeID(99), true), ErrNoSuchNode)
}

func TestApplyParameterStateSharesInvalidation(t *testing.T) {
	src, _, _ := chain(t)
	require.NoError(t, src.SetParameter("A/Length", 350))
	require.NoError(t, src.SetParameter("C/Exit", 12.5))
	k := kerneltest.New()
	sbc, _ := pass(src, k)

	dst, _, nodes := chain(t)
	pass(dst, k)
	state := append(src.ParameterState(), Value{Key: "Z/Length", Value: 1})
	unknown := dst.ApplyParameterState(state)
	assert.Equal(t, []string{"Z/Length"}, unknown)
	for _, n := range nodes {
		assert.Equal(t, StatusDirty, n.Status(), "replayed values mark nodes dirty like live edits")
	}
	for i, e := range dst.Parameters() {
		assert.InDelta(t, src.Parameters()[i].Param.Value, e.Param.Value, 1e-4)
	}

	dbc, _ := pass(dst, k)
	assert.Equal(t, kerneltest.Expr(sbc.Assembly().Solid()), kerneltest.Expr(dbc.Assembly().Solid()))
}

func TestParameterStateCarriesEnabled(t *testing.T) {
	src, _, nodes := chain(t)
	require.NoError(t, src.SetEnabled(nodes[1].ID, false))

	state := src.ParameterState()
	keys := make([]string, len(state))
	for i, v := range state {
		keys[i] = v.Key
	}
	off := slices.Index(keys, "B/"+EnabledKey)
	require.GreaterOrEqual(t, off, 0)
	assert.Equal(t, float32(0), state[off].Value)
	assert.Less(t, off, slices.Index(keys, "B/Length"), "switch precedes the node's parameters")
	on := slices.Index(keys, "A/"+EnabledKey)
	require.GreaterOrEqual(t, on, 0)
	assert.Equal(t, float32(1), state[on].Value)

	dst, _, replayed := chain(t)
	assert.Empty(t, dst.ApplyParameterState(state))
	assert.True(t, replayed[0].Enabled())
	assert.False(t, replayed[1].Enabled())
	assert.True(t, replayed[2].Enabled())

	// State written before the switch existed leaves nodes enabled.
	old, _, kept := chain(t)
	assert.Empty(t, old.ApplyParameterState([]Value{{Key: "B/Length", Value: 500}}))
	assert.True(t, kept[1].Enabled())
}

func TestEnabledKeyIsReserved(t *testing.T) {
	tree := New()
	tree.SetRoot("Assembly", &group{})
	s := newStage(300)
	s.params = append(s.params, param.New(EnabledKey, 1, 0, 1, nil))
	n, err := tree.AddChild(tree.Root().ID, "A", s)
	require.NoError(t, err)

	findings := Validate(tree)
	require.True(t, HasErrors(findings))
	found := false
	for _, f := range findings {
		if f.Node == n.ID && strings.Contains(f.Message, "reserved") {
			found = true
		}
	}
	assert.True(t, found, "findings: %v", findings)
}

// ----------------------------------------------------------------------------
// Registry-derived cache inputs

type wallPublisher struct {
	Base
	slope  float32
	params []*param.Parameter
}

func (w *wallPublisher) Kind() string                   { return "wall" }
func (w *wallPublisher) Parameters() []*param.Parameter { return w.params }
func (w *wallPublisher) Physics(bc *buildctx.Context) {
	slope := w.slope
	bc.Registry().PublishFunc("Wall", func(z float32) float32 { return 100 + slope*z })
}

type wallUser struct {
	Base
	builds int
}

func (w *wallUser) Kind() string { return "wall-user" }
func (w *wallUser) CacheInputs(bc *buildctx.Context) []float32 {
	return []float32{bc.Registry().Call("Wall", bc.Cursor+100, 0)}
}
func (w *wallUser) Construct(bc *buildctx.Context) error {
	w.builds++
	r := bc.Registry().Call("Wall", bc.Cursor, 50)
	bc.Voids().AddSphere(kernel.Vec3{Z: float64(bc.Cursor)}, float64(r))
	return nil
}

func TestCacheInputsFromRegistry(t *testing.T) {
	pub := &wallPublisher{slope: 0.1}
	pub.params = []*param.Parameter{param.New("Slope", 0.1, 0, 1, func(v float32) { pub.slope = v })}
	user := &wallUser{}

	tree := New()
	tree.SetRoot("Compressor", pub)
	_, err := tree.AddChild(tree.Root().ID, "Cooling", user)
	require.NoError(t, err)

	k := kerneltest.New()
	pass(tree, k)
	pass(tree, k)
	assert.Equal(t, 1, user.builds)

	require.NoError(t, tree.SetParameter("Slope", 0.5))
	_, r := pass(tree, k)
	assert.Len(t, r.Built, 2)
	assert.Equal(t, 2, user.builds)
}

// ----------------------------------------------------------------------------
// Results

type reporter struct {
	Base
}

func (reporter) Kind() string { return "reporter" }
func (reporter) Results() []Result {
	return []Result{{Label: "Throat", Value: 42, Unit: "mm"}}
}

func TestResults(t *testing.T) {
	tree := New()
	tree.SetRoot("Root", &group{})
	n, err := tree.AddChild(tree.Root().ID, "Nozzle", reporter{})
	require.NoError(t, err)
	assert.Equal(t, map[string][]Result{"Nozzle": {{Label: "Throat", Value: 42, Unit: "mm"}}}, tree.Results())

	require.NoError(t, tree.SetEnabled(n.ID, false))
	assert.Empty(t, tree.Results())
}

// ----------------------------------------------------------------------------
// Catalog

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	c.Register("stage", "Stage", func() Strategy { return newStage(100) })
	c.Register("group", "", func() Strategy { return &group{} })

	assert.Equal(t, []string{"group", "stage"}, c.Kinds())
	assert.Equal(t, "Stage", c.Title("stage"))
	assert.Equal(t, "group", c.Title("group"))
	assert.True(t, c.Has("stage"))

	s, err := c.New("stage")
	require.NoError(t, err)
	assert.Equal(t, "stage", s.Kind())

	_, err = c.New("warp-drive")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
