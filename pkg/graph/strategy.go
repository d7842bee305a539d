package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/param"
)

// Strategy is the behaviour plugged into a node. All methods run on the
// geometry goroutine.
//
// Physics may read and write the registry but must not move the cursor.
// Setup reads the incoming cursor and handshake, resolves its dimensions and
// writes the outgoing cursor and handshake; it runs every pass. Preview may
// only add guides. Construct adds geometry to the context's assembly,
// batches or cuts; it only runs when the node's cache is stale.
type Strategy interface {
	Kind() string
	Parameters() []*param.Parameter
	Physics(bc *buildctx.Context)
	Setup(bc *buildctx.Context)
	Preview(bc *buildctx.Context)
	Construct(bc *buildctx.Context) error
}

// Base provides no-op phases for strategies to embed.
type Base struct{}

func (Base) Parameters() []*param.Parameter    { return nil }
func (Base) Physics(*buildctx.Context)         {}
func (Base) Setup(*buildctx.Context)           {}
func (Base) Preview(*buildctx.Context)         {}
func (Base) Construct(*buildctx.Context) error { return nil }

// Declared is a child a strategy creates together with itself.
type Declared struct {
	Name     string
	Strategy Strategy
}

// Declarer is implemented by strategies that come with a fixed set of
// children, such as an assembly and its stages.
type Declarer interface {
	Declare() []Declared
}

// Inputs is implemented by strategies whose geometry depends on more than
// their parameters and the incoming handshake, typically on a function
// published by another node. The returned values join the cache signature.
type Inputs interface {
	CacheInputs(bc *buildctx.Context) []float32
}

// Result is a simulation read-out shown next to the controls.
type Result struct {
	Label   string
	Value   float32
	Unit    string
	Warning bool
}

// Reporter is implemented by strategies that expose read-outs after a pass.
type Reporter interface {
	Results() []Result
}

// ----------------------------------------------------------------------------
// Catalog

// ErrUnknownKind is returned for a kind with no registered factory.
var ErrUnknownKind = errors.New("unknown component type")

// Factory creates a fresh strategy with default parameters.
type Factory func() Strategy

// Catalog maps kind names to factories.
type Catalog struct {
	factories map[string]Factory
	titles    map[string]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory), titles: make(map[string]string)}
}

// Register adds a factory. title is the default node name for the kind.
func (c *Catalog) Register(kind, title string, f Factory) {
	c.factories[kind] = f
	c.titles[kind] = title
}

// New instantiates kind.
func (c *Catalog) New(kind string) (Strategy, error) {
	f, ok := c.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(), nil
}

// Title returns the default node name for kind, or kind itself.
func (c *Catalog) Title(kind string) string {
	if t, ok := c.titles[kind]; ok && t != "" {
		return t
	}
	return kind
}

// Has reports whether kind is registered.
func (c *Catalog) Has(kind string) bool {
	_, ok := c.factories[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (c *Catalog) Kinds() []string {
	kinds := lo.Keys(c.factories)
	slices.Sort(kinds)
	return kinds
}
