// Package generative provides stand-alone procedural components: a 3D
// cellular automaton, a gyroid lattice and an L-system plant. They build at
// the incoming cursor and leave cursor and handshake untouched.
package generative

import (
	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
)

// Component kinds.
const (
	KindAutomata = "automata"
	KindGyroid   = "gyroid"
	KindLSystem  = "lsystem"
)

// Register adds every generative component to c.
func Register(c *graph.Catalog) {
	c.Register(KindAutomata, "Cellular Automata", func() graph.Strategy { return NewAutomata() })
	c.Register(KindGyroid, "Gyroid", func() graph.Strategy { return NewGyroid() })
	c.Register(KindLSystem, "L-System Plant", func() graph.Strategy { return NewLSystem() })
}

// boxGuides outlines the bottom and top squares of a box.
func boxGuides(bc *buildctx.Context, b kernel.Box) {
	for _, z := range []float64{b.Min.Z, b.Max.Z} {
		corners := []kernel.Vec3{
			{X: b.Min.X, Y: b.Min.Y, Z: z},
			{X: b.Max.X, Y: b.Min.Y, Z: z},
			{X: b.Max.X, Y: b.Max.Y, Z: z},
			{X: b.Min.X, Y: b.Max.Y, Z: z},
		}
		for i, c := range corners {
			bc.AddGuide(buildctx.Guide{
				Kind:  buildctx.GuideLine,
				A:     c,
				B:     corners[(i+1)%len(corners)],
				Color: "steel",
			})
		}
	}
}
