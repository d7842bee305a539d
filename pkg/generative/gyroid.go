package generative

import (
	"fmt"
	"math"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/param"
)

// GyroidField returns the signed distance to a gyroid wall of the given
// thickness with one period every cell mm. The gyroid value is divided by
// the frequency so distances are roughly in mm.
func GyroidField(cell, thickness float64) kernel.Field {
	scale := 2 * math.Pi / cell
	half := thickness / 2
	return func(p kernel.Vec3) float64 {
		x, y, z := p.X*scale, p.Y*scale, p.Z*scale
		v := math.Sin(x)*math.Cos(y) + math.Sin(y)*math.Cos(z) + math.Sin(z)*math.Cos(x)
		return math.Abs(v)/scale - half
	}
}

// Gyroid fills a box standing on the cursor with a gyroid lattice.
type Gyroid struct {
	graph.Base
	size      *param.Parameter
	cell      *param.Parameter
	thickness *param.Parameter
}

// NewGyroid returns a gyroid with default parameters.
func NewGyroid() *Gyroid {
	return &Gyroid{
		size:      param.New("Box Size", 100, 50, 200, nil),
		cell:      param.New("Cell Size", 15, 5, 50, nil),
		thickness: param.New("Wall Thickness", 2, 0.5, 10, nil),
	}
}

func (g *Gyroid) Kind() string { return KindGyroid }

func (g *Gyroid) Parameters() []*param.Parameter {
	return []*param.Parameter{g.size, g.cell, g.thickness}
}

func (g *Gyroid) bounds(z0 float32) kernel.Box {
	h := float64(g.size.Value) / 2
	return kernel.Box{
		Min: kernel.Vec3{X: -h, Y: -h, Z: float64(z0)},
		Max: kernel.Vec3{X: h, Y: h, Z: float64(z0) + 2*h},
	}
}

func (g *Gyroid) Preview(bc *buildctx.Context) {
	boxGuides(bc, g.bounds(bc.Cursor))
}

func (g *Gyroid) Construct(bc *buildctx.Context) error {
	field := GyroidField(float64(g.cell.Value), float64(g.thickness.Value))
	s, err := bc.Kernel().SampleSDF(field, g.bounds(bc.Cursor))
	if err != nil {
		return fmt.Errorf("gyroid: %w", err)
	}
	bc.Assembly().Add(s)
	return nil
}
