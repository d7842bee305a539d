package propulsion

import (
	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/param"
	"github.com/WiredGeist/CEM/pkg/physics"
)

const (
	turbineDiscs     = 3
	turbineWall      = 10
	turbineExpansion = 1.1
)

// Turbine is a slightly diverging shell with three rotor discs.
type Turbine struct {
	graph.Base
	length *param.Parameter

	rIn, rOut float32
	start     float32
}

// NewTurbine returns a turbine with default parameters.
func NewTurbine() *Turbine {
	return &Turbine{length: param.New("Length", 300, 100, 600, nil)}
}

func (t *Turbine) Kind() string                   { return KindTurbine }
func (t *Turbine) Parameters() []*param.Parameter { return []*param.Parameter{t.length} }

func (t *Turbine) Setup(bc *buildctx.Context) {
	t.rIn = incoming(bc, defaultCombustorRadius)
	t.rOut = t.rIn * turbineExpansion
	t.start = bc.Cursor
	bc.Advance(t.length.Value)
	bc.Handshake = t.rOut
}

func (t *Turbine) Preview(bc *buildctx.Context) {
	bc.AddGuide(circle(t.start, t.rIn, colorInlet))
	bc.AddGuide(circle(t.start+t.length.Value, t.rOut, colorOutlet))
}

func (t *Turbine) Construct(bc *buildctx.Context) error {
	k := bc.Kernel()
	z0 := bc.Cursor
	length := t.length.Value
	outer := func(z float64) float64 {
		return float64(physics.Lerp(t.rIn, t.rOut, float32(z)/length))
	}
	bc.Assembly().Add(k.Pipe(kernel.PipeSpec{
		Z0:     float64(z0),
		Length: float64(length),
		Inner:  func(z float64) float64 { return outer(z) - turbineWall },
		Outer:  outer,
	}))

	for i := range turbineDiscs {
		z := z0 + length/turbineDiscs*float32(i) + 20
		r := physics.Lerp(t.rIn, t.rOut, float32(i)/turbineDiscs) - 5
		bc.Assembly().Add(k.Cylinder(axis(z), axis(z+20), float64(r)))
	}
	return nil
}
