package propulsion

import (
	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/param"
)

const (
	defaultMainDia = 1000
	inletWall      = 20
)

// Inlet is the intake duct with a conical centre spike.
type Inlet struct {
	graph.Base
	length *param.Parameter

	dia   float32
	start float32
}

// NewInlet returns an inlet with default parameters.
func NewInlet() *Inlet {
	return &Inlet{length: param.New("Length", 300, 100, 1000, nil)}
}

func (i *Inlet) Kind() string                   { return KindInlet }
func (i *Inlet) Parameters() []*param.Parameter { return []*param.Parameter{i.length} }

// CacheInputs adds the published engine diameter, which the inlet reads
// directly rather than through the handshake.
func (i *Inlet) CacheInputs(bc *buildctx.Context) []float32 {
	return []float32{mainDia(bc)}
}

func mainDia(bc *buildctx.Context) float32 {
	return buildctx.Value[float32](bc.Registry(), KeyMainDia, defaultMainDia)
}

func (i *Inlet) Setup(bc *buildctx.Context) {
	i.dia = mainDia(bc)
	i.start = bc.Cursor
	bc.Handshake = i.dia / 2
	bc.Advance(i.length.Value)
}

func (i *Inlet) Preview(bc *buildctx.Context) {
	r := i.dia / 2
	end := i.start + i.length.Value
	bc.AddGuide(circle(i.start, r, colorInlet))
	bc.AddGuide(circle(end, r, colorOutlet))
	bc.AddGuide(line(axis(i.start), axis(end), colorOutline))
	bc.AddGuide(line(axis(i.start-100), axis(i.start), colorHint))
}

func (i *Inlet) Construct(bc *buildctx.Context) error {
	k := bc.Kernel()
	r := i.dia / 2
	length := i.length.Value
	bc.Assembly().Add(k.Pipe(annulus(bc.Cursor, length, r-inletWall, r)))

	spike := float64(i.dia / 4)
	l := float64(length)
	bc.Assembly().Add(k.Pipe(kernel.PipeSpec{
		Z0:     float64(bc.Cursor),
		Length: l,
		Outer:  func(z float64) float64 { return spike * z / l },
	}))
	return nil
}
