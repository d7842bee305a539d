package propulsion

import (
	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/param"
)

// cutawayExtent is the size of the cutaway box. It covers any engine the
// parameter ranges allow.
const cutawayExtent = 10000

// Turbojet is the assembly root. It publishes the engine diameter and the
// required thrust for its stages and hands the first stage its radius.
type Turbojet struct {
	graph.Base
	diameter *param.Parameter
	thrust   *param.Parameter
	cutaway  *param.Parameter
}

// NewTurbojet returns a turbojet with default parameters.
func NewTurbojet() *Turbojet {
	return &Turbojet{
		diameter: param.New("Global Diameter", 1000, 500, 2000, nil),
		thrust:   param.New("Req. Thrust (kN)", 80, 10, 200, nil),
		cutaway:  param.New("Section View (0=Off, 1=On)", 0, 0, 1, nil),
	}
}

func (t *Turbojet) Kind() string { return KindTurbojet }

func (t *Turbojet) Parameters() []*param.Parameter {
	return []*param.Parameter{t.diameter, t.thrust, t.cutaway}
}

// Declare returns the default stages.
func (t *Turbojet) Declare() []graph.Declared {
	return []graph.Declared{
		{Name: "Inlet", Strategy: NewInlet()},
		{Name: "Axial Compressor", Strategy: NewCompressor()},
		{Name: "Annular Combustor", Strategy: NewCombustor()},
		{Name: "Exhaust Nozzle", Strategy: NewNozzle()},
	}
}

func (t *Turbojet) Physics(bc *buildctx.Context) {
	bc.Registry().Publish(KeyMainDia, t.diameter.Value)
	bc.Registry().Publish(KeyReqThrust, t.thrust.Value*1000)
}

func (t *Turbojet) Setup(bc *buildctx.Context) {
	bc.Handshake = t.diameter.Value / 2
}

// Construct queues the cutaway box, which removes the +X half of the
// engine after every stage has been composited.
func (t *Turbojet) Construct(bc *buildctx.Context) error {
	if t.cutaway.Value <= 0.5 {
		return nil
	}
	z := float64(bc.Cursor) - 100
	bc.Cuts().Add(bc.Kernel().Box(kernel.Box{
		Min: kernel.Vec3{X: 0, Y: -cutawayExtent / 2, Z: z},
		Max: kernel.Vec3{X: cutawayExtent / 2, Y: cutawayExtent / 2, Z: z + cutawayExtent},
	}))
	return nil
}
