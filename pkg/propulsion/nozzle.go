package propulsion

import (
	"github.com/chewxy/math32"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/param"
	"github.com/WiredGeist/CEM/pkg/physics"
)

const (
	defaultThrust = 50000 // N
	nozzleWall    = 5
	ambientBar    = 1
)

// Nozzle is a de Laval exhaust nozzle. Throat and exit are sized for the
// required thrust at the chamber pressure; the wall is thickened when hoop
// stress at the inlet radius demands it.
type Nozzle struct {
	graph.Base
	pressure *param.Parameter
	ratio    *param.Parameter

	thrust  float32
	rIn     float32
	rThroat float32
	rExit   float32
	height  float32
	wall    float32
	start   float32
}

// NewNozzle returns a nozzle with default parameters.
func NewNozzle() *Nozzle {
	return &Nozzle{
		pressure: param.New("Pressure (Bar)", 60, 10, 100, nil),
		ratio:    param.New("Exp. Ratio", 14, 2, 30, nil),
	}
}

func (n *Nozzle) Kind() string { return KindNozzle }

func (n *Nozzle) Parameters() []*param.Parameter {
	return []*param.Parameter{n.pressure, n.ratio}
}

// CacheInputs adds the required thrust published by the assembly.
func (n *Nozzle) CacheInputs(bc *buildctx.Context) []float32 {
	return []float32{requiredThrust(bc)}
}

func requiredThrust(bc *buildctx.Context) float32 {
	t := buildctx.Value[float32](bc.Registry(), KeyReqThrust, 0)
	if t <= 0 {
		return defaultThrust
	}
	return t
}

func (n *Nozzle) Setup(bc *buildctx.Context) {
	n.thrust = requiredThrust(bc)
	at := physics.ThroatArea(n.thrust, n.pressure.Value*1e5)
	ae := physics.ExitArea(at, n.ratio.Value)
	n.rThroat = physics.AreaToRadiusMM(at)
	n.rExit = physics.AreaToRadiusMM(ae)
	n.rIn = incoming(bc, 2*n.rThroat)
	n.height = 4 * n.rExit
	n.wall = math32.Max(nozzleWall, physics.WallThickness(n.pressure.Value, n.rIn))
	n.start = bc.Cursor
	bc.Advance(n.height)
}

// profile returns the outer radius at local z.
func (n *Nozzle) profile(z float32) float32 {
	return physics.DeLavalRadius(z, n.height*0.3, n.height*0.6, n.rIn, n.rThroat, n.rExit)
}

func (n *Nozzle) Preview(bc *buildctx.Context) {
	bc.AddGuide(circle(n.start, n.rIn, colorInlet))
	bc.AddGuide(circle(n.start+n.height, n.rExit, colorOutlet))
}

func (n *Nozzle) Construct(bc *buildctx.Context) error {
	wall := float64(n.wall)
	bc.Assembly().Add(bc.Kernel().Pipe(kernel.PipeSpec{
		Z0:     float64(bc.Cursor),
		Length: float64(n.height),
		Inner:  func(z float64) float64 { return float64(n.profile(float32(z))) - wall },
		Outer:  func(z float64) float64 { return float64(n.profile(float32(z))) },
	}))
	return nil
}

// Results reports the sized nozzle and the thrust it delivers at sea level.
func (n *Nozzle) Results() []graph.Result {
	p := n.pressure.Value
	ve := physics.ExhaustVelocity(p, ambientBar)
	mdot := physics.MassFlow(p, n.rThroat)
	thrust := physics.Thrust(mdot, ve, ambientBar, ambientBar, n.rExit)
	return []graph.Result{
		{Label: "Throat radius", Value: n.rThroat, Unit: "mm"},
		{Label: "Exit radius", Value: n.rExit, Unit: "mm"},
		{Label: "Wall thickness", Value: n.wall, Unit: "mm", Warning: n.wall > nozzleWall},
		{Label: "Exhaust velocity", Value: ve, Unit: "m/s"},
		{Label: "Mass flow", Value: mdot, Unit: "kg/s"},
		{Label: "Thrust", Value: thrust, Unit: "kN", Warning: thrust*1000 < n.thrust},
	}
}
