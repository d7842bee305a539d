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
	defaultCombustorRadius = 400
	linerWall              = 2
	casingWall             = 4
)

// Combustor is an annular combustion chamber sized from the air mass flow
// and inlet state: a perforated liner inside a casing. It passes the
// incoming radius through unchanged.
type Combustor struct {
	graph.Base
	massFlow *param.Parameter
	temp     *param.Parameter
	pressure *param.Parameter

	meanDia      float32
	casingHeight float32
	linerHeight  float32
	zones        physics.Zones
	start        float32
}

// NewCombustor returns a combustor with default parameters.
func NewCombustor() *Combustor {
	return &Combustor{
		massFlow: param.New("Mass Flow (kg/s)", 35, 10, 100, nil),
		temp:     param.New("Inlet Temp (K)", 750, 400, 900, nil),
		pressure: param.New("Inlet Pressure (Bar)", 25, 5, 40, nil),
	}
}

func (c *Combustor) Kind() string { return KindCombustor }

func (c *Combustor) Parameters() []*param.Parameter {
	return []*param.Parameter{c.massFlow, c.temp, c.pressure}
}

// Length returns the combustor length resolved by the last Setup.
func (c *Combustor) Length() float32 { return c.zones.Total() }

func (c *Combustor) Setup(bc *buildctx.Context) {
	r := incoming(bc, defaultCombustorRadius)
	c.meanDia = 2 * r
	c.start = bc.Cursor

	ref := physics.ReferenceArea(c.massFlow.Value, c.temp.Value, c.pressure.Value*1e5)
	c.casingHeight = physics.AnnulusHeight(ref, c.meanDia)
	c.linerHeight = physics.AnnulusHeight(physics.FlameTubeArea(ref), c.meanDia)
	c.zones = physics.ZoneLengths(c.casingHeight, c.linerHeight)

	bc.Handshake = r
	bc.Advance(c.Length())
}

func (c *Combustor) Preview(bc *buildctx.Context) {
	end := c.start + c.Length()
	casingR := c.meanDia/2 + c.casingHeight/2
	bc.AddGuide(circle(c.start, casingR, colorOutline))
	bc.AddGuide(circle(end, casingR, colorOutline))
	bc.AddGuide(circle(c.start+10, c.meanDia/2, colorOutlet))
	bc.AddGuide(circle(end-10, c.meanDia/2, colorOutlet))
}

func (c *Combustor) Construct(bc *buildctx.Context) error {
	k := bc.Kernel()
	z0 := bc.Cursor
	length := c.Length()
	rm := c.meanDia / 2

	liner := k.Pipe(annulus(z0, length, rm-c.linerHeight/2, rm+c.linerHeight/2))
	liner = shell(k, liner, linerWall)

	holes := kernel.NewAccumulator(k)
	c.holeRow(k, holes, z0+c.zones.Primary*0.5, 12, 15)
	c.holeRow(k, holes, z0+c.zones.Primary+c.zones.Secondary*0.5, 16, 10)
	liner = k.Difference(liner, holes.Solid())

	casing := k.Pipe(annulus(z0, length, rm-c.casingHeight/2, rm+c.casingHeight/2))
	casing = shell(k, casing, casingWall)

	bc.Assembly().Add(liner)
	bc.Assembly().Add(casing)
	return nil
}

// holeRow adds count radial punches of the given radius around the mean
// diameter at z. Each punch starts 50 mm inside and runs 150 mm outward.
func (c *Combustor) holeRow(k kernel.Kernel, acc *kernel.Accumulator, z float32, count int, radius float64) {
	rm := c.meanDia / 2
	for i := range count {
		a := float32(i) / float32(count) * 2 * math32.Pi
		acc.Add(k.Cylinder(polar(a, rm-50, z), polar(a, rm+100, z), radius))
	}
}
