package propulsion

import (
	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
)

const (
	coolingSteps     = 200
	coolingPreview   = 50
	coolingTwist     = 0.05 // rad/mm
	coolingRadius    = 3
	coolingSignature = 16
)

// Cooling routes a helical regenerative cooling channel through the
// compressor casing wall. It reads the wall from the registry and carves
// the channel through the global voids batch, so it must be visited after
// the compressor. Without a published wall it contributes nothing.
type Cooling struct {
	graph.Base

	channel []kernel.Vec3
}

// NewCooling returns a cooling system.
func NewCooling() *Cooling { return &Cooling{} }

func (c *Cooling) Kind() string { return KindCooling }

// CacheInputs fingerprints the published wall so a change upstream
// rebuilds the channel.
func (c *Cooling) CacheInputs(bc *buildctx.Context) []float32 {
	wall, span, ok := compressorWall(bc)
	if !ok {
		return nil
	}
	inputs := []float32{span[0], span[1]}
	for i := range coolingSignature + 1 {
		z := span[0] + (span[1]-span[0])*float32(i)/coolingSignature
		inputs = append(inputs, wall(z))
	}
	return inputs
}

func compressorWall(bc *buildctx.Context) (buildctx.ScalarFunc, [2]float32, bool) {
	wall, ok := bc.Registry().Func(KeyCompressorWall)
	if !ok {
		return nil, [2]float32{}, false
	}
	span := buildctx.Value(bc.Registry(), KeyCompressorSpan, [2]float32{0, 600})
	return wall, span, true
}

// path samples the channel centreline, skipping points where the wall
// radius is not positive.
func path(wall buildctx.ScalarFunc, span [2]float32, steps int) []kernel.Vec3 {
	var pts []kernel.Vec3
	for i := range steps + 1 {
		z := span[0] + (span[1]-span[0])*float32(i)/float32(steps)
		r := wall(z)
		if r <= 0 {
			continue
		}
		pts = append(pts, polar(z*coolingTwist, r, z))
	}
	return pts
}

func (c *Cooling) Setup(bc *buildctx.Context) {
	c.channel = nil
	if wall, span, ok := compressorWall(bc); ok {
		c.channel = path(wall, span, coolingSteps)
	}
}

func (c *Cooling) Preview(bc *buildctx.Context) {
	wall, span, ok := compressorWall(bc)
	if !ok {
		return
	}
	pts := path(wall, span, coolingPreview)
	for i := 1; i < len(pts); i++ {
		bc.AddGuide(line(pts[i-1], pts[i], colorHint))
	}
}

func (c *Cooling) Construct(bc *buildctx.Context) error {
	pts := c.channel
	voids := bc.Voids()
	for i := 1; i < len(pts); i++ {
		if pts[i].Sub(pts[i-1]).Length() < 1e-3 {
			continue
		}
		voids.AddBeam(pts[i-1], pts[i], coolingRadius, coolingRadius)
	}
	return nil
}

// Results reports the centreline length of the channel.
func (c *Cooling) Results() []graph.Result {
	var l float64
	for i := 1; i < len(c.channel); i++ {
		l += c.channel[i].Sub(c.channel[i-1]).Length()
	}
	return []graph.Result{{Label: "Channel length", Value: float32(l), Unit: "mm"}}
}
