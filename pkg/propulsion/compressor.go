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
	compressorStages = 5
	compressorBlades = 12
	compressorWallMM = 8
)

// Compressor is an axial compressor: a casing that converges from the
// incoming radius to rIn*ratio along a smoothstep, with five bladed stages.
// The blades are cheap primitives and go to the global solids batch.
type Compressor struct {
	graph.Base
	length *param.Parameter
	ratio  *param.Parameter

	rIn, rOut float32
	start     float32
}

// NewCompressor returns a compressor with default parameters.
func NewCompressor() *Compressor {
	return &Compressor{
		length: param.New("Length", 600, 200, 1000, nil),
		ratio:  param.New("Comp. Ratio", 60, 30, 90, nil),
	}
}

func (c *Compressor) Kind() string { return KindCompressor }

func (c *Compressor) Parameters() []*param.Parameter {
	return []*param.Parameter{c.length, c.ratio}
}

// radius returns the casing outer radius at local z.
func (c *Compressor) radius(z float32) float32 {
	return physics.Lerp(c.rIn, c.rOut, physics.Smoothstep(z/c.length.Value))
}

// Setup resolves the radii and publishes the casing wall for components
// that route through it.
func (c *Compressor) Setup(bc *buildctx.Context) {
	c.rIn = incoming(bc, mainDia(bc)/2)
	c.rOut = c.rIn * c.ratio.Value / 100
	c.start = bc.Cursor

	start, end := c.start, c.start+c.length.Value
	bc.Registry().PublishFunc(KeyCompressorWall, func(z float32) float32 {
		return c.radius(math32.Max(0, math32.Min(end, z)-start)) - compressorWallMM/2
	})
	bc.Registry().Publish(KeyCompressorSpan, [2]float32{start, end})

	bc.Advance(c.length.Value)
	bc.Handshake = c.rOut
}

func (c *Compressor) Preview(bc *buildctx.Context) {
	length := c.length.Value
	end := c.start + length
	bc.AddGuide(circle(c.start, c.rIn, colorInlet))
	bc.AddGuide(circle(end, c.rOut, colorOutlet))
	bc.AddGuide(line(polar(0, c.rIn, c.start), polar(0, c.rOut, end), colorOutline))
	bc.AddGuide(line(polar(math32.Pi, c.rIn, c.start), polar(math32.Pi, c.rOut, end), colorOutline))
	for s := range compressorStages {
		z := c.start + length/compressorStages*float32(s)
		bc.AddGuide(circle(z, c.rIn*0.5, colorHint))
	}
}

func (c *Compressor) Construct(bc *buildctx.Context) error {
	k := bc.Kernel()
	length := c.length.Value
	z0 := bc.Cursor

	bc.Assembly().Add(k.Pipe(kernel.PipeSpec{
		Z0:     float64(z0),
		Length: float64(length),
		Inner:  func(z float64) float64 { return float64(c.radius(float32(z)) - compressorWallMM) },
		Outer:  func(z float64) float64 { return float64(c.radius(float32(z))) },
	}))

	blades := bc.Solids()
	pitch := length / compressorStages
	for s := range compressorStages {
		zStage := z0 + pitch*float32(s) + 50
		r := c.radius(pitch * float32(s))
		hub := r * 0.3
		blades.AddBeam(axis(zStage-20), axis(zStage+20), float64(hub), float64(hub))
		for b := range compressorBlades {
			a := float32(b) / compressorBlades * 2 * math32.Pi
			blades.AddBeam(polar(a, hub, zStage), polar(a+0.2, r-5, zStage), 5, 2)
		}
	}
	return nil
}
