// Package propulsion provides the turbojet components: an assembly root and
// the axial stages it is made of. Stages size themselves in Setup from the
// incoming handshake radius and the values the root publishes, and pass
// their exit radius on to the next stage.
package propulsion

import (
	"github.com/chewxy/math32"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
)

// Component kinds.
const (
	KindTurbojet   = "turbojet"
	KindInlet      = "inlet"
	KindCompressor = "compressor"
	KindCombustor  = "combustor"
	KindTurbine    = "turbine"
	KindNozzle     = "nozzle"
	KindCooling    = "cooling"
)

// Registry keys.
const (
	// KeyMainDia is the engine diameter in mm (float32).
	KeyMainDia = "MainDia"
	// KeyReqThrust is the required thrust in N (float32).
	KeyReqThrust = "ReqThrust"
	// KeyCompressorWall is the compressor casing mid-wall radius as a
	// function of absolute z (buildctx.ScalarFunc).
	KeyCompressorWall = "CompressorWall"
	// KeyCompressorSpan is the absolute [start, end] z range of the
	// compressor casing ([2]float32).
	KeyCompressorSpan = "CompressorSpan"
)

// Preview colours.
const (
	colorInlet   = "blue"
	colorOutlet  = "red"
	colorOutline = "steel"
	colorHint    = "warning"
)

// Register adds every propulsion component to c.
func Register(c *graph.Catalog) {
	c.Register(KindTurbojet, "Turbojet Assembly", func() graph.Strategy { return NewTurbojet() })
	c.Register(KindInlet, "Inlet", func() graph.Strategy { return NewInlet() })
	c.Register(KindCompressor, "Axial Compressor", func() graph.Strategy { return NewCompressor() })
	c.Register(KindCombustor, "Annular Combustor", func() graph.Strategy { return NewCombustor() })
	c.Register(KindTurbine, "Turbine", func() graph.Strategy { return NewTurbine() })
	c.Register(KindNozzle, "Exhaust Nozzle", func() graph.Strategy { return NewNozzle() })
	c.Register(KindCooling, "Regenerative Cooling", func() graph.Strategy { return NewCooling() })
}

// incoming returns the handshake radius, or def when no upstream stage set
// one.
func incoming(bc *buildctx.Context, def float32) float32 {
	if bc.Handshake > 0 {
		return bc.Handshake
	}
	return def
}

func axis(z float32) kernel.Vec3 { return kernel.Vec3{Z: float64(z)} }

func polar(angle, r, z float32) kernel.Vec3 {
	return kernel.Vec3{
		X: float64(math32.Cos(angle) * r),
		Y: float64(math32.Sin(angle) * r),
		Z: float64(z),
	}
}

func circle(z, r float32, color string) buildctx.Guide {
	return buildctx.Guide{Kind: buildctx.GuideCircle, A: axis(z), Radius: float64(r), Color: color}
}

func line(a, b kernel.Vec3, color string) buildctx.Guide {
	return buildctx.Guide{Kind: buildctx.GuideLine, A: a, B: b, Color: color}
}

// shell hollows s into a closed skin of the given wall thickness.
func shell(k kernel.Kernel, s kernel.Solid, wall float64) kernel.Solid {
	return k.Difference(s, k.Offset(s, -wall))
}

// annulus is a pipe of constant radii along [z0, z0+length].
func annulus(z0, length, inner, outer float32) kernel.PipeSpec {
	return kernel.PipeSpec{
		Z0:     float64(z0),
		Length: float64(length),
		Inner:  func(float64) float64 { return float64(inner) },
		Outer:  func(float64) float64 { return float64(outer) },
	}
}
