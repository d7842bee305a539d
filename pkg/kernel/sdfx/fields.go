package sdfx

import (
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/WiredGeist/CEM/pkg/kernel"
)

// Custom SDF3 implementations for the shapes sdfx has no direct constructor
// for. Each satisfies sdf.SDF3.

var (
	_ sdf.SDF3 = (*beamSDF)(nil)
	_ sdf.SDF3 = (*cylinderSDF)(nil)
	_ sdf.SDF3 = (*pipeSDF)(nil)
	_ sdf.SDF3 = (*latticeSDF)(nil)
	_ sdf.SDF3 = (*fieldSDF)(nil)
	_ sdf.SDF3 = (*offsetSDF)(nil)
	_ sdf.SDF3 = (*smoothSDF)(nil)
)

// boxDistance is the signed distance to an axis-aligned box.
func boxDistance(b kernel.Box, p kernel.Vec3) float64 {
	c := b.Center()
	h := b.Size().Scale(0.5)
	qx := math.Abs(p.X-c.X) - h.X
	qy := math.Abs(p.Y-c.Y) - h.Y
	qz := math.Abs(p.Z-c.Z) - h.Z
	outside := math.Sqrt(sq(math.Max(qx, 0)) + sq(math.Max(qy, 0)) + sq(math.Max(qz, 0)))
	inside := math.Min(math.Max(qx, math.Max(qy, qz)), 0)
	return outside + inside
}

func sq(v float64) float64 { return v * v }

// capped combines a radial and an axial distance into the distance to a
// flat-capped solid.
func capped(dr, dz float64) float64 {
	return math.Min(math.Max(dr, dz), 0) + math.Hypot(math.Max(dr, 0), math.Max(dz, 0))
}

// ----------------------------------------------------------------------------

// beamSDF is a single batch primitive.
type beamSDF struct {
	p kernel.Primitive
}

func (s *beamSDF) Evaluate(p v3.Vec) float64 { return s.p.Distance(fromV3(p)) }

func (s *beamSDF) BoundingBox() sdf.Box3 { return toBox3(s.p.Bounds()) }

// ----------------------------------------------------------------------------

type cylinderSDF struct {
	a, axis kernel.Vec3 // axis is unit length
	length  float64
	r       float64
	box     kernel.Box
}

func newCylinder(a, b kernel.Vec3, r float64) *cylinderSDF {
	d := b.Sub(a)
	l := d.Length()
	axis := kernel.Vec3{Z: 1}
	if l > 0 {
		axis = d.Scale(1 / l)
	}
	rv := kernel.Vec3{X: r, Y: r, Z: r}
	box := kernel.Box{Min: a.Sub(rv), Max: a.Add(rv)}.Extend(kernel.Box{Min: b.Sub(rv), Max: b.Add(rv)})
	return &cylinderSDF{a: a, axis: axis, length: l, r: r, box: box}
}

func (s *cylinderSDF) Evaluate(p v3.Vec) float64 {
	q := fromV3(p).Sub(s.a)
	t := q.Dot(s.axis)
	radial := q.Sub(s.axis.Scale(t)).Length() - s.r
	axial := math.Max(-t, t-s.length)
	return capped(radial, axial)
}

func (s *cylinderSDF) BoundingBox() sdf.Box3 { return toBox3(s.box) }

// ----------------------------------------------------------------------------

// pipeSamples is the number of profile samples used to size the bounding box.
const pipeSamples = 64

type pipeSDF struct {
	spec kernel.PipeSpec
	box  kernel.Box
}

func newPipe(spec kernel.PipeSpec) *pipeSDF {
	rmax := 0.0
	for i := 0; i <= pipeSamples; i++ {
		rmax = math.Max(rmax, spec.Outer(spec.Length*float64(i)/pipeSamples))
	}
	return &pipeSDF{
		spec: spec,
		box: kernel.Box{
			Min: kernel.Vec3{X: -rmax, Y: -rmax, Z: spec.Z0},
			Max: kernel.Vec3{X: rmax, Y: rmax, Z: spec.Z0 + spec.Length},
		},
	}
}

func (s *pipeSDF) Evaluate(p v3.Vec) float64 {
	z := p.Z - s.spec.Z0
	zc := math.Max(0, math.Min(s.spec.Length, z))
	rho := math.Hypot(p.X, p.Y)
	dr := rho - s.spec.Outer(zc)
	if s.spec.Inner != nil {
		dr = math.Max(dr, s.spec.Inner(zc)-rho)
	}
	dz := math.Max(-z, z-s.spec.Length)
	return capped(dr, dz)
}

func (s *pipeSDF) BoundingBox() sdf.Box3 { return toBox3(s.box) }

// ----------------------------------------------------------------------------

// latticeSDF is the minimum over canonically ordered primitives. Primitives
// whose box is farther than the current best are skipped; box distance is a
// lower bound on the primitive distance, so the result is exact.
type latticeSDF struct {
	prims []kernel.Primitive
	boxes []kernel.Box
	box   kernel.Box
}

func newLattice(prims []kernel.Primitive) *latticeSDF {
	l := &latticeSDF{prims: prims, boxes: make([]kernel.Box, len(prims))}
	for i, p := range prims {
		l.boxes[i] = p.Bounds()
		if i == 0 {
			l.box = l.boxes[i]
		} else {
			l.box = l.box.Extend(l.boxes[i])
		}
	}
	return l
}

func (s *latticeSDF) Evaluate(p v3.Vec) float64 {
	q := fromV3(p)
	best := math.Inf(1)
	for i, prim := range s.prims {
		if boxDistance(s.boxes[i], q) > best {
			continue
		}
		best = math.Min(best, prim.Distance(q))
	}
	return best
}

func (s *latticeSDF) BoundingBox() sdf.Box3 { return toBox3(s.box) }

// ----------------------------------------------------------------------------

type fieldSDF struct {
	f      kernel.Field
	bounds kernel.Box
}

func (s *fieldSDF) Evaluate(p v3.Vec) float64 {
	q := fromV3(p)
	d := boxDistance(s.bounds, q)
	if !s.bounds.Contains(q) {
		return d
	}
	return math.Max(s.f(q), d)
}

func (s *fieldSDF) BoundingBox() sdf.Box3 { return toBox3(s.bounds) }

// ----------------------------------------------------------------------------

type offsetSDF struct {
	s sdf.SDF3
	d float64
}

func (s *offsetSDF) Evaluate(p v3.Vec) float64 { return s.s.Evaluate(p) - s.d }

func (s *offsetSDF) BoundingBox() sdf.Box3 {
	bb := s.s.BoundingBox()
	g := v3.Vec{X: s.d, Y: s.d, Z: s.d}
	if s.d < 0 {
		return bb
	}
	return sdf.Box3{Min: bb.Min.Sub(g), Max: bb.Max.Add(g)}
}

// ----------------------------------------------------------------------------

// smoothSDF averages the field over the centre and six axis neighbours at
// distance r.
type smoothSDF struct {
	s sdf.SDF3
	r float64
}

func (s *smoothSDF) Evaluate(p v3.Vec) float64 {
	sum := s.s.Evaluate(p)
	for _, d := range []v3.Vec{
		{X: s.r}, {X: -s.r}, {Y: s.r}, {Y: -s.r}, {Z: s.r}, {Z: -s.r},
	} {
		sum += s.s.Evaluate(p.Add(d))
	}
	return sum / 7
}

func (s *smoothSDF) BoundingBox() sdf.Box3 {
	bb := s.s.BoundingBox()
	g := v3.Vec{X: s.r, Y: s.r, Z: s.r}
	return sdf.Box3{Min: bb.Min.Sub(g), Max: bb.Max.Add(g)}
}
