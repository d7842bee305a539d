// Package kernel defines the abstract geometry kernel interface.
// Implementations (sdfx, the kerneltest fake) provide solid modeling,
// boolean operations, offsetting, field sampling and meshing behind this
// interface. Construction strategies only ever call through it, which
// allows swapping backends without changing the rest of the system.
package kernel

import "math"

// Vec3 is a point or direction in model space (mm).
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Dot returns the dot product.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Length returns the Euclidean length.
func (v Vec3) Length() float64 { return math.Sqrt(v.Dot(v)) }

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max Vec3
}

// Size returns the extent along each axis.
func (b Box) Size() Vec3 { return b.Max.Sub(b.Min) }

// Center returns the midpoint of the box.
func (b Box) Center() Vec3 { return b.Min.Add(b.Max).Scale(0.5) }

// Contains reports whether p lies inside or on the box.
func (b Box) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Extend returns the smallest box containing both b and o.
func (b Box) Extend(o Box) Box {
	return Box{
		Min: Vec3{math.Min(b.Min.X, o.Min.X), math.Min(b.Min.Y, o.Min.Y), math.Min(b.Min.Z, o.Min.Z)},
		Max: Vec3{math.Max(b.Max.X, o.Max.X), math.Max(b.Max.Y, o.Max.Y), math.Max(b.Max.Z, o.Max.Z)},
	}
}

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation. A nil Solid is the
// empty solid.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Bounds returns the bounding box of s as a Box.
func Bounds(s Solid) Box {
	min, max := s.BoundingBox()
	return Box{
		Min: Vec3{min[0], min[1], min[2]},
		Max: Vec3{max[0], max[1], max[2]},
	}
}

// Field is a signed distance function: negative inside, positive outside.
type Field func(p Vec3) float64

// PipeSpec describes a body of revolution around the Z axis starting at
// Z0 and extending Length along +Z. Inner and Outer give the radii as a
// function of the local coordinate z in [0, Length]. A nil Inner means a
// solid (not annular) body.
type PipeSpec struct {
	Z0     float64
	Length float64
	Inner  func(z float64) float64
	Outer  func(z float64) float64
}

// Kernel is the abstract geometry kernel interface.
//
// Union, Difference and Intersection accept nil operands and treat them as
// the empty solid. Union and Intersection are commutative and associative.
// Offset by a negative distance produces geometry wholly contained in the
// input. SampleSDF never evaluates the field outside the given bounds.
type Kernel interface {
	// Primitives
	Box(b Box) Solid
	Sphere(center Vec3, radius float64) Solid
	Cylinder(a, b Vec3, radius float64) Solid
	Pipe(spec PipeSpec) Solid

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Modifiers
	Offset(s Solid, distance float64) Solid
	Smoothen(s Solid, radius float64) Solid
	Translate(s Solid, v Vec3) Solid

	// Batches and fields
	FromBatch(b *Batch) Solid
	SampleSDF(f Field, bounds Box) (Solid, error)

	// Mesh output
	ToMesh(s Solid, cells int) (*Mesh, error)
	Export(s Solid, path string, cells int) error
}
