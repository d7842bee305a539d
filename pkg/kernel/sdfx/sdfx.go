// Package sdfx implements the kernel.Kernel interface using the
// github.com/deadsy/sdfx SDF-based CAD library.
package sdfx

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/WiredGeist/CEM/pkg/kernel"
)

// Compile-time interface check.
var _ kernel.Kernel = (*SdfxKernel)(nil)

// DefaultMeshCells controls marching cubes tessellation resolution when the
// caller passes a non-positive cell count.
const DefaultMeshCells = 200

// ErrEmptySolid is returned when exporting the empty solid.
var ErrEmptySolid = errors.New("sdfx: empty solid")

// sdfxSolid wraps an sdf.SDF3 to implement kernel.Solid.
type sdfxSolid struct {
	s sdf.SDF3
}

// BoundingBox returns the axis-aligned bounding box.
func (s *sdfxSolid) BoundingBox() (min, max [3]float64) {
	bb := s.s.BoundingBox()
	min = [3]float64{bb.Min.X, bb.Min.Y, bb.Min.Z}
	max = [3]float64{bb.Max.X, bb.Max.Y, bb.Max.Z}
	return min, max
}

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct{}

// New returns a new SdfxKernel.
func New() *SdfxKernel {
	return &SdfxKernel{}
}

// unwrap extracts the underlying sdf.SDF3 from a kernel.Solid. The empty
// solid unwraps to nil.
func unwrap(s kernel.Solid) sdf.SDF3 {
	if s == nil {
		return nil
	}
	return s.(*sdfxSolid).s
}

// wrap creates a kernel.Solid from an sdf.SDF3.
func wrap(s sdf.SDF3) kernel.Solid {
	if s == nil {
		return nil
	}
	return &sdfxSolid{s: s}
}

func toV3(v kernel.Vec3) v3.Vec { return v3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

func fromV3(v v3.Vec) kernel.Vec3 { return kernel.Vec3{X: v.X, Y: v.Y, Z: v.Z} }

func toBox3(b kernel.Box) sdf.Box3 { return sdf.Box3{Min: toV3(b.Min), Max: toV3(b.Max)} }

// ----------------------------------------------------------------------------
// Primitives

// Box creates an axis-aligned box spanning b. sdf.Box3D centres the box on
// the origin, so it is translated onto b's centre.
func (k *SdfxKernel) Box(b kernel.Box) kernel.Solid {
	s, err := sdf.Box3D(toV3(b.Size()), 0)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Box3D: %v", err))
	}
	return wrap(sdf.Transform3D(s, sdf.Translate3d(toV3(b.Center()))))
}

// Sphere creates a sphere.
func (k *SdfxKernel) Sphere(center kernel.Vec3, radius float64) kernel.Solid {
	return wrap(&beamSDF{p: kernel.Primitive{Kind: kernel.KindSphere, A: center, B: center, RA: radius, RB: radius}})
}

// Cylinder creates a flat-capped cylinder whose axis runs from a to b.
func (k *SdfxKernel) Cylinder(a, b kernel.Vec3, radius float64) kernel.Solid {
	return wrap(newCylinder(a, b, radius))
}

// Pipe creates a body of revolution around Z.
func (k *SdfxKernel) Pipe(spec kernel.PipeSpec) kernel.Solid {
	return wrap(newPipe(spec))
}

// ----------------------------------------------------------------------------
// Boolean operations

// Union returns the union of two solids.
func (k *SdfxKernel) Union(a, b kernel.Solid) kernel.Solid {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return wrap(sdf.Union3D(unwrap(a), unwrap(b)))
}

// Difference returns the difference a - b.
func (k *SdfxKernel) Difference(a, b kernel.Solid) kernel.Solid {
	switch {
	case a == nil:
		return nil
	case b == nil:
		return a
	}
	return wrap(sdf.Difference3D(unwrap(a), unwrap(b)))
}

// Intersection returns the intersection of two solids.
func (k *SdfxKernel) Intersection(a, b kernel.Solid) kernel.Solid {
	if a == nil || b == nil {
		return nil
	}
	return wrap(sdf.Intersect3D(unwrap(a), unwrap(b)))
}

// ----------------------------------------------------------------------------
// Modifiers

// Offset grows (d > 0) or shrinks (d < 0) a solid by shifting its
// iso-surface.
func (k *SdfxKernel) Offset(s kernel.Solid, d float64) kernel.Solid {
	if s == nil {
		return nil
	}
	return wrap(&offsetSDF{s: unwrap(s), d: d})
}

// Smoothen low-pass filters the distance field over radius r.
func (k *SdfxKernel) Smoothen(s kernel.Solid, r float64) kernel.Solid {
	if s == nil || r <= 0 {
		return s
	}
	return wrap(&smoothSDF{s: unwrap(s), r: r})
}

// Translate moves a solid by v.
func (k *SdfxKernel) Translate(s kernel.Solid, v kernel.Vec3) kernel.Solid {
	if s == nil {
		return nil
	}
	if v == (kernel.Vec3{}) {
		return s
	}
	return wrap(sdf.Transform3D(unwrap(s), sdf.Translate3d(toV3(v))))
}

// ----------------------------------------------------------------------------
// Batches and fields

// FromBatch builds one lattice SDF over the whole batch. Primitives are put
// into canonical order first so the field, and therefore the mesh, does not
// depend on insertion order.
func (k *SdfxKernel) FromBatch(b *kernel.Batch) kernel.Solid {
	prims := b.Canonical()
	if len(prims) == 0 {
		return nil
	}
	return wrap(newLattice(prims))
}

// SampleSDF wraps an arbitrary field. Points outside bounds get the box
// distance and never reach f.
func (k *SdfxKernel) SampleSDF(f kernel.Field, bounds kernel.Box) (kernel.Solid, error) {
	size := bounds.Size()
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil, fmt.Errorf("sample sdf: degenerate bounds %v", bounds)
	}
	if f == nil {
		return nil, errors.New("sample sdf: nil field")
	}
	return wrap(&fieldSDF{f: f, bounds: bounds}), nil
}

// ----------------------------------------------------------------------------
// Mesh output

func triangles(s sdf.SDF3, cells int) []*sdf.Triangle3 {
	if cells <= 0 {
		cells = DefaultMeshCells
	}
	renderer := render.NewMarchingCubesUniform(cells)
	return render.ToTriangles(s, renderer)
}

// ToMesh converts a solid to a triangle mesh using marching cubes.
func (k *SdfxKernel) ToMesh(s kernel.Solid, cells int) (*kernel.Mesh, error) {
	if s == nil {
		return &kernel.Mesh{}, nil
	}
	tris := triangles(unwrap(s), cells)

	numTri := len(tris)
	numVerts := numTri * 3

	vertices := make([]float32, 0, numVerts*3)
	normals := make([]float32, 0, numVerts*3)
	indices := make([]uint32, 0, numVerts)

	for i, tri := range tris {
		n := tri.Normal()
		nx := float32(n.X)
		ny := float32(n.Y)
		nz := float32(n.Z)

		for j := 0; j < 3; j++ {
			v := tri[j]
			vertices = append(vertices, float32(v.X), float32(v.Y), float32(v.Z))
			normals = append(normals, nx, ny, nz)
			indices = append(indices, uint32(i*3+j))
		}
	}

	return &kernel.Mesh{
		Vertices: vertices,
		Normals:  normals,
		Indices:  indices,
	}, nil
}

// Export meshes the solid and writes it to path. The format is chosen by
// extension: .3mf writes 3MF, anything else STL.
func (k *SdfxKernel) Export(s kernel.Solid, path string, cells int) error {
	if s == nil {
		return fmt.Errorf("export %s: %w", path, ErrEmptySolid)
	}
	tris := triangles(unwrap(s), cells)
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".3mf":
		err = save3MF(path, tris)
	default:
		err = render.SaveSTL(path, tris)
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}
