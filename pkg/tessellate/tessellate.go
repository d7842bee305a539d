// Package tessellate performs the end-of-pass compositing of an assembly and
// turns solids into triangle meshes at the configured voxel resolution.
package tessellate

import (
	"fmt"
	"math"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
)

// Mesh cell count bounds.
const (
	MinCells = 16
	MaxCells = 400
)

// Axis selects a coordinate axis.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// Section is the cutaway (slicer) view: when active, everything beyond
// Offset along Axis is removed from the displayed result.
type Section struct {
	Active bool
	Axis   Axis
	Offset float64
}

// cutter returns the half-space box removed by the section, sized to cover
// bounds with some margin.
func (s Section) cutter(k kernel.Kernel, bounds kernel.Box) kernel.Solid {
	const margin = 10
	b := kernel.Box{
		Min: bounds.Min.Sub(kernel.Vec3{X: margin, Y: margin, Z: margin}),
		Max: bounds.Max.Add(kernel.Vec3{X: margin, Y: margin, Z: margin}),
	}
	switch s.Axis {
	case AxisX:
		b.Min.X = s.Offset
	case AxisY:
		b.Min.Y = s.Offset
	default:
		b.Min.Z = s.Offset
	}
	if b.Min.X >= b.Max.X || b.Min.Y >= b.Max.Y || b.Min.Z >= b.Max.Z {
		return nil
	}
	return k.Box(b)
}

// Composite applies the deferred work of a pass to its assembly: the solids
// batch is unioned in, then the voids batch, the post-process cuts and
// finally the section cutter are subtracted. Each batch is voxelized once.
func Composite(bc *buildctx.Context, section Section) kernel.Solid {
	k := bc.Kernel()
	acc := kernel.NewAccumulator(k)
	acc.Add(bc.Assembly().Solid())
	acc.Add(k.FromBatch(bc.Solids()))
	acc.Subtract(k.FromBatch(bc.Voids()))
	acc.Subtract(bc.Cuts().Solid())
	return section.Cut(k, acc.Solid())
}

// Cut removes the section cutter from s. An inactive section returns s
// unchanged.
func (s Section) Cut(k kernel.Kernel, solid kernel.Solid) kernel.Solid {
	if !s.Active || solid == nil {
		return solid
	}
	c := s.cutter(k, kernel.Bounds(solid))
	if c == nil {
		return solid
	}
	return k.Difference(solid, c)
}

// Cells returns the marching-cubes cell count that gives roughly one cell
// per resolution step across the largest extent of s.
func Cells(s kernel.Solid, resolution float64) int {
	if s == nil || !(resolution > 0) || math.IsInf(resolution, 1) {
		return MinCells
	}
	size := kernel.Bounds(s).Size()
	extent := math.Max(size.X, math.Max(size.Y, size.Z))
	cells := int(math.Ceil(extent / resolution))
	return max(MinCells, min(MaxCells, cells))
}

// Mesh meshes s at the given voxel resolution.
func Mesh(k kernel.Kernel, s kernel.Solid, resolution float64, label string) (*kernel.Mesh, error) {
	m, err := k.ToMesh(s, Cells(s, resolution))
	if err != nil {
		return nil, fmt.Errorf("tessellate %s: %w", label, err)
	}
	m.Label = label
	return m, nil
}

// Parts meshes the cached geometry of every enabled node separately, at the
// node's current start position. Nodes without geometry are skipped. The
// tree is not modified.
func Parts(t *graph.Tree, k kernel.Kernel, resolution float64) ([]*kernel.Mesh, error) {
	var meshes []*kernel.Mesh
	var err error
	t.Walk(func(n *graph.Node) bool {
		if err != nil || !n.Enabled() {
			return false
		}
		c := n.Cache()
		if c == nil || c.Geometry == nil {
			return true
		}
		s := c.Geometry
		if dz := float64(n.StartPosition() - c.Start); dz != 0 {
			s = k.Translate(s, kernel.Vec3{Z: dz})
		}
		var m *kernel.Mesh
		m, err = Mesh(k, s, resolution, n.Name)
		if err == nil {
			meshes = append(meshes, m)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return meshes, nil
}
