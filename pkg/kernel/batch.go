package kernel

import (
	"cmp"
	"math"
	"slices"
)

// PrimitiveKind identifies the shape of a batched primitive.
type PrimitiveKind uint8

const (
	// KindSphere is a sphere centred on A with radius RA.
	KindSphere PrimitiveKind = iota
	// KindBeam is a rounded beam from A (radius RA) to B (radius RB).
	KindBeam
)

func (k PrimitiveKind) String() string {
	switch k {
	case KindSphere:
		return "sphere"
	case KindBeam:
		return "beam"
	default:
		return "unknown"
	}
}

// Primitive is one cheap shape request in a Batch.
type Primitive struct {
	Kind   PrimitiveKind
	A, B   Vec3
	RA, RB float64
}

// Bounds returns the bounding box of the primitive.
func (p Primitive) Bounds() Box {
	ra := Vec3{p.RA, p.RA, p.RA}
	b := Box{Min: p.A.Sub(ra), Max: p.A.Add(ra)}
	if p.Kind == KindBeam {
		rb := Vec3{p.RB, p.RB, p.RB}
		b = b.Extend(Box{Min: p.B.Sub(rb), Max: p.B.Add(rb)})
	}
	return b
}

// Distance returns the signed distance from q to the primitive surface.
// Beams are treated as cones with spherical end caps.
func (p Primitive) Distance(q Vec3) float64 {
	if p.Kind == KindSphere {
		return q.Sub(p.A).Length() - p.RA
	}
	ab := p.B.Sub(p.A)
	l2 := ab.Dot(ab)
	if l2 == 0 {
		return q.Sub(p.A).Length() - math.Max(p.RA, p.RB)
	}
	t := math.Max(0, math.Min(1, q.Sub(p.A).Dot(ab)/l2))
	closest := p.A.Add(ab.Scale(t))
	return q.Sub(closest).Length() - (p.RA + (p.RB-p.RA)*t)
}

func comparePrimitive(a, b Primitive) int {
	return cmp.Or(
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.A.X, b.A.X), cmp.Compare(a.A.Y, b.A.Y), cmp.Compare(a.A.Z, b.A.Z),
		cmp.Compare(a.B.X, b.B.X), cmp.Compare(a.B.Y, b.B.Y), cmp.Compare(a.B.Z, b.B.Z),
		cmp.Compare(a.RA, b.RA), cmp.Compare(a.RB, b.RB),
	)
}

// Batch is an unordered multiset of primitives voxelized in one go.
// The zero value is an empty batch ready to use. A nil *Batch reads as empty.
type Batch struct {
	prims []Primitive
}

// AddSphere adds a sphere to the batch. Non-positive radii are ignored.
func (b *Batch) AddSphere(center Vec3, radius float64) {
	if radius <= 0 {
		return
	}
	b.prims = append(b.prims, Primitive{Kind: KindSphere, A: center, B: center, RA: radius, RB: radius})
}

// AddBeam adds a beam from a to c with end radii ra and rc.
func (b *Batch) AddBeam(a, c Vec3, ra, rc float64) {
	if ra <= 0 && rc <= 0 {
		return
	}
	b.prims = append(b.prims, Primitive{Kind: KindBeam, A: a, B: c, RA: ra, RB: rc})
}

// Merge adds every primitive of o to b.
func (b *Batch) Merge(o *Batch) {
	if o == nil {
		return
	}
	b.prims = append(b.prims, o.prims...)
}

// Len returns the number of primitives.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.prims)
}

// Reset empties the batch.
func (b *Batch) Reset() { b.prims = b.prims[:0] }

// Clone returns an independent copy.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return &Batch{}
	}
	return &Batch{prims: slices.Clone(b.prims)}
}

// Translated returns a copy of the batch moved by v.
func (b *Batch) Translated(v Vec3) *Batch {
	out := b.Clone()
	for i := range out.prims {
		out.prims[i].A = out.prims[i].A.Add(v)
		out.prims[i].B = out.prims[i].B.Add(v)
	}
	return out
}

// Canonical returns the primitives sorted into a fixed total order, so two
// batches holding the same multiset yield identical slices regardless of
// insertion order.
func (b *Batch) Canonical() []Primitive {
	if b == nil {
		return nil
	}
	out := slices.Clone(b.prims)
	slices.SortFunc(out, comparePrimitive)
	return out
}

// Bounds returns the bounding box of all primitives. ok is false for an
// empty batch.
func (b *Batch) Bounds() (box Box, ok bool) {
	for i, p := range b.Canonical() {
		if i == 0 {
			box = p.Bounds()
			continue
		}
		box = box.Extend(p.Bounds())
	}
	return box, b.Len() > 0
}
