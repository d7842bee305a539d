// Package kerneltest provides a deterministic symbolic kernel.Kernel for
// tests. Solids are canonical expression strings: union flattens, sorts and
// deduplicates its operands, so two solids are set-equal exactly when their
// expressions are equal. Every call is counted.
package kerneltest

import (
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/WiredGeist/CEM/pkg/kernel"
)

// Compile-time interface check.
var _ kernel.Kernel = (*Kernel)(nil)

// Solid is a symbolic solid.
type Solid struct {
	expr  string
	terms []string // non-nil only for unions
	box   kernel.Box
}

// BoundingBox returns the axis-aligned bounding box.
func (s *Solid) BoundingBox() (min, max [3]float64) {
	return [3]float64{s.box.Min.X, s.box.Min.Y, s.box.Min.Z},
		[3]float64{s.box.Max.X, s.box.Max.Y, s.box.Max.Z}
}

// Expr returns the canonical expression.
func (s *Solid) Expr() string { return s.expr }

// String implements fmt.Stringer.
func (s *Solid) String() string { return s.expr }

// Expr returns the canonical expression of s, or "empty" for nil.
func Expr(s kernel.Solid) string {
	if s == nil {
		return "empty"
	}
	return s.(*Solid).expr
}

// Kernel is the fake kernel. The zero value is ready to use.
type Kernel struct {
	mu    sync.Mutex
	calls map[string]int

	// FieldSamples is the sampling grid resolution per axis used by
	// SampleSDF to fingerprint a field.
	FieldSamples int

	// OutOfBounds counts field evaluations outside the requested bounds.
	// SampleSDF never produces any; the counter exists so tests can assert
	// that.
	OutOfBounds int
}

// New returns a fake kernel.
func New() *Kernel { return &Kernel{} }

func (k *Kernel) count(op string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.calls == nil {
		k.calls = make(map[string]int)
	}
	k.calls[op]++
}

// Calls returns how many times op was invoked.
func (k *Kernel) Calls(op string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls[op]
}

// ResetCalls clears the call counters.
func (k *Kernel) ResetCalls() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = nil
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }

func vec(v kernel.Vec3) string { return num(v.X) + " " + num(v.Y) + " " + num(v.Z) }

func leaf(expr string, box kernel.Box) *Solid { return &Solid{expr: expr, box: box} }

func unwrap(s kernel.Solid) *Solid {
	if s == nil {
		return nil
	}
	return s.(*Solid)
}

// ----------------------------------------------------------------------------
// Primitives

// Box returns an axis-aligned box.
func (k *Kernel) Box(b kernel.Box) kernel.Solid {
	k.count("Box")
	return leaf("box("+vec(b.Min)+"; "+vec(b.Max)+")", b)
}

// Sphere returns a sphere.
func (k *Kernel) Sphere(c kernel.Vec3, r float64) kernel.Solid {
	k.count("Sphere")
	rv := kernel.Vec3{X: r, Y: r, Z: r}
	return leaf("sphere("+vec(c)+"; "+num(r)+")", kernel.Box{Min: c.Sub(rv), Max: c.Add(rv)})
}

// Cylinder returns a flat-capped cylinder from a to b.
func (k *Kernel) Cylinder(a, b kernel.Vec3, r float64) kernel.Solid {
	k.count("Cylinder")
	rv := kernel.Vec3{X: r, Y: r, Z: r}
	box := kernel.Box{Min: a.Sub(rv), Max: a.Add(rv)}.Extend(kernel.Box{Min: b.Sub(rv), Max: b.Add(rv)})
	return leaf("cylinder("+vec(a)+"; "+vec(b)+"; "+num(r)+")", box)
}

// Pipe returns a body of revolution. The radius functions are sampled at
// the start, middle and end so the expression changes with the profile.
func (k *Kernel) Pipe(spec kernel.PipeSpec) kernel.Solid {
	k.count("Pipe")
	var sb strings.Builder
	fmt.Fprintf(&sb, "pipe(%s %s;", num(spec.Z0), num(spec.Length))
	rmax := 0.0
	for _, z := range []float64{0, spec.Length / 2, spec.Length} {
		ro := spec.Outer(z)
		rmax = math.Max(rmax, ro)
		ri := 0.0
		if spec.Inner != nil {
			ri = spec.Inner(z)
		}
		fmt.Fprintf(&sb, " %s/%s", num(ri), num(ro))
	}
	sb.WriteString(")")
	box := kernel.Box{
		Min: kernel.Vec3{X: -rmax, Y: -rmax, Z: spec.Z0},
		Max: kernel.Vec3{X: rmax, Y: rmax, Z: spec.Z0 + spec.Length},
	}
	return leaf(sb.String(), box)
}

// ----------------------------------------------------------------------------
// Booleans

// Union returns the set-union of a and b.
func (k *Kernel) Union(a, b kernel.Solid) kernel.Solid {
	k.count("Union")
	sa, sb := unwrap(a), unwrap(b)
	switch {
	case sa == nil:
		return b
	case sb == nil:
		return a
	}
	terms := append(sa.unionTerms(), sb.unionTerms()...)
	slices.Sort(terms)
	terms = slices.Compact(terms)
	if len(terms) == 1 {
		return sa
	}
	return &Solid{
		expr:  "union(" + strings.Join(terms, ", ") + ")",
		terms: terms,
		box:   sa.box.Extend(sb.box),
	}
}

func (s *Solid) unionTerms() []string {
	if s.terms != nil {
		return slices.Clone(s.terms)
	}
	return []string{s.expr}
}

// Difference returns a minus b.
func (k *Kernel) Difference(a, b kernel.Solid) kernel.Solid {
	k.count("Difference")
	sa, sb := unwrap(a), unwrap(b)
	switch {
	case sa == nil:
		return nil
	case sb == nil:
		return a
	}
	return leaf("diff("+sa.expr+", "+sb.expr+")", sa.box)
}

// Intersection returns the intersection of a and b.
func (k *Kernel) Intersection(a, b kernel.Solid) kernel.Solid {
	k.count("Intersection")
	sa, sb := unwrap(a), unwrap(b)
	if sa == nil || sb == nil {
		return nil
	}
	pair := []string{sa.expr, sb.expr}
	slices.Sort(pair)
	box := kernel.Box{
		Min: kernel.Vec3{X: math.Max(sa.box.Min.X, sb.box.Min.X), Y: math.Max(sa.box.Min.Y, sb.box.Min.Y), Z: math.Max(sa.box.Min.Z, sb.box.Min.Z)},
		Max: kernel.Vec3{X: math.Min(sa.box.Max.X, sb.box.Max.X), Y: math.Min(sa.box.Max.Y, sb.box.Max.Y), Z: math.Min(sa.box.Max.Z, sb.box.Max.Z)},
	}
	return leaf("intersect("+pair[0]+", "+pair[1]+")", box)
}

// ----------------------------------------------------------------------------
// Modifiers

// Offset grows (d > 0) or shrinks (d < 0) a solid.
func (k *Kernel) Offset(s kernel.Solid, d float64) kernel.Solid {
	k.count("Offset")
	ss := unwrap(s)
	if ss == nil {
		return nil
	}
	dv := kernel.Vec3{X: d, Y: d, Z: d}
	return leaf("offset("+num(d)+", "+ss.expr+")", kernel.Box{Min: ss.box.Min.Sub(dv), Max: ss.box.Max.Add(dv)})
}

// Smoothen returns a smoothed copy.
func (k *Kernel) Smoothen(s kernel.Solid, r float64) kernel.Solid {
	k.count("Smoothen")
	ss := unwrap(s)
	if ss == nil {
		return nil
	}
	return leaf("smooth("+num(r)+", "+ss.expr+")", ss.box)
}

// Translate moves a solid by v.
func (k *Kernel) Translate(s kernel.Solid, v kernel.Vec3) kernel.Solid {
	k.count("Translate")
	ss := unwrap(s)
	if ss == nil {
		return nil
	}
	if v == (kernel.Vec3{}) {
		return s
	}
	return leaf("move("+vec(v)+", "+ss.expr+")", kernel.Box{Min: ss.box.Min.Add(v), Max: ss.box.Max.Add(v)})
}

// ----------------------------------------------------------------------------
// Batches and fields

// FromBatch returns the union of every primitive in the batch, nil for an
// empty batch.
func (k *Kernel) FromBatch(b *kernel.Batch) kernel.Solid {
	k.count("FromBatch")
	prims := b.Canonical()
	if len(prims) == 0 {
		return nil
	}
	parts := make([]string, len(prims))
	for i, p := range prims {
		parts[i] = p.Kind.String() + "(" + vec(p.A) + "; " + vec(p.B) + "; " + num(p.RA) + " " + num(p.RB) + ")"
	}
	box, _ := b.Bounds()
	return leaf("batch("+strings.Join(parts, ", ")+")", box)
}

// SampleSDF fingerprints the field on a grid strictly inside the bounds.
func (k *Kernel) SampleSDF(f kernel.Field, bounds kernel.Box) (kernel.Solid, error) {
	k.count("SampleSDF")
	size := bounds.Size()
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil, fmt.Errorf("sample sdf: degenerate bounds %v", bounds)
	}
	n := k.FieldSamples
	if n <= 0 {
		n = 4
	}
	var inside int
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for l := 0; l < n; l++ {
				p := kernel.Vec3{
					X: bounds.Min.X + size.X*(float64(i)+0.5)/float64(n),
					Y: bounds.Min.Y + size.Y*(float64(j)+0.5)/float64(n),
					Z: bounds.Min.Z + size.Z*(float64(l)+0.5)/float64(n),
				}
				if !bounds.Contains(p) {
					k.mu.Lock()
					k.OutOfBounds++
					k.mu.Unlock()
					continue
				}
				if f(p) < 0 {
					inside++
				}
			}
		}
	}
	if inside == 0 {
		return nil, nil
	}
	return leaf(fmt.Sprintf("field(%s; %s; %d/%d)", vec(bounds.Min), vec(bounds.Max), inside, n*n*n), bounds), nil
}

// ----------------------------------------------------------------------------
// Mesh output

// ToMesh returns the bounding box of s as a 12-triangle mesh labelled with
// the solid's expression. The empty solid yields an empty mesh.
func (k *Kernel) ToMesh(s kernel.Solid, cells int) (*kernel.Mesh, error) {
	k.count("ToMesh")
	ss := unwrap(s)
	if ss == nil {
		return &kernel.Mesh{}, nil
	}
	lo, hi := ss.box.Min, ss.box.Max
	corners := []kernel.Vec3{
		{X: lo.X, Y: lo.Y, Z: lo.Z}, {X: hi.X, Y: lo.Y, Z: lo.Z}, {X: hi.X, Y: hi.Y, Z: lo.Z}, {X: lo.X, Y: hi.Y, Z: lo.Z},
		{X: lo.X, Y: lo.Y, Z: hi.Z}, {X: hi.X, Y: lo.Y, Z: hi.Z}, {X: hi.X, Y: hi.Y, Z: hi.Z}, {X: lo.X, Y: hi.Y, Z: hi.Z},
	}
	m := &kernel.Mesh{Label: ss.expr}
	for _, c := range corners {
		m.Vertices = append(m.Vertices, float32(c.X), float32(c.Y), float32(c.Z))
		m.Normals = append(m.Normals, 0, 0, 0)
	}
	m.Indices = []uint32{
		0, 2, 1, 0, 3, 2, 4, 5, 6, 4, 6, 7,
		0, 1, 5, 0, 5, 4, 2, 3, 7, 2, 7, 6,
		1, 2, 6, 1, 6, 5, 0, 4, 7, 0, 7, 3,
	}
	return m, nil
}

// Export writes the solid's expression to path.
func (k *Kernel) Export(s kernel.Solid, path string, cells int) error {
	k.count("Export")
	ss := unwrap(s)
	if ss == nil {
		return fmt.Errorf("export %s: empty solid", path)
	}
	return os.WriteFile(path, []byte(ss.expr+"\n"), 0o644)
}
