package kernel

// Accumulator collects booleans against a running solid. The zero solid is
// empty, so the first Add simply adopts its operand.
type Accumulator struct {
	k Kernel
	s Solid
}

// NewAccumulator returns an empty accumulator backed by k.
func NewAccumulator(k Kernel) *Accumulator {
	return &Accumulator{k: k}
}

// Add unions s into the accumulator.
func (a *Accumulator) Add(s Solid) {
	switch {
	case s == nil:
	case a.s == nil:
		a.s = s
	default:
		a.s = a.k.Union(a.s, s)
	}
}

// Subtract removes s from the accumulator.
func (a *Accumulator) Subtract(s Solid) {
	if s == nil || a.s == nil {
		return
	}
	a.s = a.k.Difference(a.s, s)
}

// Intersect clips the accumulator to s. Intersecting with the empty solid
// empties the accumulator.
func (a *Accumulator) Intersect(s Solid) {
	if a.s == nil {
		return
	}
	if s == nil {
		a.s = nil
		return
	}
	a.s = a.k.Intersection(a.s, s)
}

// Solid returns the accumulated solid, nil when empty.
func (a *Accumulator) Solid() Solid { return a.s }

// Empty reports whether nothing has been accumulated.
func (a *Accumulator) Empty() bool { return a.s == nil }

// Reset discards the accumulated solid.
func (a *Accumulator) Reset() { a.s = nil }
