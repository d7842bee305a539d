package generative

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/param"
)

const (
	cellSize   = 5.0 // mm per cell
	cellRadius = cellSize * 0.7
)

// Grid is a cubic boolean grid.
type Grid struct {
	N     int
	cells []bool
}

// NewGrid returns an empty n³ grid.
func NewGrid(n int) *Grid {
	return &Grid{N: n, cells: make([]bool, n*n*n)}
}

func (g *Grid) index(x, y, z int) int { return (x*g.N+y)*g.N + z }

// Alive reports the state of a cell.
func (g *Grid) Alive(x, y, z int) bool { return g.cells[g.index(x, y, z)] }

// Set sets the state of a cell.
func (g *Grid) Set(x, y, z int, alive bool) { g.cells[g.index(x, y, z)] = alive }

// Count returns the number of live cells.
func (g *Grid) Count() int {
	n := 0
	for _, c := range g.cells {
		if c {
			n++
		}
	}
	return n
}

// Seed fills the central half-extent cube with live cells at the given
// density, drawing from a PCG source seeded with seed.
func (g *Grid) Seed(seed uint64, density float64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	h, q := g.N/2, g.N/4
	for x := range g.N {
		for y := range g.N {
			for z := range g.N {
				if abs(x-h) < q && abs(y-h) < q && abs(z-h) < q && rng.Float64() < density {
					g.Set(x, y, z, true)
				}
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (g *Grid) neighbours(x, y, z int) int {
	n := 0
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if (dx != 0 || dy != 0 || dz != 0) && g.Alive(x+dx, y+dy, z+dz) {
					n++
				}
			}
		}
	}
	return n
}

// rule is the 4-6/6 life rule: a live cell survives with 4 to 6 live
// neighbours, a dead cell is born with exactly 6.
func rule(alive bool, n int) bool {
	if alive {
		return n >= 4 && n <= 6
	}
	return n == 6
}

// step writes the next generation of cur into next for the x slices
// [x0, x1). Boundary cells are always dead.
func step(cur, next *Grid, x0, x1 int) {
	n := cur.N
	for x := x0; x < x1; x++ {
		for y := range n {
			for z := range n {
				if x == 0 || y == 0 || z == 0 || x == n-1 || y == n-1 || z == n-1 {
					next.Set(x, y, z, false)
					continue
				}
				next.Set(x, y, z, rule(cur.Alive(x, y, z), cur.neighbours(x, y, z)))
			}
		}
	}
}

// Evolve runs the given number of generations with workers goroutines,
// each owning a band of x slices. Every generation reads only the previous
// buffer and ends at a barrier before the buffers swap, so the result does
// not depend on the worker count. ctx is checked between generations.
func Evolve(ctx context.Context, g *Grid, generations, workers int) (*Grid, error) {
	workers = max(1, min(workers, g.N))
	cur, next := g, NewGrid(g.N)
	band := (g.N + workers - 1) / workers
	for range generations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var wg sync.WaitGroup
		for x0 := 0; x0 < g.N; x0 += band {
			wg.Add(1)
			go func(x0, x1 int) {
				defer wg.Done()
				step(cur, next, x0, x1)
			}(x0, min(x0+band, g.N))
		}
		wg.Wait()
		cur, next = next, cur
	}
	return cur, nil
}

// Automata grows a structure with a 3D cellular automaton and emits one
// sphere per live cell into the global solids batch.
type Automata struct {
	graph.Base
	size       *param.Parameter
	iterations *param.Parameter
	density    *param.Parameter
	seed       *param.Parameter

	// Workers is the number of goroutines per generation. Zero means
	// GOMAXPROCS.
	Workers int

	live int
}

// NewAutomata returns a cellular automaton with default parameters.
func NewAutomata() *Automata {
	return &Automata{
		size:       param.New("Grid Size", 50, 20, 80, nil),
		iterations: param.New("Iterations", 10, 1, 25, nil),
		density:    param.New("Seed Density (%)", 20, 5, 50, nil),
		seed:       param.New("Seed", 1, 0, 9999, nil),
	}
}

func (a *Automata) Kind() string { return KindAutomata }

func (a *Automata) Parameters() []*param.Parameter {
	return []*param.Parameter{a.size, a.iterations, a.density, a.seed}
}

func (a *Automata) bounds(z0 float32) kernel.Box {
	ext := float64(int(a.size.Value)) * cellSize
	return kernel.Box{
		Min: kernel.Vec3{Z: float64(z0)},
		Max: kernel.Vec3{X: ext, Y: ext, Z: float64(z0) + ext},
	}
}

func (a *Automata) Preview(bc *buildctx.Context) {
	boxGuides(bc, a.bounds(bc.Cursor))
}

func (a *Automata) Construct(bc *buildctx.Context) error {
	g := NewGrid(int(a.size.Value))
	g.Seed(uint64(a.seed.Value), float64(a.density.Value)/100)

	workers := a.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, err := Evolve(bc.Context(), g, int(a.iterations.Value), workers)
	if err != nil {
		return err
	}

	z0 := float64(bc.Cursor)
	solids := bc.Solids()
	a.live = 0
	for x := range g.N {
		for y := range g.N {
			for z := range g.N {
				if !g.Alive(x, y, z) {
					continue
				}
				a.live++
				c := kernel.Vec3{X: float64(x), Y: float64(y), Z: float64(z)}.Scale(cellSize)
				solids.AddSphere(c.Add(kernel.Vec3{Z: z0}), cellRadius)
			}
		}
	}
	bc.Logger().Debug("automata grown", "cells", a.live, "generations", int(a.iterations.Value))
	return nil
}

// Results reports the live cells of the last construction.
func (a *Automata) Results() []graph.Result {
	return []graph.Result{{Label: "Live cells", Value: float32(a.live)}}
}
