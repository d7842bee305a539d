package generative

import (
	"math"
	"strings"

	"github.com/WiredGeist/CEM/pkg/buildctx"
	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/param"
)

// Plant grammar.
const plantAxiom = "X"

var plantRules = map[rune]string{
	'X': "F-[[X]+X]+F[+FX]-X",
	'F': "FF",
}

// Expand rewrites axiom n times with rules. Symbols without a rule are
// copied.
func Expand(axiom string, rules map[rune]string, n int) string {
	cur := axiom
	var sb strings.Builder
	for range n {
		sb.Reset()
		for _, c := range cur {
			if r, ok := rules[c]; ok {
				sb.WriteString(r)
			} else {
				sb.WriteRune(c)
			}
		}
		cur = sb.String()
	}
	return cur
}

// frame is the turtle's position and orthonormal orientation.
type frame struct {
	pos                kernel.Vec3
	forward, right, up kernel.Vec3
}

// rotate rotates v around the unit axis k by a radians.
func rotate(v, k kernel.Vec3, a float64) kernel.Vec3 {
	cos, sin := math.Cos(a), math.Sin(a)
	cross := kernel.Vec3{
		X: k.Y*v.Z - k.Z*v.Y,
		Y: k.Z*v.X - k.X*v.Z,
		Z: k.X*v.Y - k.Y*v.X,
	}
	return v.Scale(cos).Add(cross.Scale(sin)).Add(k.Scale(k.Dot(v) * (1 - cos)))
}

func (f frame) turn(axis kernel.Vec3, a float64) frame {
	f.forward = rotate(f.forward, axis, a)
	f.right = rotate(f.right, axis, a)
	f.up = rotate(f.up, axis, a)
	return f
}

// Turtle interprets an L-system string into tapered beams. F moves forward
// one step drawing a beam; + and - yaw, & and ^ pitch, \ and / roll by the
// angle; [ and ] push and pop the state, thinning branches by 0.75.
type Turtle struct {
	Step      float64
	Angle     float64 // radians
	Thickness float64 // initial beam radius
}

// Draw adds the beams for program, starting at origin heading along +Y.
func (t Turtle) Draw(b *kernel.Batch, program string, origin kernel.Vec3) {
	f := frame{
		pos:     origin,
		forward: kernel.Vec3{Y: 1},
		right:   kernel.Vec3{X: 1},
		up:      kernel.Vec3{Z: -1},
	}
	thick := t.Thickness
	var stack []frame
	for _, c := range program {
		switch c {
		case 'F':
			next := f.pos.Add(f.forward.Scale(t.Step))
			b.AddBeam(f.pos, next, thick, thick*0.7)
			f.pos = next
		case '+':
			f = f.turn(f.up, t.Angle)
		case '-':
			f = f.turn(f.up, -t.Angle)
		case '&':
			f = f.turn(f.right, t.Angle)
		case '^':
			f = f.turn(f.right, -t.Angle)
		case '\\':
			f = f.turn(f.forward, t.Angle)
		case '/':
			f = f.turn(f.forward, -t.Angle)
		case '[':
			stack = append(stack, f)
			thick *= 0.75
		case ']':
			if len(stack) > 0 {
				f = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				thick /= 0.75
			}
		}
	}
}

// LSystem grows a branching plant. Its beams are smoothed together, so they
// are unioned locally rather than through the global solids batch.
type LSystem struct {
	graph.Base
	iterations *param.Parameter
	angle      *param.Parameter
	step       *param.Parameter
	thickness  *param.Parameter

	beams int
}

// NewLSystem returns an L-system plant with default parameters.
func NewLSystem() *LSystem {
	return &LSystem{
		iterations: param.New("Iterations", 4, 1, 6, nil),
		angle:      param.New("Angle (deg)", 25, 10, 90, nil),
		step:       param.New("Step Size (mm)", 20, 5, 100, nil),
		thickness:  param.New("Thickness (mm)", 2, 1, 15, nil),
	}
}

func (l *LSystem) Kind() string { return KindLSystem }

func (l *LSystem) Parameters() []*param.Parameter {
	return []*param.Parameter{l.iterations, l.angle, l.step, l.thickness}
}

func (l *LSystem) Construct(bc *buildctx.Context) error {
	n := int(l.iterations.Value)
	program := Expand(plantAxiom, plantRules, n)
	turtle := Turtle{
		Step:      float64(l.step.Value),
		Angle:     float64(l.angle.Value) * math.Pi / 180,
		Thickness: float64(l.thickness.Value) * math.Pow(1.5, float64(n)),
	}

	var beams kernel.Batch
	turtle.Draw(&beams, program, kernel.Vec3{Z: float64(bc.Cursor)})
	l.beams = beams.Len()

	k := bc.Kernel()
	bc.Assembly().Add(k.Smoothen(k.FromBatch(&beams), float64(l.thickness.Value)*0.5))
	return nil
}

// Results reports the beam count of the last construction.
func (l *LSystem) Results() []graph.Result {
	return []graph.Result{{Label: "Beams", Value: float32(l.beams)}}
}
