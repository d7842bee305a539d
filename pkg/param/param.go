// Package param defines the slider-style controls components expose to the
// UI and the messages that carry edits to the geometry thread.
package param

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Parameter is a named scalar control with bounds. OnChange is the only
// authoritative way to change component state; writing Value directly has
// no geometric effect.
type Parameter struct {
	Name     string
	Value    float32
	Min      float32
	Max      float32
	OnChange func(v float32)
}

// New returns a parameter whose callback receives clamped values.
func New(name string, value, min, max float32, onChange func(float32)) *Parameter {
	p := &Parameter{Name: name, Min: min, Max: max, OnChange: onChange}
	p.Value = p.Clamp(value)
	return p
}

// Clamp limits v to [Min, Max]. NaN clamps to Min.
func (p *Parameter) Clamp(v float32) float32 {
	if math32.IsNaN(v) {
		return p.Min
	}
	return math32.Max(p.Min, math32.Min(p.Max, v))
}

// Set clamps v, stores it and fires OnChange.
func (p *Parameter) Set(v float32) float32 {
	v = p.Clamp(v)
	p.Value = v
	if p.OnChange != nil {
		p.OnChange(v)
	}
	return v
}

// Normalized returns Value mapped to [0, 1].
func (p *Parameter) Normalized() float32 {
	if p.Max == p.Min {
		return 0
	}
	return (p.Value - p.Min) / (p.Max - p.Min)
}

func (p *Parameter) String() string {
	return fmt.Sprintf("%s=%g [%g..%g]", p.Name, p.Value, p.Min, p.Max)
}

// Message is a parameter edit addressed to a node, dispatched from the UI
// thread to the geometry thread.
type Message struct {
	Node  int
	Name  string
	Value float32
}

// Key identifies the parameter a message targets.
type Key struct {
	Node int
	Name string
}

// Key returns the message's target.
func (m Message) Key() Key { return Key{Node: m.Node, Name: m.Name} }
