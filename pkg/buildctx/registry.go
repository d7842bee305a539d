package buildctx

import (
	"maps"
	"slices"
)

// ScalarFunc is a published one-dimensional function, typically a profile
// sampled along the build axis.
type ScalarFunc func(x float32) float32

// Registry is the pass-scoped blackboard components use to publish derived
// values and functions for components visited later. Lookups of keys that
// were never published fail softly.
type Registry struct {
	values map[string]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{values: make(map[string]any)}
}

// Publish stores v under key, replacing any earlier value.
func (r *Registry) Publish(key string, v any) {
	r.values[key] = v
}

// Lookup returns the value stored under key.
func (r *Registry) Lookup(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Value returns the value under key if it exists and has type T, else def.
func Value[T any](r *Registry, key string, def T) T {
	v, ok := r.Lookup(key)
	if !ok {
		return def
	}
	t, ok := v.(T)
	if !ok {
		return def
	}
	return t
}

// PublishFunc stores a scalar function under key.
func (r *Registry) PublishFunc(key string, f ScalarFunc) {
	r.Publish(key, f)
}

// Func returns the scalar function stored under key.
func (r *Registry) Func(key string) (ScalarFunc, bool) {
	v, _ := r.Lookup(key)
	switch f := v.(type) {
	case ScalarFunc:
		return f, f != nil
	case func(float32) float32:
		return f, f != nil
	}
	return nil, false
}

// Call evaluates the function under key at x, or returns def when no such
// function was published.
func (r *Registry) Call(key string, x, def float32) float32 {
	f, ok := r.Func(key)
	if !ok {
		return def
	}
	return f(x)
}

// Keys returns the published keys in sorted order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.values))
}
