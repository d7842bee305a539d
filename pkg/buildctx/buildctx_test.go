package buildctx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WiredGeist/CEM/pkg/kernel"
	"github.com/WiredGeist/CEM/pkg/kernel/kerneltest"
)

func newContext() (*Context, *kerneltest.Kernel) {
	k := kerneltest.New()
	return New(context.Background(), k, nil), k
}

func TestRegistryMissesFallBack(t *testing.T) {
	r := NewRegistry()
	r.Publish("MainDia", float32(1000))
	r.Publish("Name", "jet")

	assert.Equal(t, float32(1000), Value(r, "MainDia", float32(0)))
	assert.Equal(t, float32(7), Value(r, "Missing", float32(7)))
	assert.Equal(t, float32(3), Value(r, "Name", float32(3)), "type mismatch falls back to default")

	assert.Equal(t, float32(-1), r.Call("Wall", 10, -1))
	r.PublishFunc("Wall", func(z float32) float32 { return z * 2 })
	assert.Equal(t, float32(20), r.Call("Wall", 10, -1))

	r.Publish("Raw", func(z float32) float32 { return z + 1 })
	f, ok := r.Func("Raw")
	require.True(t, ok)
	assert.Equal(t, float32(2), f(1))

	_, ok = r.Func("Name")
	assert.False(t, ok)
	assert.Equal(t, []string{"MainDia", "Name", "Raw", "Wall"}, r.Keys())

	var nilReg *Registry
	_, ok = nilReg.Lookup("x")
	assert.False(t, ok)
}

func TestScopedRedirectsAndRestores(t *testing.T) {
	c, k := newContext()
	c.Assembly().Add(k.Sphere(kernel.Vec3{}, 1))
	c.Cursor = 500
	c.Handshake = 42
	realAssembly := c.Assembly()

	sc, err := c.Scoped(300, func() error {
		assert.Equal(t, float32(300), c.Cursor)
		assert.True(t, c.Assembly().Empty(), "scratch assembly starts empty")
		c.Assembly().Add(k.Box(kernel.Box{Max: kernel.Vec3{X: 1, Y: 1, Z: 1}}))
		c.Solids().AddSphere(kernel.Vec3{}, 2)
		c.Voids().AddSphere(kernel.Vec3{}, 1)
		c.Cuts().Add(k.Sphere(kernel.Vec3{}, 3))
		c.Advance(999)
		c.Handshake = -1
		return nil
	})
	require.NoError(t, err)

	assert.Same(t, realAssembly, c.Assembly())
	assert.Equal(t, float32(500), c.Cursor)
	assert.Equal(t, float32(42), c.Handshake)
	assert.Equal(t, 0, c.Solids().Len(), "outer batches untouched")
	assert.True(t, c.Cuts().Empty())

	assert.Contains(t, kerneltest.Expr(sc.Geometry), "box(")
	assert.Equal(t, 1, sc.Solids.Len())
	assert.Equal(t, 1, sc.Voids.Len())
	assert.Contains(t, kerneltest.Expr(sc.Cuts), "sphere(")
}

func TestScopedRestoresOnFailure(t *testing.T) {
	tests := []struct {
		name string
		fn   func(c *Context) error
	}{
		{"error", func(c *Context) error {
			c.Solids().AddSphere(kernel.Vec3{}, 1)
			return errors.New("boom")
		}},
		{"panic", func(c *Context) error {
			c.Solids().AddSphere(kernel.Vec3{}, 1)
			panic("kaboom")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext()
			c.Cursor = 10
			outer := c.Solids()

			sc, err := c.Scoped(0, func() error { return tt.fn(c) })
			require.Error(t, err)
			assert.Nil(t, sc.Geometry)
			assert.Nil(t, sc.Solids)
			assert.Same(t, outer, c.Solids())
			assert.Equal(t, 0, c.Solids().Len())
			assert.Equal(t, float32(10), c.Cursor)
		})
	}
}

func TestGuides(t *testing.T) {
	c, _ := newContext()
	assert.Empty(t, c.Guides())
	c.AddGuide(Guide{Kind: GuideCircle, Radius: 5, Color: "#ff0000"})
	c.AddGuide(Guide{Kind: GuideLine, B: kernel.Vec3{Z: 10}})
	assert.Len(t, c.Guides(), 2)
	assert.NotNil(t, c.Logger())
	assert.NotNil(t, c.Context())
}
