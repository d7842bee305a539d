// Package graph defines the component tree for CEM.
// A Tree is an arena of Nodes with one root; each Node wraps a construction
// Strategy, owns its parameters and caches the geometry its last successful
// construct phase produced. Tree.Build walks the tree once per pass and
// threads a buildctx.Context through the physics, setup, preview and
// construct phases.
package graph
