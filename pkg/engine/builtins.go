package engine

import (
	"fmt"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/tessellate"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms scene source before passing it to zygomys:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: set-section -> set_section
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator).
//
//  3. ; line comments become // comments.
//
// String literals are never touched, so node names and parameter keys such
// as "Exp. Ratio" or "Inlet/Length" pass through unchanged.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				result = append(result, '"')
				result = append(result, kwPrefix...)
				result = append(result, b[i+1:j]...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Only when the hyphen sits between identifier characters; a minus
		// operator is left alone.
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isLetter(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// ---------------------------------------------------------------------------
// Node references
// ---------------------------------------------------------------------------

// sexpNodeRef wraps a graph.NodeID so it can be passed between builtins.
type sexpNodeRef struct {
	id   graph.NodeID
	name string
}

func (n *sexpNodeRef) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(node %q)", n.name)
}
func (n *sexpNodeRef) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW reports whether s is a preprocessed keyword and returns its name.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Keyword at end with no value: a flag.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	return strings.TrimPrefix(str.S, kwPrefix), nil
}

// toAxis converts a keyword or string to a tessellate.Axis.
func toAxis(s zygo.Sexp) (tessellate.Axis, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return 0, fmt.Errorf("expected axis keyword (:x, :y, :z): %w", err)
	}
	switch name {
	case "x":
		return tessellate.AxisX, nil
	case "y":
		return tessellate.AxisY, nil
	case "z":
		return tessellate.AxisZ, nil
	}
	return 0, fmt.Errorf("invalid axis %q, expected x, y, or z", name)
}

// ---------------------------------------------------------------------------
// Scene under construction
// ---------------------------------------------------------------------------

type scene struct {
	catalog  *graph.Catalog
	tree     *graph.Tree
	section  *tessellate.Section
	warnings []EvalWarning
}

func (sc *scene) warn(id graph.NodeID, msg string) {
	sc.warnings = append(sc.warnings, EvalWarning{Message: msg, Node: id})
}

func (sc *scene) result() *Scene {
	return &Scene{Tree: sc.tree, Section: sc.section, Warnings: sc.warnings}
}

func (sc *scene) ref(n *graph.Node) *sexpNodeRef {
	return &sexpNodeRef{id: n.ID, name: n.Name}
}

// node resolves a node reference or a node name.
func (sc *scene) node(s zygo.Sexp) (*graph.Node, error) {
	if ref, ok := s.(*sexpNodeRef); ok {
		if n := sc.tree.Node(ref.id); n != nil {
			return n, nil
		}
		return nil, fmt.Errorf("node %q was removed", ref.name)
	}
	name, err := toString(s)
	if err != nil {
		return nil, fmt.Errorf("expected node reference or name: %w", err)
	}
	n := sc.tree.Lookup(name)
	if n == nil {
		return nil, fmt.Errorf("no node named %q", name)
	}
	return n, nil
}

// create instantiates kind with an optional :name.
func (sc *scene) create(kind string, pa kwArgs) (graph.Strategy, string, error) {
	s, err := sc.catalog.New(kind)
	if err != nil {
		return nil, "", err
	}
	name := sc.catalog.Title(kind)
	if v, ok := pa.kw["name"]; ok {
		if name, err = toString(v); err != nil {
			return nil, "", fmt.Errorf("name: %w", err)
		}
	}
	return s, name, nil
}

// set applies a parameter value through its callback, warning when the
// value had to be clamped.
func (sc *scene) set(n *graph.Node, p string, v float64) error {
	prm := n.Parameter(p)
	if prm == nil {
		return fmt.Errorf("%s has no parameter %q: %w", n.Name, p, graph.ErrNoSuchParameter)
	}
	if got := prm.Set(float32(v)); got != float32(v) {
		sc.warn(n.ID, fmt.Sprintf("%s: %s clamped to %g", n.Name, p, got))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs the scene builtins into a zygomys environment.
// The builtins populate sc during evaluation.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, sc *scene) {

	// -----------------------------------------------------------------------
	// (root "turbojet" :name "Engine")
	// -----------------------------------------------------------------------
	env.AddFunction("root", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("root requires a component kind")
		}
		kind, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("root: kind: %w", err)
		}
		s, nodeName, err := sc.create(kind, pa)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("root: %w", err)
		}
		return sc.ref(sc.tree.SetRoot(nodeName, s)), nil
	})

	// -----------------------------------------------------------------------
	// (child "cooling" :parent "Axial Compressor" :name "Cooling")
	// -----------------------------------------------------------------------
	env.AddFunction("child", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("child requires a component kind")
		}
		kind, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("child: kind: %w", err)
		}
		parent := sc.tree.Root()
		if v, ok := pa.kw["parent"]; ok {
			if parent, err = sc.node(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("child: parent: %w", err)
			}
		}
		if parent == nil {
			return zygo.SexpNull, fmt.Errorf("child: no root, call (root ...) first")
		}
		s, nodeName, err := sc.create(kind, pa)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("child: %w", err)
		}
		n, err := sc.tree.AddChild(parent.ID, nodeName, s)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("child: %w", err)
		}
		return sc.ref(n), nil
	})

	// -----------------------------------------------------------------------
	// (node "Inlet")
	// -----------------------------------------------------------------------
	env.AddFunction("node", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("node requires a name argument")
		}
		n, err := sc.node(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("node: %w", err)
		}
		return sc.ref(n), nil
	})

	// -----------------------------------------------------------------------
	// (param "Inlet/Length" 400)
	// (param (node "Inlet") "Length" 400)
	// -----------------------------------------------------------------------
	env.AddFunction("param", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		switch len(args) {
		case 2:
			key, err := toString(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("param: key: %w", err)
			}
			v, err := toFloat64(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("param %q: %w", key, err)
			}
			for _, e := range sc.tree.Parameters() {
				if e.Key == key {
					return zygo.SexpNull, sc.set(e.Node, e.Param.Name, v)
				}
			}
			return zygo.SexpNull, fmt.Errorf("param: %q: %w", key, graph.ErrNoSuchParameter)
		case 3:
			n, err := sc.node(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("param: %w", err)
			}
			p, err := toString(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("param: name: %w", err)
			}
			v, err := toFloat64(args[2])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("param %q: %w", p, err)
			}
			return zygo.SexpNull, sc.set(n, p, v)
		}
		return zygo.SexpNull, fmt.Errorf("param requires a key and a value, or a node, a name and a value")
	})

	// -----------------------------------------------------------------------
	// (disable "Exhaust Nozzle") / (enable "Exhaust Nozzle")
	// -----------------------------------------------------------------------
	for fn, enabled := range map[string]bool{"disable": false, "enable": true} {
		env.AddFunction(fn, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != 1 {
				return zygo.SexpNull, fmt.Errorf("%s requires a node", name)
			}
			n, err := sc.node(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", name, err)
			}
			return zygo.SexpNull, sc.tree.SetEnabled(n.ID, enabled)
		})
	}

	// -----------------------------------------------------------------------
	// (section :axis :x :offset 0)
	// -----------------------------------------------------------------------
	env.AddFunction("section", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		sec := tessellate.Section{Active: true, Axis: tessellate.AxisZ}
		if v, ok := pa.kw["axis"]; ok {
			a, err := toAxis(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("section: axis: %w", err)
			}
			sec.Axis = a
		}
		if v, ok := pa.kw["offset"]; ok {
			f, err := toFloat64(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("section: offset: %w", err)
			}
			sec.Offset = f
		}
		sc.section = &sec
		return zygo.SexpNull, nil
	})
}
