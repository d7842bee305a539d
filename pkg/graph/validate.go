package graph

import "fmt"

// ValidationSeverity indicates whether a validation finding blocks a pass
// or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks building
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding.
type ValidationError struct {
	Node     NodeID             // which node has the problem (NoNode if tree-level)
	Message  string             // human-readable description
	Severity ValidationSeverity // error or warning
}

func (e ValidationError) Error() string {
	if e.Node == NoNode {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] node %d: %s", e.Severity, e.Node, e.Message)
}

// Validate runs structural checks on the tree and returns the findings. An
// empty slice means the tree is valid. It never mutates the tree.
func Validate(t *Tree) []ValidationError {
	if t.Root() == nil {
		return []ValidationError{{Node: NoNode, Message: "tree has no root", Severity: SeverityError}}
	}
	var errs []ValidationError
	errs = append(errs, validateLinks(t)...)
	errs = append(errs, validateNames(t)...)
	errs = append(errs, validateParameters(t)...)
	return errs
}

// HasErrors reports whether any finding is an error.
func HasErrors(findings []ValidationError) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// validateLinks checks that parent and child references agree.
func validateLinks(t *Tree) []ValidationError {
	var errs []ValidationError
	t.Walk(func(n *Node) bool {
		for _, c := range n.Children {
			child := t.Node(c)
			switch {
			case child == nil:
				errs = append(errs, ValidationError{
					Node: n.ID, Message: fmt.Sprintf("child %d does not exist", c), Severity: SeverityError,
				})
			case child.Parent != n.ID:
				errs = append(errs, ValidationError{
					Node: c, Message: fmt.Sprintf("parent is %d, expected %d", child.Parent, n.ID), Severity: SeverityError,
				})
			}
		}
		return true
	})
	return errs
}

// validateNames checks that names are non-empty and unique among siblings,
// since names form the flattened parameter keys.
func validateNames(t *Tree) []ValidationError {
	var errs []ValidationError
	t.Walk(func(n *Node) bool {
		if n.Name == "" {
			errs = append(errs, ValidationError{Node: n.ID, Message: "empty name", Severity: SeverityError})
		}
		seen := make(map[string]bool)
		for _, c := range t.Children(n.ID) {
			if c == nil {
				continue
			}
			if seen[c.Name] {
				errs = append(errs, ValidationError{
					Node: c.ID, Message: fmt.Sprintf("duplicate sibling name %q", c.Name), Severity: SeverityError,
				})
			}
			seen[c.Name] = true
		}
		return true
	})
	return errs
}

// validateParameters checks bounds and duplicate parameter names.
func validateParameters(t *Tree) []ValidationError {
	var errs []ValidationError
	t.Walk(func(n *Node) bool {
		seen := make(map[string]bool)
		for _, p := range n.params {
			if seen[p.Name] {
				errs = append(errs, ValidationError{
					Node: n.ID, Message: fmt.Sprintf("duplicate parameter %q", p.Name), Severity: SeverityError,
				})
			}
			seen[p.Name] = true
			if p.Name == EnabledKey {
				errs = append(errs, ValidationError{
					Node: n.ID, Message: fmt.Sprintf("parameter name %q is reserved", p.Name), Severity: SeverityError,
				})
			}
			if p.Min > p.Max {
				errs = append(errs, ValidationError{
					Node: n.ID, Message: fmt.Sprintf("parameter %q has min %g > max %g", p.Name, p.Min, p.Max), Severity: SeverityError,
				})
				continue
			}
			if p.Value < p.Min || p.Value > p.Max {
				errs = append(errs, ValidationError{
					Node: n.ID, Message: fmt.Sprintf("parameter %q value %g outside [%g, %g]", p.Name, p.Value, p.Min, p.Max), Severity: SeverityWarning,
				})
			}
		}
		return true
	})
	return errs
}
