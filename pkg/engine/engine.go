// Package engine evaluates scene scripts. A scene script is a small Lisp
// program (zygomys) that picks a root component, adds children, sets
// parameters and toggles nodes; evaluating it produces a component tree
// ready for the scheduler.
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/WiredGeist/CEM/pkg/graph"
	"github.com/WiredGeist/CEM/pkg/tessellate"
)

// EvalError represents a non-fatal error encountered during evaluation,
// such as a parse error or a runtime error in user code.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// EvalWarning represents a non-fatal warning produced during evaluation.
type EvalWarning struct {
	Line    int
	Col     int
	Message string
	Node    graph.NodeID
}

// Scene is what a script builds.
type Scene struct {
	Tree *graph.Tree
	// Section is set when the script asked for a section view.
	Section  *tessellate.Section
	Warnings []EvalWarning
}

// Engine wraps the zygomys interpreter.
// It is safe for concurrent use; each call to Evaluate creates a fresh
// sandboxed environment for determinism.
type Engine struct {
	catalog *graph.Catalog

	// Timeout bounds a single evaluation.
	Timeout time.Duration

	mu         sync.Mutex
	generation uint64
}

// NewEngine creates an engine that resolves component kinds through c.
func NewEngine(c *graph.Catalog) *Engine {
	return &Engine{catalog: c, Timeout: EvalTimeout}
}

// Evaluate runs a scene script and returns the scene it built.
// Each call creates a fresh zygomys sandbox for deterministic evaluation.
//
// Return semantics:
//   - On success: returns scene + nil errors + nil error
//   - On parse/eval/validation failure: returns nil scene + eval errors + nil error
//   - On fatal failure (timeout, panic, superseded): returns nil + nil + error
func (e *Engine) Evaluate(source string) (*Scene, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		sc, evalErrs, err := e.evaluate(source)
		ch <- evalResult{scene: sc, errors: evalErrs, err: err}
	}()

	return waitWithTimeout(ch, e.Timeout, gen, &e.mu, &e.generation)
}

// evaluate performs the actual zygomys evaluation in a fresh sandbox.
func (e *Engine) evaluate(source string) (*Scene, []EvalError, error) {
	sc := &scene{catalog: e.catalog, tree: graph.New()}

	// Empty source is a valid program that produces an empty tree.
	if strings.TrimSpace(source) == "" {
		return sc.result(), nil, nil
	}

	// Sandbox mode prevents user code from accessing the filesystem or syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, sc)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err), nil
	}

	if sc.tree.Root() == nil {
		return sc.result(), nil, nil
	}
	var evalErrs []EvalError
	for _, f := range graph.Validate(sc.tree) {
		if f.Severity == graph.SeverityError {
			evalErrs = append(evalErrs, EvalError{Message: f.Error()})
			continue
		}
		sc.warn(f.Node, f.Error())
	}
	if len(evalErrs) > 0 {
		return nil, evalErrs, nil
	}
	return sc.result(), nil, nil
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into one or more EvalError values.
// It attempts to extract line number information from the error message.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	// zygomys formats parse errors as "Error on line N: <details>\n"
	for _, p := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := p.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}

	// Fallback: no line info available.
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
