package extensions

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/m1gwings/treedrawer/tree"

	molecule "github.com/molecule-fn/molecule-go"
)

// GraphDebugExtension records resolution outcomes and renders cached
// dependency trees for debugging.
//
// Usage:
//
//	// Structured JSON logging (compact, machine-readable)
//	ext := extensions.NewGraphDebugExtension(slog.NewJSONHandler(os.Stdout, nil))
//
//	inj := molecule.NewInjector(molecule.WithExtension(ext))
//	...
//	fmt.Println(ext.Render(inj, AppMol))
//
// The extension logs at ERROR level when an operation fails.
type GraphDebugExtension struct {
	molecule.BaseExtension
	logger   *slog.Logger
	resolved map[molecule.AnyMolecule]bool
	failed   map[molecule.AnyMolecule]error
}

// NewGraphDebugExtension creates a graph debug extension logging through
// handler. A nil handler falls back to the default slog handler.
func NewGraphDebugExtension(handler slog.Handler) *GraphDebugExtension {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &GraphDebugExtension{
		BaseExtension: molecule.NewBaseExtension("graph-debug"),
		logger:        slog.New(handler),
		resolved:      make(map[molecule.AnyMolecule]bool),
		failed:        make(map[molecule.AnyMolecule]error),
	}
}

// Wrap tracks resolution outcomes for debugging.
func (e *GraphDebugExtension) Wrap(next func() (any, error), op *molecule.Operation) (any, error) {
	result, err := next()

	if op.Kind == molecule.OpResolve {
		if err == nil {
			e.resolved[op.Molecule] = true
		} else {
			e.failed[op.Molecule] = err
		}
	}
	return result, err
}

func (e *GraphDebugExtension) OnError(err error, op *molecule.Operation) {
	e.logger.Error("molecule operation failed",
		"kind", string(op.Kind),
		"molecule", fmt.Sprint(op.Molecule),
		"resolved_count", len(e.resolved),
		"failed_count", len(e.failed),
		"err", err)
}

// Render draws the cached dependency tree of m as ASCII art, or a note when
// nothing is cached for the given scope context.
func (e *GraphDebugExtension) Render(inj *molecule.Injector, m molecule.AnyMolecule, scopes ...molecule.ScopeTuple) string {
	root, ok := inj.Graph(m, scopes...)
	if !ok {
		return fmt.Sprintf("no cached instance for %v", m)
	}

	t := tree.NewTree(tree.NodeString(nodeLabel(root)))
	addChildren(t, root)
	return t.String()
}

func nodeLabel(n *molecule.GraphNode) string {
	if len(n.Tuples) == 0 {
		return n.Label
	}
	return fmt.Sprintf("%s [%s]", n.Label, strings.Join(n.Tuples, ", "))
}

func addChildren(t *tree.Tree, n *molecule.GraphNode) {
	for i, c := range n.Children {
		t.AddChild(tree.NodeString(nodeLabel(c)))
		child, err := t.Child(i)
		if err != nil {
			continue
		}
		addChildren(child, c)
	}
}
