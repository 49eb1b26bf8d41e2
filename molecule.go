package molecule

import (
	"fmt"
	"sync/atomic"
)

var moleculeOrder atomic.Uint64

type moleculeKind uint8

const (
	kindConcrete moleculeKind = iota
	kindInterface
)

// moleculeNode is the identity behind Molecule and Interface handles. The
// kind discriminant is checked once at the resolution boundary, never
// re-probed downstream.
type moleculeNode struct {
	id     uint64
	kind   moleculeKind
	label  string
	ctor   func(*ResolveCtx) (any, error)
	handle AnyMolecule
}

func (n *moleculeNode) String() string {
	if n.label != "" {
		return n.label
	}
	if n.kind == kindInterface {
		return fmt.Sprintf("interface-%d", n.id)
	}
	return fmt.Sprintf("molecule-%d", n.id)
}

// AnyMolecule is the type-erased view of a molecule or interface.
type AnyMolecule interface {
	anyMoleculeNode() *moleculeNode
}

// Resolvable ties a molecule or interface to its value type for the generic
// resolution helpers. Both Molecule and Interface implement it.
type Resolvable[T any] interface {
	AnyMolecule
	moleculeValue() T
}

// Molecule is a lazily-constructed, memoized unit of state. Its constructor
// runs at most once per unique combination of the scope values it actually
// reads, and the resulting instance lives for as long as at least one lease
// on those scope values remains.
type Molecule[T any] struct {
	node *moleculeNode
}

// Interface is a molecule placeholder: it carries a value type but no
// constructor, and must be bound to a concrete molecule at injector
// creation before it can be resolved.
type Interface[T any] struct {
	node *moleculeNode
}

// MoleculeOption configures a molecule or interface at creation time.
type MoleculeOption func(*moleculeNode)

// WithMoleculeLabel attaches a debug label surfaced in errors and graph
// output.
func WithMoleculeLabel(label string) MoleculeOption {
	return func(n *moleculeNode) {
		n.label = label
	}
}

// New defines a molecule from a constructor. The constructor receives a
// ResolveCtx whose capabilities are valid only for the synchronous duration
// of the call.
func New[T any](ctor func(*ResolveCtx) (T, error), opts ...MoleculeOption) *Molecule[T] {
	n := &moleculeNode{
		id:   moleculeOrder.Add(1),
		kind: kindConcrete,
		ctor: func(ctx *ResolveCtx) (any, error) {
			return ctor(ctx)
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	m := &Molecule[T]{node: n}
	n.handle = m
	return m
}

// NewInterface defines an unbound molecule interface.
func NewInterface[T any](opts ...MoleculeOption) *Interface[T] {
	n := &moleculeNode{
		id:   moleculeOrder.Add(1),
		kind: kindInterface,
	}
	for _, opt := range opts {
		opt(n)
	}
	i := &Interface[T]{node: n}
	n.handle = i
	return i
}

func (m *Molecule[T]) anyMoleculeNode() *moleculeNode {
	if m == nil {
		return nil
	}
	return m.node
}

func (m *Molecule[T]) moleculeValue() (t T) { return }

func (m *Molecule[T]) String() string {
	return m.node.String()
}

func (i *Interface[T]) anyMoleculeNode() *moleculeNode {
	if i == nil {
		return nil
	}
	return i.node
}

func (i *Interface[T]) moleculeValue() (t T) { return }

func (i *Interface[T]) String() string {
	return i.node.String()
}
