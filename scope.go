package molecule

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var scopeOrder atomic.Uint64

// scopeNode is the identity behind a Scope handle. Identity is the node
// pointer; orderID gives scopes a stable total order used to normalize
// canonical cache paths.
type scopeNode struct {
	orderID uint64
	label   string
	def     any

	defOnce  sync.Once
	defTuple ScopeTuple
}

func (n *scopeNode) anyScopeNode() *scopeNode {
	if n == nil {
		return nil
	}
	return n
}

func (n *scopeNode) String() string {
	if n.label != "" {
		return n.label
	}
	return fmt.Sprintf("scope-%d", n.orderID)
}

// defaultTuple returns the memoized (scope, defaultValue) pair.
func (n *scopeNode) defaultTuple() ScopeTuple {
	n.defOnce.Do(func() {
		n.defTuple = ScopeTuple{scope: n, value: n.def}
	})
	return n.defTuple
}

// AnyScope is the type-erased view of a scope, used where scopes of
// different value types mix. Only Scope values implement it.
type AnyScope interface {
	anyScopeNode() *scopeNode
}

// Scope is a named dimension of variation with a default value. Two
// molecules resolved with different values of the same scope yield distinct
// instances.
//
// Scope values are used as cache keys and compared with ==: they must be
// comparable, and a value equal to the default (pointer identity when the
// default is a pointer) is treated as if the scope was not provided at all.
type Scope[S any] struct {
	node *scopeNode
}

// ScopeOption configures a scope at creation time.
type ScopeOption func(*scopeNode)

// WithScopeLabel attaches a debug label surfaced in errors and graph output.
func WithScopeLabel(label string) ScopeOption {
	return func(n *scopeNode) {
		n.label = label
	}
}

// NewScope defines a new scope with the given default value.
func NewScope[S any](defaultValue S, opts ...ScopeOption) *Scope[S] {
	n := &scopeNode{
		orderID: scopeOrder.Add(1),
		def:     defaultValue,
	}
	for _, opt := range opts {
		opt(n)
	}
	return &Scope[S]{node: n}
}

func (s *Scope[S]) anyScopeNode() *scopeNode {
	if s == nil {
		return nil
	}
	return s.node
}

// DefaultValue returns the scope's default value.
func (s *Scope[S]) DefaultValue() S {
	return s.node.def.(S)
}

func (s *Scope[S]) String() string {
	return s.node.String()
}

// With pairs the scope with a concrete value for a resolution call.
func (s *Scope[S]) With(value S) ScopeTuple {
	return ScopeTuple{scope: s.node, value: value}
}

// ScopeTuple is a concrete (scope, value) pair. Tuples are plain comparable
// values: two tuples built from the same scope and equal values address the
// same lease record and the same cache slot.
type ScopeTuple struct {
	scope *scopeNode
	value any
}

// Scope returns the scope half of the tuple.
func (t ScopeTuple) Scope() AnyScope {
	return t.scope
}

// Value returns the value half of the tuple.
func (t ScopeTuple) Value() any {
	return t.value
}

func (t ScopeTuple) String() string {
	if t.scope == nil {
		return "tuple(nil)"
	}
	return fmt.Sprintf("%s=%v", t.scope, t.value)
}

// isDefault reports whether the tuple carries its scope's default value.
func (t ScopeTuple) isDefault() bool {
	return t.value == t.scope.def
}
