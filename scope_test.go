package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewScope_Defaults verifies a scope carries its default value and a
// strictly increasing creation order.
func TestNewScope_Defaults(t *testing.T) {
	t.Parallel()

	a := NewScope("anonymous")
	b := NewScope(0)

	assert.Equal(t, "anonymous", a.DefaultValue())
	assert.Equal(t, 0, b.DefaultValue())
	require.Less(t, a.node.orderID, b.node.orderID)
}

// TestScope_Label verifies labeled scopes render their label and unlabeled
// scopes fall back to a generated name.
func TestScope_Label(t *testing.T) {
	t.Parallel()

	labeled := NewScope("x", WithScopeLabel("user"))
	assert.Equal(t, "user", labeled.String())

	plain := NewScope("y")
	assert.Contains(t, plain.String(), "scope-")
}

// TestScope_DefaultTuple verifies the default tuple is memoized.
func TestScope_DefaultTuple(t *testing.T) {
	t.Parallel()

	s := NewScope("guest")
	first := s.node.defaultTuple()
	second := s.node.defaultTuple()

	require.Equal(t, first, second)
	assert.Equal(t, "guest", first.Value())
	assert.True(t, first.isDefault())
}

// TestScope_With verifies tuple construction and default detection.
func TestScope_With(t *testing.T) {
	t.Parallel()

	s := NewScope("guest", WithScopeLabel("user"))

	tup := s.With("alice")
	assert.Equal(t, "alice", tup.Value())
	assert.Same(t, s.node, tup.Scope().anyScopeNode())
	assert.False(t, tup.isDefault())
	assert.True(t, s.With("guest").isDefault())
	assert.Equal(t, "user=alice", tup.String())
}

// TestScope_WithPointerDefault verifies default detection uses identity,
// not structural equality, when the default is a pointer.
func TestScope_WithPointerDefault(t *testing.T) {
	t.Parallel()

	type conn struct{ addr string }
	def := &conn{addr: "localhost"}
	s := NewScope(def)

	assert.True(t, s.With(def).isDefault())
	assert.False(t, s.With(&conn{addr: "localhost"}).isDefault())
}

// TestScope_TupleEquality verifies tuples are comparable values: same scope
// and equal value means the same tuple.
func TestScope_TupleEquality(t *testing.T) {
	t.Parallel()

	s := NewScope(0)
	assert.Equal(t, s.With(7), s.With(7))
	assert.NotEqual(t, s.With(7), s.With(8))

	other := NewScope(0)
	assert.NotEqual(t, s.With(7), other.With(7))
}
