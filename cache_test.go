package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDeepCache_GetMiss verifies absence at any level short-circuits.
func TestDeepCache_GetMiss(t *testing.T) {
	t.Parallel()

	c := NewDeepCache[string, int]()

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("a", "b", "c")
	assert.False(t, ok)
}

// TestDeepCache_CacheCreatesOnce verifies Cache computes on a miss and
// returns the stored value afterwards, invoking found only on hits.
func TestDeepCache_CacheCreatesOnce(t *testing.T) {
	t.Parallel()

	c := NewDeepCache[string, int]()
	creates, founds := 0, 0

	v, err := c.Cache(func() int { creates++; return 42 }, func(int) { founds++ }, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, founds)

	v, err = c.Cache(func() int { creates++; return 99 }, func(int) { founds++ }, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, founds)

	got, ok := c.Get("a", "b")
	require.True(t, ok)
	assert.Equal(t, 42, got)
}

// TestDeepCache_EmptyPath verifies Cache and Upsert reject empty key lists.
func TestDeepCache_EmptyPath(t *testing.T) {
	t.Parallel()

	c := NewDeepCache[string, int]()

	_, err := c.Cache(func() int { return 1 }, nil)
	require.ErrorIs(t, err, ErrEmptyCachePath)

	_, err = c.Upsert(func(int, bool) int { return 1 })
	require.ErrorIs(t, err, ErrEmptyCachePath)
}

// TestDeepCache_DistinctOrderings verifies different orderings of the same
// key set address distinct slots.
func TestDeepCache_DistinctOrderings(t *testing.T) {
	t.Parallel()

	c := NewDeepCache[string, int]()

	_, err := c.Cache(func() int { return 1 }, nil, "a", "b")
	require.NoError(t, err)
	_, err = c.Cache(func() int { return 2 }, nil, "b", "a")
	require.NoError(t, err)

	ab, _ := c.Get("a", "b")
	ba, _ := c.Get("b", "a")
	assert.Equal(t, 1, ab)
	assert.Equal(t, 2, ba)
}

// TestDeepCache_Upsert verifies Upsert sees the previous value and its
// presence flag.
func TestDeepCache_Upsert(t *testing.T) {
	t.Parallel()

	c := NewDeepCache[string, int]()

	v, err := c.Upsert(func(prev int, present bool) int {
		require.False(t, present)
		return 10
	}, "k")
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	v, err = c.Upsert(func(prev int, present bool) int {
		require.True(t, present)
		return prev + 1
	}, "k")
	require.NoError(t, err)
	assert.Equal(t, 11, v)
}

// TestDeepCache_Remove verifies removal clears the terminal slot, prunes
// empty chains, and leaves intermediate values intact.
func TestDeepCache_Remove(t *testing.T) {
	t.Parallel()

	c := NewDeepCache[string, int]()
	_, err := c.Cache(func() int { return 1 }, nil, "a")
	require.NoError(t, err)
	_, err = c.Cache(func() int { return 2 }, nil, "a", "b")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	c.Remove("a", "b")
	_, ok := c.Get("a", "b")
	assert.False(t, ok)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, c.Len())

	// Removing an absent path is a no-op.
	c.Remove("x", "y")
	assert.Equal(t, 1, c.Len())
}

// TestDeepCache_Evict verifies predicate-based removal with pruning.
func TestDeepCache_Evict(t *testing.T) {
	t.Parallel()

	c := NewDeepCache[string, int]()
	_, err := c.Cache(func() int { return 1 }, nil, "a")
	require.NoError(t, err)
	_, err = c.Cache(func() int { return 2 }, nil, "a", "b")
	require.NoError(t, err)

	c.Evict(func(v int) bool { return v == 2 })

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("a", "b")
	assert.False(t, ok)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)
	assert.NotContains(t, c.root.children["a"].children, "b")
}

// TestDeepCache_Sweep verifies eager pruning of valueless subtrees.
func TestDeepCache_Sweep(t *testing.T) {
	t.Parallel()

	c := NewDeepCache[string, int]()
	_, err := c.Cache(func() int { return 1 }, nil, "a", "b", "c")
	require.NoError(t, err)
	_, err = c.Cache(func() int { return 2 }, nil, "a", "keep")
	require.NoError(t, err)

	c.Remove("a", "b", "c")
	c.Sweep()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("a", "keep")
	assert.True(t, ok)
	assert.NotContains(t, c.root.children["a"].children, "b")
}
