package molecule

import (
	"sync"
)

// DeepCache is an n-level memoization tree keyed by an ordered sequence of
// keys. Identical key sequences address the same slot; different orderings
// of the same key set are distinct slots (ordering is normalized by callers,
// not here).
//
// The source of reclamation is explicit: removing a terminal slot prunes
// chains that hold no other values, and Sweep prunes the whole tree eagerly.
type DeepCache[K comparable, V any] struct {
	mu   sync.Mutex
	root *cacheTreeNode[K, V]
}

type cacheTreeNode[K comparable, V any] struct {
	children map[K]*cacheTreeNode[K, V]
	value    V
	present  bool
}

func (n *cacheTreeNode[K, V]) empty() bool {
	return !n.present && len(n.children) == 0
}

// NewDeepCache creates an empty cache.
func NewDeepCache[K comparable, V any]() *DeepCache[K, V] {
	return &DeepCache[K, V]{root: &cacheTreeNode[K, V]{}}
}

// Get walks one level per key and returns the value at the terminal slot.
// Absence at any level short-circuits.
func (c *DeepCache[K, V]) Get(keys ...K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.lookup(keys)
	if n == nil || !n.present {
		var zero V
		return zero, false
	}
	return n.value, true
}

// Cache returns the value stored at the key path, computing and storing it
// with create on a miss. On a hit, found is invoked purely as an observation
// hook.
func (c *DeepCache[K, V]) Cache(create func() V, found func(V), keys ...K) (V, error) {
	if len(keys) == 0 {
		var zero V
		return zero, ErrEmptyCachePath
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.ensure(keys)
	if n.present {
		if found != nil {
			found(n.value)
		}
		return n.value, nil
	}

	n.value = create()
	n.present = true
	return n.value, nil
}

// Upsert always computes and stores update(current, present) at the key
// path, returning the stored value.
func (c *DeepCache[K, V]) Upsert(update func(previous V, present bool) V, keys ...K) (V, error) {
	if len(keys) == 0 {
		var zero V
		return zero, ErrEmptyCachePath
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.ensure(keys)
	n.value = update(n.value, n.present)
	n.present = true
	return n.value, nil
}

// Remove clears the terminal value slot and prunes any chain left holding
// nothing. No-op when the path is absent.
func (c *DeepCache[K, V]) Remove(keys ...K) {
	if len(keys) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	chain := make([]*cacheTreeNode[K, V], 0, len(keys)+1)
	n := c.root
	chain = append(chain, n)
	for _, k := range keys {
		next, ok := n.children[k]
		if !ok {
			return
		}
		n = next
		chain = append(chain, n)
	}

	var zero V
	n.value = zero
	n.present = false

	for i := len(chain) - 1; i > 0; i-- {
		if !chain[i].empty() {
			break
		}
		delete(chain[i-1].children, keys[i-1])
	}
}

// Sweep eagerly prunes every subtree that holds no values.
func (c *DeepCache[K, V]) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	sweep(c.root)
}

// Evict removes every stored value for which drop reports true, pruning
// subtrees left empty.
func (c *DeepCache[K, V]) Evict(drop func(V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	evict(c.root, drop)
}

func evict[K comparable, V any](n *cacheTreeNode[K, V], drop func(V) bool) {
	if n.present && drop(n.value) {
		var zero V
		n.value = zero
		n.present = false
	}
	for k, child := range n.children {
		evict(child, drop)
		if child.empty() {
			delete(n.children, k)
		}
	}
}

func sweep[K comparable, V any](n *cacheTreeNode[K, V]) {
	for k, child := range n.children {
		sweep(child)
		if child.empty() {
			delete(n.children, k)
		}
	}
}

// Len reports the number of stored values.
func (c *DeepCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return count(c.root)
}

func count[K comparable, V any](n *cacheTreeNode[K, V]) int {
	total := 0
	if n.present {
		total++
	}
	for _, child := range n.children {
		total += count(child)
	}
	return total
}

func (c *DeepCache[K, V]) lookup(keys []K) *cacheTreeNode[K, V] {
	n := c.root
	for _, k := range keys {
		next, ok := n.children[k]
		if !ok {
			return nil
		}
		n = next
	}
	return n
}

func (c *DeepCache[K, V]) ensure(keys []K) *cacheTreeNode[K, V] {
	n := c.root
	for _, k := range keys {
		next, ok := n.children[k]
		if !ok {
			next = &cacheTreeNode[K, V]{}
			if n.children == nil {
				n.children = make(map[K]*cacheTreeNode[K, V])
			}
			n.children[k] = next
		}
		n = next
	}
	return n
}
