package molecule

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type scopeSet map[*scopeNode]struct{}

func (s scopeSet) clone() scopeSet {
	out := make(scopeSet, len(s))
	for n := range s {
		out[n] = struct{}{}
	}
	return out
}

func (s scopeSet) equal(other scopeSet) bool {
	if len(s) != len(other) {
		return false
	}
	for n := range s {
		if _, ok := other[n]; !ok {
			return false
		}
	}
	return true
}

// names returns scope labels sorted by creation order.
func (s scopeSet) names() []string {
	nodes := make([]*scopeNode, 0, len(s))
	for n := range s {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].orderID < nodes[j].orderID
	})
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.String()
	}
	return out
}

// fingerprint is a molecule's recorded scope footprint. It is set on first
// construction and must match exactly on every later construction.
type fingerprint struct {
	all scopeSet
}

// depTracking accumulates dependency discovery during one construction.
type depTracking struct {
	all      scopeSet
	defaults scopeSet
	children []*cacheEntry
	buddies  []*cacheEntry
}

func newDepTracking() *depTracking {
	return &depTracking{
		all:      make(scopeSet),
		defaults: make(scopeSet),
	}
}

// merge folds a resolved child entry into the current construction: its
// scope footprint becomes part of ours, and its subtree precedes it in the
// buddy list so a linear walk always sees dependencies first.
func (t *depTracking) merge(child *cacheEntry) {
	for n := range child.deps.all {
		t.all[n] = struct{}{}
	}
	for n := range child.deps.defaults {
		t.defaults[n] = struct{}{}
	}
	t.buddies = append(t.buddies, child.deps.buddies...)
	t.buddies = append(t.buddies, child)
	t.children = append(t.children, child)
}

type entryDeps struct {
	all      scopeSet
	defaults scopeSet
	// buddies lists direct and transitive dependency entries, each preceded
	// by its own subtree.
	buddies []*cacheEntry
	// children lists only direct dependencies, in discovery order.
	children []*cacheEntry
}

// cacheEntry is one memoized molecule instance.
type cacheEntry struct {
	id          uuid.UUID
	node        *moleculeNode
	value       any
	path        []any
	scopeTuples []ScopeTuple
	deps        entryDeps
	mountFns    []MountFn
	mounted     bool
	cleanups    []*Cleanup
}

// session threads one public resolution call: the subscription collecting
// leases, the explicit non-default scope tuples of the call, and the stack
// of molecules currently being constructed (for cycle detection).
type session struct {
	sub       *Subscription
	tuples    map[*scopeNode]ScopeTuple
	resolving []*moleculeNode
}

// Injector resolves molecules against scope contexts, memoizing each
// instance per unique combination of the scope values it actually reads and
// driving its mount/cleanup lifecycle as leases start and stop.
//
// All public operations serialize on one exclusive lock per injector:
// intermediate construction state is not safe to interleave.
type Injector struct {
	mu           sync.Mutex
	bindings     map[*moleculeNode]*moleculeNode
	fingerprints map[*moleculeNode]*fingerprint
	cache        *DeepCache[any, *cacheEntry]
	scoper       *Scoper
	anchors      map[*moleculeNode]*scopeNode
	pinned       []*Subscription

	// extensions has its own lock: cleanup-error routing reads it while
	// inj.mu is already held.
	extMu      sync.RWMutex
	extensions []Extension
}

// InjectorOption configures an injector at creation time.
type InjectorOption func(*Injector)

// Bind maps an interface to the concrete molecule it resolves to. The
// binding table is fixed at injector creation.
func Bind[T any](iface *Interface[T], impl *Molecule[T]) InjectorOption {
	return func(inj *Injector) {
		inj.bindings[iface.node] = impl.node
	}
}

// WithExtension returns an option that registers an extension.
func WithExtension(ext Extension) InjectorOption {
	return func(inj *Injector) {
		if err := inj.UseExtension(ext); err != nil {
			panic(err)
		}
	}
}

// NewInjector creates an injector with the given bindings and extensions.
func NewInjector(opts ...InjectorOption) *Injector {
	inj := &Injector{
		bindings:     make(map[*moleculeNode]*moleculeNode),
		fingerprints: make(map[*moleculeNode]*fingerprint),
		cache:        NewDeepCache[any, *cacheEntry](),
		scoper:       NewScoper(),
		anchors:      make(map[*moleculeNode]*scopeNode),
	}
	for _, opt := range opts {
		opt(inj)
	}
	// Stops issued through handed-out subscriptions run molecule cleanups,
	// which mutate injector state; route them through the injector lock.
	inj.scoper.serialize = func(fn func()) {
		inj.mu.Lock()
		defer inj.mu.Unlock()
		fn()
	}
	inj.scoper.onCleanupError = inj.handleCleanupError
	return inj
}

// UseExtension registers an extension on the injector.
func (inj *Injector) UseExtension(ext Extension) error {
	inj.extMu.Lock()
	exts := make([]Extension, 0, len(inj.extensions)+1)
	exts = append(exts, inj.extensions...)
	exts = append(exts, ext)
	sort.SliceStable(exts, func(i, j int) bool {
		return exts[i].Order() < exts[j].Order()
	})
	inj.extensions = exts
	inj.extMu.Unlock()

	return ext.Init(inj)
}

// exts returns the current extension snapshot. The slice is never mutated
// after publication.
func (inj *Injector) exts() []Extension {
	inj.extMu.RLock()
	defer inj.extMu.RUnlock()
	return inj.extensions
}

func (inj *Injector) handleCleanupError(tuple ScopeTuple, err error) {
	cerr := &CleanupError{Tuple: tuple, Err: err}
	for _, ext := range inj.exts() {
		if ext.OnCleanupError(cerr) {
			return
		}
	}
}

// bound follows the binding table and rejects unbound interfaces.
func (inj *Injector) bound(node *moleculeNode) (*moleculeNode, error) {
	if node == nil {
		return nil, ErrInvalidMolecule
	}
	if impl, ok := inj.bindings[node]; ok {
		node = impl
	}
	if node.kind == kindInterface {
		return nil, fmt.Errorf("%s: %w", node, ErrUnboundInterface)
	}
	return node, nil
}

// pathFor computes the canonical cache path for node under the given scope
// footprint: the context tuples restricted to the footprint, sorted by
// scope creation order, prefixed with the molecule.
func (inj *Injector) pathFor(node *moleculeNode, scopes scopeSet, ctxTuples map[*scopeNode]ScopeTuple) ([]any, []ScopeTuple) {
	selected := make([]ScopeTuple, 0, len(scopes))
	for n := range scopes {
		if t, ok := ctxTuples[n]; ok {
			selected = append(selected, t)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].scope.orderID < selected[j].scope.orderID
	})

	path := make([]any, 0, len(selected)+1)
	path = append(path, node)
	for _, t := range selected {
		path = append(path, t)
	}
	return path, selected
}

// leaseTuplesFor returns the tuples whose records keep e alive: its
// explicit scope tuples plus the default tuples of scopes it reads only
// implicitly. An entry touching no scope anchors on its molecule identity.
func (inj *Injector) leaseTuplesFor(e *cacheEntry) []ScopeTuple {
	defaults := make([]*scopeNode, 0, len(e.deps.defaults))
	for n := range e.deps.defaults {
		defaults = append(defaults, n)
	}
	sort.Slice(defaults, func(i, j int) bool {
		return defaults[i].orderID < defaults[j].orderID
	})

	ts := make([]ScopeTuple, 0, len(e.scopeTuples)+len(defaults)+1)
	ts = append(ts, e.scopeTuples...)
	for _, n := range defaults {
		ts = append(ts, n.defaultTuple())
	}
	if len(ts) == 0 {
		ts = append(ts, ScopeTuple{scope: inj.anchorFor(e.node), value: e.node})
	}
	return ts
}

// anchorFor returns the synthetic scope leasing instances of node that
// depend on no scope at all, so they release like everything else. Each
// molecule gets its own anchor so unscoped entries never share a lease
// record. Caller holds inj.mu.
func (inj *Injector) anchorFor(node *moleculeNode) *scopeNode {
	a, ok := inj.anchors[node]
	if !ok {
		a = &scopeNode{orderID: scopeOrder.Add(1), label: "anchor:" + node.String()}
		inj.anchors[node] = a
	}
	return a
}

func (inj *Injector) lease(sess *session, e *cacheEntry) {
	sess.sub.Expand(inj.leaseTuplesFor(e)...)
}

// wrap chains extensions around an operation, last registered wrapping
// first, and notifies them of errors.
func (inj *Injector) wrap(op *Operation, next func() (any, error)) (any, error) {
	exts := inj.exts()
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		currentNext := next
		next = func() (any, error) {
			return ext.Wrap(currentNext, op)
		}
	}

	result, err := next()
	if err != nil {
		for _, ext := range exts {
			ext.OnError(err, op)
		}
	}
	return result, err
}

func (inj *Injector) construct(node *moleculeNode, ctx *ResolveCtx) (any, error) {
	op := &Operation{Kind: OpResolve, Molecule: node.handle, Injector: inj}
	return inj.wrap(op, func() (any, error) {
		return node.ctor(ctx)
	})
}

func cycleError(resolving []*moleculeNode, node *moleculeNode) *CycleError {
	start := 0
	for i, r := range resolving {
		if r == node {
			start = i
			break
		}
	}
	path := make([]string, 0, len(resolving)-start+1)
	for _, r := range resolving[start:] {
		path = append(path, r.String())
	}
	path = append(path, node.String())
	return &CycleError{Path: path}
}

// resolveNode resolves one molecule within a session, leasing the resulting
// entry's scopes on the session's subscription. Caller holds inj.mu.
func (inj *Injector) resolveNode(node *moleculeNode, sess *session) (*cacheEntry, error) {
	node, err := inj.bound(node)
	if err != nil {
		return nil, err
	}

	for _, r := range sess.resolving {
		if r == node {
			return nil, cycleError(sess.resolving, node)
		}
	}

	// Fast path: the footprint is known, so the canonical path can be
	// computed without running the constructor.
	if fp, ok := inj.fingerprints[node]; ok {
		path, _ := inj.pathFor(node, fp.all, sess.tuples)
		if e, hit := inj.cache.Get(path...); hit {
			inj.lease(sess, e)
			return e, nil
		}
	}

	sess.resolving = append(sess.resolving, node)
	defer func() {
		sess.resolving = sess.resolving[:len(sess.resolving)-1]
	}()

	ctx := &ResolveCtx{
		inj:      inj,
		sess:     sess,
		tracking: newDepTracking(),
	}
	value, err := inj.construct(node, ctx)
	ctx.sealed = true
	if err != nil {
		// All-or-nothing: a failed construction leaves no cache entry.
		return nil, err
	}

	if fp, ok := inj.fingerprints[node]; ok {
		if !fp.all.equal(ctx.tracking.all) {
			return nil, &ConditionalDependencyError{
				Molecule: node.String(),
				Previous: fp.all.names(),
				Current:  ctx.tracking.all.names(),
			}
		}
	} else {
		inj.fingerprints[node] = &fingerprint{all: ctx.tracking.all.clone()}
	}

	path, pathTuples := inj.pathFor(node, ctx.tracking.all, sess.tuples)
	entry, err := inj.cache.Cache(func() *cacheEntry {
		return &cacheEntry{
			id:          uuid.New(),
			node:        node,
			value:       value,
			path:        path,
			scopeTuples: pathTuples,
			deps: entryDeps{
				all:      ctx.tracking.all,
				defaults: ctx.tracking.defaults,
				buddies:  ctx.tracking.buddies,
				children: ctx.tracking.children,
			},
			mountFns: ctx.mountFns,
		}
	}, nil, path...)
	if err != nil {
		return nil, err
	}

	inj.lease(sess, entry)
	return entry, nil
}

// mountEntry mounts e and everything it depends on, dependencies first, and
// registers the collected cleanups against the records keeping e alive. A
// shared dependency in a diamond mounts exactly once.
func (inj *Injector) mountEntry(e *cacheEntry) error {
	if !e.mounted {
		// Marked before recursing, so a re-entrant mount is a no-op.
		e.mounted = true
		for _, b := range e.deps.buddies {
			if err := inj.mountEntry(b); err != nil {
				return err
			}
		}

		op := &Operation{Kind: OpMount, Molecule: e.node.handle, Injector: inj}
		_, err := inj.wrap(op, func() (any, error) {
			tasks := make([]*Cleanup, 0, len(e.mountFns)+1)
			// Registered first so it runs last: purging the entry lets a
			// later lease reconstruct and re-mount instead of reusing an
			// already-cleaned-up instance.
			tasks = append(tasks, NewCleanup(func() error {
				inj.cache.Remove(e.path...)
				e.mounted = false
				return nil
			}))
			for _, fn := range e.mountFns {
				if cleanup := fn(); cleanup != nil {
					tasks = append(tasks, NewCleanup(cleanup))
				}
			}
			e.cleanups = tasks
			return nil, nil
		})
		if err != nil {
			// A vetoed mount must not leave a cached half-mounted entry.
			e.mounted = false
			inj.cache.Remove(e.path...)
			return err
		}
	}

	return inj.scoper.addCleanups(inj.leaseTuplesFor(e), e.cleanups)
}

// normalize validates explicit tuples and drops any whose value equals its
// scope's default, which is treated as absent.
func (inj *Injector) normalize(tuples []ScopeTuple) (map[*scopeNode]ScopeTuple, error) {
	norm := make(map[*scopeNode]ScopeTuple, len(tuples))
	for _, t := range tuples {
		if t.scope == nil {
			return nil, fmt.Errorf("scope tuple: %w", ErrInvalidScope)
		}
		// Scope values key lease records and cache paths; a non-comparable
		// value would panic deep inside instead of failing here.
		if t.value != nil && !reflect.TypeOf(t.value).Comparable() {
			return nil, fmt.Errorf("scope value of type %T is not comparable: %w", t.value, ErrInvalidScope)
		}
		if t.isDefault() {
			continue
		}
		norm[t.scope] = t
	}
	return norm, nil
}

func sortedTuples(norm map[*scopeNode]ScopeTuple) []ScopeTuple {
	out := make([]ScopeTuple, 0, len(norm))
	for _, t := range norm {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].scope.orderID < out[j].scope.orderID
	})
	return out
}

func resolvableNode[T any](m Resolvable[T]) (*moleculeNode, error) {
	if m == nil {
		return nil, ErrInvalidMolecule
	}
	node := m.anyMoleculeNode()
	if node == nil {
		return nil, ErrInvalidMolecule
	}
	return node, nil
}

// useNode is the shared resolve+mount flow behind Get and Use. Pinned
// subscriptions are held until Dispose.
func (inj *Injector) useNode(node *moleculeNode, tuples []ScopeTuple, pinned bool) (any, func(), error) {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	norm, err := inj.normalize(tuples)
	if err != nil {
		return nil, nil, err
	}

	sub := inj.scoper.CreateSubscription()
	sub.Expand(sortedTuples(norm)...)
	sess := &session{sub: sub, tuples: norm}

	entry, err := inj.resolveNode(node, sess)
	if err != nil {
		return nil, nil, err
	}

	sub.start()
	if err := inj.mountEntry(entry); err != nil {
		sub.stop()
		return nil, nil, err
	}

	if pinned {
		inj.pinned = append(inj.pinned, sub)
		return entry.value, nil, nil
	}

	// Exported Stop goes through the scoper's serializer and takes inj.mu.
	return entry.value, sub.Stop, nil
}

// Get resolves and mounts m under the given scope values. The lease it
// takes is never released before Dispose, so Get is best suited to
// process-lifetime molecules and tests.
func Get[T any](inj *Injector, m Resolvable[T], scopes ...ScopeTuple) (T, error) {
	var zero T
	node, err := resolvableNode(m)
	if err != nil {
		return zero, err
	}
	v, _, err := inj.useNode(node, scopes, true)
	if err != nil {
		return zero, err
	}
	return typeAssert[T](v)
}

// Use resolves and mounts m under the given scope values, returning the
// value and an unsubscribe function releasing this caller's leases.
func Use[T any](inj *Injector, m Resolvable[T], scopes ...ScopeTuple) (T, func(), error) {
	var zero T
	node, err := resolvableNode(m)
	if err != nil {
		return zero, nil, err
	}
	v, unsub, err := inj.useNode(node, scopes, false)
	if err != nil {
		return zero, nil, err
	}
	typed, err := typeAssert[T](v)
	if err != nil {
		unsub()
		return zero, nil, err
	}
	return typed, unsub, nil
}

// UseLazily resolves m without starting a lease and returns the snapshot
// value together with a Lease controlling when the subscription actually
// starts and stops.
func UseLazily[T any](inj *Injector, m Resolvable[T], scopes ...ScopeTuple) (T, *Lease[T], error) {
	var zero T
	node, err := resolvableNode(m)
	if err != nil {
		return zero, nil, err
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()

	norm, err := inj.normalize(scopes)
	if err != nil {
		return zero, nil, err
	}

	sub := inj.scoper.CreateSubscription()
	sub.Expand(sortedTuples(norm)...)
	sess := &session{sub: sub, tuples: norm}

	entry, err := inj.resolveNode(node, sess)
	if err != nil {
		return zero, nil, err
	}

	snapshot, err := typeAssert[T](entry.value)
	if err != nil {
		return zero, nil, err
	}

	return snapshot, &Lease[T]{inj: inj, node: node, sub: sub, tuples: norm}, nil
}

// Lease controls the deferred subscription returned by UseLazily.
type Lease[T any] struct {
	inj    *Injector
	node   *moleculeNode
	sub    *Subscription
	tuples map[*scopeNode]ScopeTuple
	active bool
}

// Start acquires the lease, mounts the instance, and returns the current
// value. Starting an already-active lease is an error; starting after a
// stop re-resolves, which reconstructs the instance if it was released.
func (l *Lease[T]) Start() (T, error) {
	var zero T
	l.inj.mu.Lock()
	defer l.inj.mu.Unlock()

	if l.active {
		return zero, &SubscriptionStateError{Op: "start", State: StateActive}
	}

	sess := &session{sub: l.sub, tuples: l.tuples}
	entry, err := l.inj.resolveNode(l.node, sess)
	if err != nil {
		return zero, err
	}

	l.sub.start()
	if err := l.inj.mountEntry(entry); err != nil {
		l.sub.stop()
		return zero, err
	}

	l.active = true
	return typeAssert[T](entry.value)
}

// Stop releases the lease. Stopping a lease that is not active is an error.
func (l *Lease[T]) Stop() error {
	l.inj.mu.Lock()
	defer l.inj.mu.Unlock()

	if !l.active {
		return &SubscriptionStateError{Op: "stop", State: l.sub.State()}
	}
	l.active = false
	l.sub.stop()
	return nil
}

// UseScopes opens a lease over the given tuples without resolving any
// molecule, returning the canonical tuples and an unsubscribe function.
func (inj *Injector) UseScopes(tuples ...ScopeTuple) ([]ScopeTuple, func()) {
	return inj.scoper.UseScopes(tuples...)
}

// CreateSubscription exposes direct lease control over this injector's
// scoper.
func (inj *Injector) CreateSubscription() *Subscription {
	return inj.scoper.CreateSubscription()
}

// Dispose releases the leases pinned by Get and disposes extensions. Active
// Use subscriptions remain the caller's to stop.
func (inj *Injector) Dispose() error {
	inj.mu.Lock()
	pinned := inj.pinned
	inj.pinned = nil
	for _, sub := range pinned {
		sub.stop()
	}
	// Entries resolved lazily but never started hold no lease, so nothing
	// else reclaims them.
	inj.cache.Evict(func(e *cacheEntry) bool { return !e.mounted })
	inj.mu.Unlock()

	for _, ext := range inj.exts() {
		if err := ext.Dispose(inj); err != nil {
			return fmt.Errorf("disposing extension %s: %w", ext.Name(), err)
		}
	}
	return nil
}
