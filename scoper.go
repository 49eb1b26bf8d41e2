package molecule

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// SubscriptionState tracks where a subscription is in its lifecycle.
type SubscriptionState int

const (
	// StateInitial means the subscription has never been started.
	StateInitial SubscriptionState = iota
	// StateActive means the subscription currently holds leases.
	StateActive
	// StateStopped means the subscription released its leases. It may be
	// started again, which restarts it under a fresh identity.
	StateStopped
)

func (s SubscriptionState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state-%d", int(s))
	}
}

var cleanupSeq atomic.Uint64

// Cleanup is a teardown callback with exactly-once execution semantics. The
// same Cleanup may be registered against any number of lease records; the
// first record to release it wins and every other path skips it. Creation
// order is remembered so teardown can run newest-first even when a release
// empties several records at once.
type Cleanup struct {
	seq uint64
	fn  CleanupFn
	ran bool
}

// NewCleanup wraps fn as a shareable exactly-once cleanup.
func NewCleanup(fn CleanupFn) *Cleanup {
	return &Cleanup{seq: cleanupSeq.Add(1), fn: fn}
}

// leaseToken is one start generation of a subscription. Restarting after a
// stop swaps in a fresh token, so a released generation can never re-acquire
// a lease it has already dropped.
type leaseToken struct{ _ byte }

type scopeRecord struct {
	tuple      ScopeTuple
	refs       map[*leaseToken]struct{}
	cleanups   []*Cleanup
	registered map[*Cleanup]struct{}
}

// Scoper tracks reference-counted leases over (scope, value) pairs. It owns
// the canonical tuple for every leased pair and runs the pair's cleanups
// when its last lease releases.
type Scoper struct {
	mu      sync.Mutex
	records map[*scopeNode]map[any]*scopeRecord

	// serialize wraps the lease transitions that may run cleanups; nil runs
	// them directly. The injector installs its own lock here so an unmount
	// triggered through a handed-out subscription never interleaves with a
	// resolution.
	serialize func(func())

	// onCleanupError observes cleanup failures; nil drops them.
	onCleanupError func(tuple ScopeTuple, err error)
}

func (sc *Scoper) run(fn func()) {
	if sc.serialize != nil {
		sc.serialize(fn)
		return
	}
	fn()
}

// NewScoper creates an empty scoper.
func NewScoper() *Scoper {
	return &Scoper{
		records: make(map[*scopeNode]map[any]*scopeRecord),
	}
}

// CreateSubscription returns an unstarted subscription over this scoper.
func (sc *Scoper) CreateSubscription() *Subscription {
	return &Subscription{
		scoper: sc,
		token:  &leaseToken{},
		tuples: make(map[*scopeNode]ScopeTuple),
	}
}

// UseScopes is the convenience form: create a subscription, expand it over
// tuples, and start it. It returns the canonical tuples and a stop function.
func (sc *Scoper) UseScopes(tuples ...ScopeTuple) ([]ScopeTuple, func()) {
	sub := sc.CreateSubscription()
	sub.Expand(tuples...)
	sub.Start()
	return sub.Tuples(), sub.Stop
}

// record returns the live record for t, or nil. Caller holds sc.mu.
func (sc *Scoper) record(t ScopeTuple) *scopeRecord {
	byValue, ok := sc.records[t.scope]
	if !ok {
		return nil
	}
	return byValue[t.value]
}

// ensureRecord returns the live record for t, creating one when none
// exists. Caller holds sc.mu.
func (sc *Scoper) ensureRecord(t ScopeTuple) *scopeRecord {
	byValue, ok := sc.records[t.scope]
	if !ok {
		byValue = make(map[any]*scopeRecord)
		sc.records[t.scope] = byValue
	}
	r, ok := byValue[t.value]
	if !ok {
		r = &scopeRecord{
			tuple:      t,
			refs:       make(map[*leaseToken]struct{}),
			registered: make(map[*Cleanup]struct{}),
		}
		byValue[t.value] = r
	}
	return r
}

// addCleanups attaches cleanups to the live records backing tuples. Every
// tuple must have a live record or nothing is registered.
func (sc *Scoper) addCleanups(tuples []ScopeTuple, cleanups []*Cleanup) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	recs := make([]*scopeRecord, 0, len(tuples))
	for _, t := range tuples {
		r := sc.record(t)
		if r == nil {
			return fmt.Errorf("%s: %w", t, ErrUncachedCleanup)
		}
		recs = append(recs, r)
	}

	for _, r := range recs {
		for _, c := range cleanups {
			if _, ok := r.registered[c]; ok {
				continue
			}
			r.registered[c] = struct{}{}
			r.cleanups = append(r.cleanups, c)
		}
	}
	return nil
}

type pendingCleanup struct {
	tuple ScopeTuple
	seq   uint64
	fn    CleanupFn
}

// release drops one token from each tuple's record, removes records that
// emptied, and runs their not-yet-run cleanups newest-first, so dependents
// always tear down before what they depend on.
func (sc *Scoper) release(token *leaseToken, tuples []ScopeTuple) {
	sc.mu.Lock()
	var pending []pendingCleanup
	for _, t := range tuples {
		r := sc.record(t)
		if r == nil {
			continue
		}
		delete(r.refs, token)
		if len(r.refs) > 0 {
			continue
		}
		delete(sc.records[t.scope], t.value)
		if len(sc.records[t.scope]) == 0 {
			delete(sc.records, t.scope)
		}
		for _, c := range r.cleanups {
			if c.ran {
				continue
			}
			c.ran = true
			pending = append(pending, pendingCleanup{tuple: r.tuple, seq: c.seq, fn: c.fn})
		}
	}
	onErr := sc.onCleanupError
	sc.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].seq > pending[j].seq
	})
	for _, p := range pending {
		if err := p.fn(); err != nil && onErr != nil {
			onErr(p.tuple, err)
		}
	}
}

// Subscription is a caller's lease over a set of scope tuples. The tuple
// snapshot survives stop; starting again re-acquires the same tuples under
// a fresh identity.
type Subscription struct {
	scoper *Scoper

	mu     sync.Mutex
	token  *leaseToken
	order  []*scopeNode
	tuples map[*scopeNode]ScopeTuple
	state  SubscriptionState
}

// Expand canonicalizes tuples against live records and merges them into the
// subscription's snapshot. A later tuple for a scope already in the
// snapshot overrides the earlier one. Returns the merged snapshot.
func (s *Subscription) Expand(tuples ...ScopeTuple) []ScopeTuple {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scoper.mu.Lock()
	for _, t := range tuples {
		if t.scope == nil {
			continue
		}
		if r := s.scoper.record(t); r != nil {
			t = r.tuple
		}
		if _, ok := s.tuples[t.scope]; !ok {
			s.order = append(s.order, t.scope)
		}
		s.tuples[t.scope] = t
	}
	s.scoper.mu.Unlock()

	return s.snapshot()
}

// Start acquires one lease on every tuple in the snapshot. Starting an
// active subscription is a no-op; starting a stopped one restarts it under
// a fresh identity.
func (s *Subscription) Start() {
	s.scoper.run(s.start)
}

func (s *Subscription) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateActive {
		return
	}
	if s.state == StateStopped {
		s.token = &leaseToken{}
	}

	s.scoper.mu.Lock()
	for _, n := range s.order {
		r := s.scoper.ensureRecord(s.tuples[n])
		r.refs[s.token] = struct{}{}
	}
	s.scoper.mu.Unlock()

	s.state = StateActive
}

// Stop releases the subscription's leases, running the cleanups of any
// record left with no leases. Stopping a subscription that is not active is
// a no-op.
func (s *Subscription) Stop() {
	s.scoper.run(s.stop)
}

func (s *Subscription) stop() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	token := s.token
	snap := s.snapshot()
	s.mu.Unlock()

	s.scoper.release(token, snap)
}

// AddCleanups attaches cleanups to the records backing the subscription's
// current tuples. Every tuple must be actively leased.
func (s *Subscription) AddCleanups(cleanups ...*Cleanup) error {
	s.mu.Lock()
	snap := s.snapshot()
	s.mu.Unlock()
	return s.scoper.addCleanups(snap, cleanups)
}

// Tuples returns the canonical tuple snapshot in first-expansion order.
func (s *Subscription) Tuples() []ScopeTuple {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// State reports the subscription's lifecycle state.
func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) snapshot() []ScopeTuple {
	out := make([]ScopeTuple, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.tuples[n])
	}
	return out
}
