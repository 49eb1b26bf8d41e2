package molecule

import (
	"fmt"
)

// MountFn runs once when a molecule instance is first mounted. It may
// return a cleanup invoked exactly once when the instance fully releases,
// or nil when there is nothing to tear down.
type MountFn func() CleanupFn

// CleanupFn tears down state created at mount time.
type CleanupFn func() error

// ResolveCtx is the capability object handed to a molecule constructor. It
// is valid only for the synchronous duration of the constructor call; every
// capability invoked after the constructor has returned fails with
// ErrStaleContext rather than producing a stale answer.
//
// Each construction owns its own ResolveCtx, so nested constructions
// triggered through GetMolecule are trivially reentrant-safe.
type ResolveCtx struct {
	inj      *Injector
	sess     *session
	tracking *depTracking
	mountFns []MountFn
	sealed   bool
}

// GetMolecule declares a dependency edge to another molecule (or bound
// interface) and returns its resolved value.
func (ctx *ResolveCtx) GetMolecule(dep any) (any, error) {
	if ctx.sealed {
		return nil, fmt.Errorf("GetMolecule: %w", ErrStaleContext)
	}

	m, ok := dep.(AnyMolecule)
	if !ok {
		if _, isScope := dep.(AnyScope); isScope {
			return nil, fmt.Errorf("GetMolecule: scope %v: %w", dep, ErrInvalidMolecule)
		}
		return nil, fmt.Errorf("GetMolecule: %T: %w", dep, ErrBadUse)
	}

	entry, err := ctx.inj.resolveNode(m.anyMoleculeNode(), ctx.sess)
	if err != nil {
		return nil, err
	}
	ctx.tracking.merge(entry)
	return entry.value, nil
}

// GetScope declares a dependency edge to a scope and returns the value the
// caller supplied for it, or the scope's default when none was supplied.
func (ctx *ResolveCtx) GetScope(s any) (any, error) {
	if ctx.sealed {
		return nil, fmt.Errorf("GetScope: %w", ErrStaleContext)
	}

	sc, ok := s.(AnyScope)
	if !ok {
		if _, isMol := s.(AnyMolecule); isMol {
			return nil, fmt.Errorf("GetScope: molecule %v: %w", s, ErrInvalidScope)
		}
		return nil, fmt.Errorf("GetScope: %T: %w", s, ErrBadUse)
	}

	node := sc.anyScopeNode()
	if node == nil {
		return nil, fmt.Errorf("GetScope: %w", ErrInvalidScope)
	}

	ctx.tracking.all[node] = struct{}{}
	if t, ok := ctx.sess.tuples[node]; ok {
		return t.value, nil
	}
	ctx.tracking.defaults[node] = struct{}{}
	return node.def, nil
}

// OnMount registers fn to run at first mount of the instance under
// construction. The cleanup fn returns, if any, runs exactly once when the
// instance fully releases.
func (ctx *ResolveCtx) OnMount(fn MountFn) error {
	if ctx.sealed {
		return fmt.Errorf("OnMount: %w", ErrStaleContext)
	}
	if fn == nil {
		return nil
	}
	ctx.mountFns = append(ctx.mountFns, fn)
	return nil
}

// OnUnmount registers a cleanup with no mount-time work.
func (ctx *ResolveCtx) OnUnmount(cleanup CleanupFn) error {
	if cleanup == nil {
		return nil
	}
	return ctx.OnMount(func() CleanupFn {
		return cleanup
	})
}

// Dep resolves dep within ctx and returns its typed value.
func Dep[D any](ctx *ResolveCtx, dep Resolvable[D]) (D, error) {
	v, err := ctx.GetMolecule(dep)
	if err != nil {
		var zero D
		return zero, err
	}
	return typeAssert[D](v)
}

// ScopeVal returns the value of s in the current resolution context.
func ScopeVal[S any](ctx *ResolveCtx, s *Scope[S]) (S, error) {
	v, err := ctx.GetScope(s)
	if err != nil {
		var zero S
		return zero, err
	}
	return typeAssert[S](v)
}
