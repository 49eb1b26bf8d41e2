// Package molecule provides scoped, lazily-constructed singletons with
// reference-counted lifecycles for Go.
//
// # Overview
//
// The package organizes code around three core concepts:
//
//  1. Molecules: lazily-constructed, memoized units of state
//  2. Scopes: named dimensions of variation with default values
//  3. Injectors: resolvers that cache one instance per molecule per unique
//     combination of the scope values it reads
//
// # Basic Usage
//
// Define scopes and molecules once, at package level:
//
//	var UserScope = molecule.NewScope("anonymous",
//	    molecule.WithScopeLabel("user"))
//
//	var SessionMol = molecule.New(func(ctx *molecule.ResolveCtx) (*Session, error) {
//	    user, err := molecule.ScopeVal(ctx, UserScope)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return NewSession(user), nil
//	})
//
// Resolve them through an injector:
//
//	inj := molecule.NewInjector()
//
//	alice, release, err := molecule.Use(inj, SessionMol, UserScope.With("alice"))
//	defer release()
//
// Two calls with the same scope value share one instance; different values
// get different instances. A molecule that never reads a scope is a plain
// per-injector singleton, whatever scope values accompany the call.
//
// # Dependencies
//
// Constructors declare dependencies by resolving them through the context:
//
//	var RepoMol = molecule.New(func(ctx *molecule.ResolveCtx) (*Repo, error) {
//	    sess, err := molecule.Dep(ctx, SessionMol)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &Repo{sess: sess}, nil
//	})
//
// Dependencies are discovered at run time: a molecule's scope footprint is
// the union of every scope it and its dependencies read. The footprint must
// be identical on every construction; a constructor that sometimes reads a
// scope and sometimes does not fails with ConditionalDependencyError.
//
// # Lifecycle
//
// Constructors may register mount hooks. The mount callback runs once when
// the instance is first mounted, dependencies before dependents, and its
// returned cleanup runs exactly once when the last lease on the instance's
// scope values releases:
//
//	var WatcherMol = molecule.New(func(ctx *molecule.ResolveCtx) (*Watcher, error) {
//	    w := NewWatcher()
//	    ctx.OnMount(func() molecule.CleanupFn {
//	        w.Run()
//	        return w.Close
//	    })
//	    return w, nil
//	})
//
// The ResolveCtx is valid only during the synchronous constructor call;
// using it afterwards fails with ErrStaleContext.
//
// # Interfaces and Bindings
//
// An Interface is a molecule placeholder bound at injector creation:
//
//	var StoreIface = molecule.NewInterface[Store]()
//
//	inj := molecule.NewInjector(molecule.Bind(StoreIface, MemStoreMol))
//
// Resolving the interface directly and resolving it through a dependent
// yield the same instance.
//
// # Subscriptions
//
// Use returns a release function; UseLazily defers the lease until Start is
// called; UseScopes leases scope tuples without resolving a molecule; Get
// holds its lease until the injector is disposed.
package molecule
