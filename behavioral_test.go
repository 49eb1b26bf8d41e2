package molecule

import (
	"errors"
	"fmt"
	"testing"
)

// TestBehavior_ChatApplication walks a realistic multi-tenant setup end to
// end: a shared connection pool, per-company and per-user state, lifecycle
// hooks, and release-driven reclamation.
func TestBehavior_ChatApplication(t *testing.T) {
	company := NewScope("", WithScopeLabel("company"))
	user := NewScope("", WithScopeLabel("user"))

	var log []string

	type pool struct{ open bool }
	poolMol := New(func(ctx *ResolveCtx) (*pool, error) {
		p := &pool{open: true}
		ctx.OnMount(func() CleanupFn {
			log = append(log, "pool up")
			return func() error {
				p.open = false
				log = append(log, "pool down")
				return nil
			}
		})
		return p, nil
	}, WithMoleculeLabel("pool"))

	type companyState struct {
		name string
		pool *pool
	}
	companyStateMol := New(func(ctx *ResolveCtx) (*companyState, error) {
		p, err := Dep(ctx, poolMol)
		if err != nil {
			return nil, err
		}
		name, err := ScopeVal(ctx, company)
		if err != nil {
			return nil, err
		}
		ctx.OnMount(func() CleanupFn {
			log = append(log, "company up "+name)
			return func() error {
				log = append(log, "company down "+name)
				return nil
			}
		})
		return &companyState{name: name, pool: p}, nil
	}, WithMoleculeLabel("company-state"))

	type userSession struct {
		user    string
		company *companyState
	}
	sessionMol := New(func(ctx *ResolveCtx) (*userSession, error) {
		cs, err := Dep(ctx, companyStateMol)
		if err != nil {
			return nil, err
		}
		u, err := ScopeVal(ctx, user)
		if err != nil {
			return nil, err
		}
		ctx.OnUnmount(func() error {
			log = append(log, "session down "+u)
			return nil
		})
		return &userSession{user: u, company: cs}, nil
	}, WithMoleculeLabel("session"))

	inj := NewInjector()

	alice, stopAlice, err := Use(inj, sessionMol, company.With("acme"), user.With("alice"))
	if err != nil {
		t.Fatalf("use alice: %v", err)
	}
	bob, stopBob, err := Use(inj, sessionMol, company.With("acme"), user.With("bob"))
	if err != nil {
		t.Fatalf("use bob: %v", err)
	}
	carol, stopCarol, err := Use(inj, sessionMol, company.With("globex"), user.With("carol"))
	if err != nil {
		t.Fatalf("use carol: %v", err)
	}

	if alice.company != bob.company {
		t.Error("same company must share company state")
	}
	if alice.company == carol.company {
		t.Error("different companies must not share company state")
	}
	if alice.company.pool != carol.company.pool {
		t.Error("pool is unscoped and must be shared across companies")
	}
	if !alice.company.pool.open {
		t.Error("pool must be open while leased")
	}

	stopAlice()
	if alice.company.name != "acme" || !alice.company.pool.open {
		t.Error("bob's lease must keep acme state and pool alive")
	}

	stopBob()
	stopCarol()

	want := []string{
		"pool up",
		"company up acme",
		"company up globex",
		"session down alice",
		"session down bob",
		"company down acme",
		"session down carol",
		"company down globex",
		"pool down",
	}
	if fmt.Sprint(log) != fmt.Sprint(want) {
		t.Errorf("lifecycle log:\n got %v\nwant %v", log, want)
	}

	// Everything released: a new use reconstructs from scratch.
	again, stopAgain, err := Use(inj, sessionMol, company.With("acme"), user.With("alice"))
	if err != nil {
		t.Fatalf("reuse alice: %v", err)
	}
	defer stopAgain()
	if again == alice {
		t.Error("released instance must not be resurrected")
	}
	if again.company.pool == alice.company.pool {
		t.Error("released pool must be reconstructed")
	}
}

// TestBehavior_ExtensionObservesOperations verifies the middleware sees
// resolve and mount operations in order.
func TestBehavior_ExtensionObservesOperations(t *testing.T) {
	rec := &recordingExtension{BaseExtension: NewBaseExtension("recorder")}
	inj := NewInjector(WithExtension(rec))

	dep := New(func(ctx *ResolveCtx) (int, error) {
		ctx.OnMount(func() CleanupFn { return nil })
		return 1, nil
	}, WithMoleculeLabel("dep"))
	root := New(func(ctx *ResolveCtx) (int, error) {
		return Dep(ctx, dep)
	}, WithMoleculeLabel("root"))

	if _, err := Get(inj, root); err != nil {
		t.Fatalf("get: %v", err)
	}

	want := []string{"resolve:root", "resolve:dep", "mount:dep", "mount:root"}
	if fmt.Sprint(rec.ops) != fmt.Sprint(want) {
		t.Errorf("operations:\n got %v\nwant %v", rec.ops, want)
	}
}

// TestBehavior_ExtensionSeesErrors verifies constructor failures reach
// OnError with the resolve operation.
func TestBehavior_ExtensionSeesErrors(t *testing.T) {
	rec := &recordingExtension{BaseExtension: NewBaseExtension("recorder")}
	inj := NewInjector(WithExtension(rec))

	boom := errors.New("boom")
	mol := New(func(ctx *ResolveCtx) (int, error) {
		return 0, boom
	}, WithMoleculeLabel("broken"))

	if _, err := Get(inj, mol); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], boom) {
		t.Errorf("OnError calls: %v", rec.errs)
	}
}

type recordingExtension struct {
	BaseExtension
	ops  []string
	errs []error
}

func (r *recordingExtension) Wrap(next func() (any, error), op *Operation) (any, error) {
	r.ops = append(r.ops, string(op.Kind)+":"+fmt.Sprint(op.Molecule))
	return next()
}

func (r *recordingExtension) OnError(err error, op *Operation) {
	r.errs = append(r.errs, err)
}
