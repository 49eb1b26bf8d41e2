package molecule

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for argument and usage violations. All are programmer
// errors raised at the point of misuse; none are retried internally.
var (
	// ErrInvalidMolecule is returned when a value that is not a molecule is
	// passed where a molecule is required.
	ErrInvalidMolecule = errors.New("not a molecule")

	// ErrInvalidScope is returned when a value that is not a scope is passed
	// where a scope is required.
	ErrInvalidScope = errors.New("not a scope")

	// ErrBadUse is returned when a dependency value is neither a molecule
	// nor a scope.
	ErrBadUse = errors.New("dependency is neither a molecule nor a scope")

	// ErrStaleContext is returned when a construction capability is invoked
	// after its constructor has returned.
	ErrStaleContext = errors.New("construction context used after constructor returned")

	// ErrUnboundInterface is returned when an interface is resolved through
	// an injector that carries no binding for it.
	ErrUnboundInterface = errors.New("interface has no binding")

	// ErrEmptyCachePath is returned by DeepCache operations that require at
	// least one key.
	ErrEmptyCachePath = errors.New("cache path must contain at least one key")

	// ErrUncachedCleanup is returned when cleanups are registered for a
	// scope value that has no live lease record.
	ErrUncachedCleanup = errors.New("cannot register cleanups for an unleased value")
)

// ConditionalDependencyError reports a molecule whose scope footprint
// diverged between constructions. A molecule must read the same set of
// scopes on every construction.
type ConditionalDependencyError struct {
	Molecule string
	Previous []string
	Current  []string
}

func (e *ConditionalDependencyError) Error() string {
	return fmt.Sprintf("conditional dependency in %s: scope footprint changed between constructions: [%s] -> [%s]",
		e.Molecule, strings.Join(e.Previous, " "), strings.Join(e.Current, " "))
}

// CycleError reports a molecule that transitively depends on itself.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "molecule dependency cycle detected"
	}
	return "molecule dependency cycle detected: " + strings.Join(e.Path, " -> ")
}

// SubscriptionStateError reports a start or stop call made out of sequence.
type SubscriptionStateError struct {
	Op    string
	State SubscriptionState
}

func (e *SubscriptionStateError) Error() string {
	return fmt.Sprintf("subscription: cannot %s while %s", e.Op, e.State)
}

// CleanupError reports a cleanup callback failure during lease release.
type CleanupError struct {
	Tuple ScopeTuple
	Err   error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup for %s: %v", e.Tuple, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// typeAssert narrows a cached any value back to its declared type.
func typeAssert[T any](value any) (T, error) {
	if value == nil {
		var zero T
		return zero, nil
	}

	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("type assertion error: expected %T, got %T", zero, value)
	}

	return typed, nil
}
