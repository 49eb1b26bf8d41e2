package molecule

// Extension provides hooks into injector operations.
type Extension interface {
	// Name returns the extension's name
	Name() string

	// Order determines extension execution order (lower = earlier)
	Order() int

	// Init is called when the extension is registered to an injector
	Init(inj *Injector) error

	// Wrap intercepts operations (resolve, mount)
	Wrap(next func() (any, error), op *Operation) (any, error)

	// OnError handles errors during an operation
	OnError(err error, op *Operation)

	// OnCleanupError handles cleanup failures
	// Returns true if the error was handled, false to use default behavior
	OnCleanupError(err *CleanupError) bool

	// Dispose is called when the injector is disposed
	Dispose(inj *Injector) error
}

// BaseExtension provides default implementations for Extension methods
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a new base extension with the given name
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Order() int {
	return 100
}

func (e *BaseExtension) Init(inj *Injector) error {
	return nil
}

func (e *BaseExtension) Wrap(next func() (any, error), op *Operation) (any, error) {
	return next()
}

func (e *BaseExtension) OnError(err error, op *Operation) {
}

func (e *BaseExtension) OnCleanupError(err *CleanupError) bool {
	return false
}

func (e *BaseExtension) Dispose(inj *Injector) error {
	return nil
}

// Operation describes what operation is happening
type Operation struct {
	Kind     OperationKind
	Molecule AnyMolecule
	Injector *Injector
}

// OperationKind represents the type of operation
type OperationKind string

const (
	// OpResolve indicates a molecule construction
	OpResolve OperationKind = "resolve"
	// OpMount indicates a molecule instance mount
	OpMount OperationKind = "mount"
)
