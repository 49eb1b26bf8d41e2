package extensions

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	molecule "github.com/molecule-fn/molecule-go"
)

// LoggingExtension logs injector operations and cleanup failures.
type LoggingExtension struct {
	molecule.BaseExtension
	logger *log.Logger
}

// NewLoggingExtension creates a logging extension. A nil logger falls back
// to the package default.
func NewLoggingExtension(logger *log.Logger) *LoggingExtension {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingExtension{
		BaseExtension: molecule.NewBaseExtension("logging"),
		logger:        logger,
	}
}

func (e *LoggingExtension) Wrap(next func() (any, error), op *molecule.Operation) (any, error) {
	start := time.Now()
	result, err := next()
	duration := time.Since(start)

	if err != nil {
		e.logger.Error("operation failed",
			"kind", string(op.Kind),
			"molecule", fmt.Sprint(op.Molecule),
			"duration", duration,
			"err", err)
		return result, err
	}

	e.logger.Debug("operation completed",
		"kind", string(op.Kind),
		"molecule", fmt.Sprint(op.Molecule),
		"duration", duration)
	return result, err
}

func (e *LoggingExtension) OnCleanupError(err *molecule.CleanupError) bool {
	e.logger.Error("cleanup failed",
		"tuple", err.Tuple.String(),
		"err", err.Err)
	return true
}
