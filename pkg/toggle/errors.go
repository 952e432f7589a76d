package toggle

import (
	"errors"
	"fmt"
)

// ErrNoConfiguration is returned when the engine is enabled without a
// descriptor.
var ErrNoConfiguration = errors.New("no engine configuration")

// EngineStartError wraps a failure to build or start an engine.
type EngineStartError struct {
	Descriptor string
	Err        error
}

func (e *EngineStartError) Error() string {
	return fmt.Sprintf("starting engine from %q: %v", e.Descriptor, e.Err)
}

func (e *EngineStartError) Unwrap() error { return e.Err }
