package resolver

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is against an *Error.
var (
	ErrNotFound = errors.New("configuration not found")
	ErrNetwork  = errors.New("configuration download failed")
)

// Kind classifies a resolution failure.
type Kind int

const (
	// NotFound means an asset or file source could not be opened.
	NotFound Kind = iota + 1
	// NetworkError means an HTTP(S) source could not be fetched.
	NetworkError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case NetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// Error is returned for descriptors with an explicit scheme that could not
// be resolved.
type Error struct {
	Kind       Kind
	Descriptor string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolve %q: %s: %v", e.Descriptor, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == NotFound
	case ErrNetwork:
		return e.Kind == NetworkError
	}
	return false
}
