package registry

import "errors"

// Domain errors for the registry package.
var (
	// ErrInvalidEntry is returned when an entry is missing required metadata.
	ErrInvalidEntry = errors.New("registry: invalid entry")

	// ErrDuplicateModule is returned when a module is registered twice.
	ErrDuplicateModule = errors.New("registry: module already registered")

	// ErrDuplicateClass is returned when a class name is claimed by two modules.
	ErrDuplicateClass = errors.New("registry: class already registered")

	// ErrUnknownModule is returned when looking up a module that is not registered.
	ErrUnknownModule = errors.New("registry: unknown module")

	// ErrUnknownClass is returned by providers asked for a class they do not have.
	ErrUnknownClass = errors.New("registry: unknown class")

	// ErrLoadFailed wraps every provider load failure, including panics.
	ErrLoadFailed = errors.New("registry: provider load failed")
)
