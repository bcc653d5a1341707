package alias

import "errors"

// Domain errors for the alias package.
var (
	// ErrAliasNotFound is returned when no store holds the requested name.
	ErrAliasNotFound = errors.New("alias: no such alias")

	// ErrInvalidName is returned for empty or whitespace-only names.
	ErrInvalidName = errors.New("alias: invalid name")

	// ErrReadOnly is returned when writing to a store that only reads.
	ErrReadOnly = errors.New("alias: store is read-only")
)
