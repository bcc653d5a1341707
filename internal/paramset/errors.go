package paramset

import "errors"

// Domain errors for the paramset package.
var (
	// ErrKeyNotString is returned when a mapping key is not a string.
	ErrKeyNotString = errors.New("paramset: key is not a string")

	// ErrEmptyKey is returned when a key is the empty string.
	ErrEmptyKey = errors.New("paramset: empty key")

	// ErrInvalidSettings is returned when the settings entry is not a string-keyed map.
	ErrInvalidSettings = errors.New("paramset: settings must be a map with string keys")

	// ErrOddArguments is returned by Of when given an odd number of arguments.
	ErrOddArguments = errors.New("paramset: odd number of key/value arguments")

	// ErrInvalidLiteral is returned when a stored parameter literal cannot be parsed.
	ErrInvalidLiteral = errors.New("paramset: invalid literal")
)
