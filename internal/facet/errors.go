package facet

import "errors"

// Domain errors for the facet package. All of them are returned before the
// facet's setter runs, so a rejected value never reaches the device.
var (
	// ErrReadOnly is returned when setting a facet that has no setter or was
	// declared Readonly.
	ErrReadOnly = errors.New("facet: cannot set a read-only facet")

	// ErrWriteOnly is returned when getting a facet that has no getter.
	ErrWriteOnly = errors.New("facet: cannot get a write-only facet")

	// ErrTypeCoercion is returned when a value cannot be converted to the
	// facet's declared type.
	ErrTypeCoercion = errors.New("facet: type coercion failed")

	// ErrOutOfRange is returned when a value falls outside the facet's limits.
	ErrOutOfRange = errors.New("facet: value out of range")

	// ErrUnmappedValue is returned when a value has no entry in the facet's
	// value mapping.
	ErrUnmappedValue = errors.New("facet: value not in mapping")

	// ErrNotMessenger is returned by message facets bound to an owner that
	// cannot write and query messages.
	ErrNotMessenger = errors.New("facet: owner does not implement Messenger")
)
