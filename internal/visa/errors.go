package visa

import "errors"

// Domain errors for the visa package.
var (
	// ErrInvalidAddress is returned when a resource string cannot be parsed.
	ErrInvalidAddress = errors.New("visa: invalid resource address")

	// ErrUnsupportedAddress is returned for well-formed addresses whose
	// interface type has no transport here (GPIB, USBTMC, VXI-11).
	ErrUnsupportedAddress = errors.New("visa: unsupported resource type")

	// ErrOpenFailed is returned when a resource cannot be opened.
	ErrOpenFailed = errors.New("visa: open failed")

	// ErrTimeout is returned when a read or write exceeds the resource timeout.
	ErrTimeout = errors.New("visa: timeout")

	// ErrClosed is returned when using a resource after Close.
	ErrClosed = errors.New("visa: resource closed")

	// ErrIO is returned for any other transport failure.
	ErrIO = errors.New("visa: i/o error")
)
