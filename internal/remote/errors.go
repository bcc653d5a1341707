package remote

import "errors"

// Domain errors for the remote package.
var (
	// ErrFrameTooLarge is returned for frames above MaxFrameSize.
	ErrFrameTooLarge = errors.New("remote: frame too large")

	// ErrIDMismatch is returned when a response id differs from its request's.
	ErrIDMismatch = errors.New("remote: response id mismatch")

	// ErrServer wraps an error reported by the remote server.
	ErrServer = errors.New("remote: server error")

	// ErrUnknownOp is reported for requests the server does not support.
	ErrUnknownOp = errors.New("remote: unknown operation")

	// ErrNotStarted is returned by Addr before Start.
	ErrNotStarted = errors.New("remote: server not started")
)
