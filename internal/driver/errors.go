package driver

import (
	"errors"
	"fmt"
)

// Domain errors for the driver package.
var (
	// ErrInstrumentExists is matched by *InstrumentExistsError.
	ErrInstrumentExists = errors.New("driver: instrument already exists")

	// ErrLibrary is matched by *LibraryError.
	ErrLibrary = errors.New("driver: library error")

	// ErrNoResource is returned by VisaMixin methods before a resource is bound.
	ErrNoResource = errors.New("driver: no VISA resource bound")

	// ErrNotVisa is returned when binding a resource to an instrument that
	// does not embed VisaMixin.
	ErrNotVisa = errors.New("driver: instrument is not message based")

	// ErrNoAliasStore is returned by SaveInstrument when the session has no
	// alias store.
	ErrNoAliasStore = errors.New("driver: no alias store configured")

	// ErrUnknownFacet is returned when an instrument has no facet of the
	// requested name.
	ErrUnknownFacet = errors.New("driver: unknown facet")
)

// InstrumentExistsError is returned when opening an instrument whose
// identity is already live in the session under the strict reopen policy.
type InstrumentExistsError struct {
	Identity string
	Existing Instrument
}

func (e *InstrumentExistsError) Error() string {
	return fmt.Sprintf("driver: instrument already exists: %s", e.Identity)
}

// Is lets errors.Is match ErrInstrumentExists.
func (e *InstrumentExistsError) Is(target error) bool {
	return target == ErrInstrumentExists
}

// LibraryError wraps a failure reported by a vendor library or by the
// message transport, keeping the original error and any numeric code.
type LibraryError struct {
	// Op is the operation that failed, e.g. "query" or "open".
	Op string

	// Address is the resource or device the operation targeted.
	Address string

	// Code is the vendor error code, or 0 when there is none.
	Code int

	// Err is the underlying error.
	Err error
}

func (e *LibraryError) Error() string {
	msg := fmt.Sprintf("driver: %s", e.Op)
	if e.Address != "" {
		msg += " " + e.Address
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is match ErrLibrary.
func (e *LibraryError) Is(target error) bool {
	return target == ErrLibrary
}

// Unwrap returns the underlying error.
func (e *LibraryError) Unwrap() error { return e.Err }

// WrapLibrary returns err wrapped in a *LibraryError. It returns nil for a
// nil err and leaves errors that already are library errors unchanged.
func WrapLibrary(op, address string, err error) error {
	if err == nil {
		return nil
	}
	var le *LibraryError
	if errors.As(err, &le) {
		return err
	}
	return &LibraryError{Op: op, Address: address, Err: err}
}
