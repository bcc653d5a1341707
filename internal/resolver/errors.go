package resolver

import "errors"

// Domain errors for the resolver package.
var (
	// ErrNoMatchingInstrument is returned when no provider and class fit
	// the request and no fast path applies.
	ErrNoMatchingInstrument = errors.New("resolver: no matching instrument")

	// ErrAmbiguous is returned when RequireUnique is set and the request
	// matches more than one instrument.
	ErrAmbiguous = errors.New("resolver: ambiguous request")

	// ErrRemoteInstrument is returned when asked to open an instrument on a
	// remote server. Remote servers only support listing.
	ErrRemoteInstrument = errors.New("resolver: remote instruments can only be listed")

	// ErrNoRemote is returned when a server is requested but no remote
	// client is configured.
	ErrNoRemote = errors.New("resolver: no remote client configured")

	// ErrUnknownServer is returned for a server alias with no address.
	ErrUnknownServer = errors.New("resolver: unknown server")

	// ErrNoAliases is returned when resolving an alias without an alias store.
	ErrNoAliases = errors.New("resolver: no alias store configured")

	// ErrNoVisa is returned when a VISA instrument is opened without a
	// resource manager.
	ErrNoVisa = errors.New("resolver: no VISA resource manager configured")

	// ErrInvalidPolicy is returned by ParsePolicy for unknown names.
	ErrInvalidPolicy = errors.New("resolver: invalid reopen policy")

	// ErrInvalidRequest is returned by Open for unsupported request types.
	ErrInvalidRequest = errors.New("resolver: invalid request")
)
