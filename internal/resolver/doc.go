// Package resolver finds and opens instruments from partial requests.
//
// A request is a ParamSet, possibly with abbreviated keys. The resolver
// narrows the registry to candidate modules without loading anything,
// loads only the candidates, asks each for the instruments it can see and
// keeps those whose parameters match the request. The first match by
// module priority wins; RequireUnique turns several matches into
// ErrAmbiguous instead.
//
// Shortcuts:
//   - module and classname present: no discovery, only a fill-out of
//     missing parameters.
//   - only visa_address present and nothing enumerates it: the address is
//     opened and identified by its *IDN? reply.
//   - keys that are exactly one provider's parameters: that provider's
//     default class opens without enumeration.
//
// The resolved parameters' identity is checked against the session under
// the reopen policy (strict, reuse or new) before anything is constructed.
//
// Basic usage:
//
//	res := resolver.New(registry.Default, session,
//	    resolver.WithVisa(visaManager),
//	    resolver.WithAliases(aliases),
//	)
//	pm, err := res.Instrument(ctx, paramset.MustOf("serial", "P0012345"))
package resolver
