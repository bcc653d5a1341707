// Package paramset provides ParamSet, the identifying key/value bag that
// describes how to open one specific instrument.
//
// A ParamSet is produced either by a provider's enumeration call or by the
// caller (from alternating arguments, a map, or a stored alias literal). The
// resolver matches a partial request against enumerated sets with Matches,
// completes it with Merge, and uses Identity as the key of the instance cache.
//
// # Reserved keys
//
//   - module: dotted provider module path (e.g. "cameras.tsi")
//   - classname: driver class exposed by that provider
//   - server: remote endpoint that should enumerate instead of this process
//   - settings: non-identifying construction options, passed to Initialize
//   - visa_address: VISA resource string for message-based instruments
//
// Every other key is driver-defined.
//
// # Usage
//
//	req, err := paramset.Of("serial", "05872", "settings", map[string]any{"exposure": "10 ms"})
//	if err != nil {
//	    return err
//	}
//	if req.Matches(enumerated) {
//	    full := req.Merge(enumerated, false)
//	    _ = full.Identity()
//	}
package paramset
