// Package registry holds the static metadata of every driver module and
// loads driver providers on demand.
//
// An Entry describes a module without loading it: its dotted path, the
// parameters that identify one of its instruments, its classes (default
// first), optional VISA identification info, and a priority. The resolver
// filters and orders entries before touching any hardware library, then
// calls Load for the candidates it actually needs.
//
// Driver packages register from init:
//
//	func init() {
//		registry.MustRegister(registry.Entry{
//			Module:  "powermeters.thorlabs",
//			Params:  []string{"serial", "model"},
//			Classes: []string{"PM100D"},
//			Load:    load,
//		})
//	}
//
// A failing Load (a missing vendor library, a panic in setup code) is
// logged at INFO and only excludes that module from the current
// operation; the next call tries again.
//
// Keyword tokens let callers name a parameter with a module hint, so that
// "cam_serial" matches the "serial" parameter of "cameras.*" modules only.
// See Registry.MatchKeywords.
package registry
