// Package driver provides the base every instrument driver builds on.
//
// # Instruments
//
// A driver is a struct embedding Base, and VisaMixin when it talks SCPI:
//
//	type PowerMeter struct {
//		driver.Base
//		driver.VisaMixin
//		Wavelength *facet.Value
//	}
//
//	func (pm *PowerMeter) Initialize(ctx context.Context, settings map[string]any) error {
//		pm.Wavelength = pm.BindFacet(wavelength)
//		return nil
//	}
//
// The resolver constructs the struct, calls Attach, binds the VISA
// resource with BindResource, calls Initialize with the ParamSet's
// settings, and finally registers the instrument with the Session.
//
// # Session
//
// A Session tracks the open instruments. It is both the open-instruments
// list (CloseAll closes everything, best effort, typically deferred in
// main) and the instance cache keyed by ParamSet identity that the
// resolver consults for its reopen policies. The session holds weak
// references only, so an unreferenced instrument that has been collected
// is absent from the cache even without Close.
//
// Listeners registered on the session are told when instruments open or
// close and when any bound facet changes; the telemetry package uses this
// to publish events.
//
// # Errors
//
// Transport and vendor failures are returned as *LibraryError (matching
// ErrLibrary). Opening a live instrument under the strict policy fails
// with *InstrumentExistsError (matching ErrInstrumentExists), which
// carries the existing instance.
package driver
