// Package facet implements declarative, unit-aware instrument attributes.
//
// A Facet is declared once per driver type, usually as a package-level
// variable, and bound to every instrument of that type:
//
//	var wavelength = facet.SCPI("wavelength", "SENS:CORR:WAV",
//		facet.Units("nm"), facet.Type(facet.Float), facet.Limits(400, 1100), facet.Cached())
//
//	type PowerMeter struct {
//		driver.Base
//		driver.VisaMixin
//		Wavelength *facet.Value
//	}
//
//	pm.Wavelength = pm.BindFacet(wavelength)
//	err := pm.Wavelength.Set(ctx, "0.85 um") // sends "SENS:CORR:WAV 850"
//
// # Set path
//
// A set is rejected with ErrReadOnly before anything else happens. The
// input (a units.Quantity, a string such as "850 nm", or a plain number)
// is then converted to the facet's unit, coerced by its Type, validated
// against Limits (rounded to Step), and translated through Map. Any
// failure (a units.DimensionalityError, ErrTypeCoercion, ErrOutOfRange,
// ErrUnmappedValue) is returned without calling the setter.
//
// # Get path
//
// The getter's raw value is translated back through Map, coerced by Type
// and wrapped in the facet's unit. Cached facets serve repeated reads from
// the cache until the next set, and skip sets of the value already cached.
// GetFresh and SetFresh bypass the cache for one call.
//
// # Observers
//
// Value.Observe registers callbacks that receive a ChangeEvent after every
// set that reaches the device.
package facet
