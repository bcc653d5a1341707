// Package units provides the physical quantities used by instrument facets.
//
// A Quantity pairs a float64 magnitude with a Unit. Units resolve through
// the github.com/bcicen/go-units registry, extended at init with the
// prefixed lab units facets use ("nm", "mW", "kHz", "mVpp"). Converting
// between compatible units follows the go-units conversion graph and
// converting between incompatible ones fails:
//
//	q, _ := units.Parse("10 um")
//	nm, _ := q.To(units.MustParseUnit("nm")) // 10000 nm
//
//	_, err := units.DimensionlessValue(5).To(units.MustParseUnit("nm"))
//	errors.Is(err, units.ErrDimensionality) // true
//
// Conversions between prefixes of one base unit are done by powers of ten,
// which keeps them exact for integral magnitudes.
//
// Compound expressions ("V/s") and offset units (degrees Celsius) are not
// supported.
package units
