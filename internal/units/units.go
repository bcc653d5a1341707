package units

import (
	"fmt"
	"math"
	"strings"

	gounits "github.com/bcicen/go-units"
)

// Unit is a physical unit known to the go-units registry. The zero Unit
// is One. Units are comparable.
type Unit struct {
	symbol string
	name   string
	// base and exp place the unit on a decimal ladder, nm being the metre
	// ladder at -9, so conversions along one ladder are exact.
	base string
	exp  int
}

// One is the dimensionless unit.
var One = Unit{}

// Symbol returns the unit as written when it was parsed ("" for One).
func (u Unit) Symbol() string { return u.symbol }

// IsDimensionless reports whether u has no physical dimension.
func (u Unit) IsDimensionless() bool { return u.name == "" }

// Quantity returns the kind of quantity u measures, such as "length".
func (u Unit) Quantity() string {
	if u.IsDimensionless() {
		return "dimensionless"
	}
	if g, ok := u.lib(); ok && g.Quantity != "" {
		return g.Quantity
	}
	return "unknown"
}

// Compatible reports whether quantities in u can be converted to o.
func (u Unit) Compatible(o Unit) bool {
	_, err := u.convert(1, o)
	return err == nil
}

// SameAs reports whether u and o denote the same unit.
func (u Unit) SameAs(o Unit) bool {
	if u.base != "" && u.base == o.base {
		return u.exp == o.exp
	}
	return u.name == o.name
}

// String returns the symbol, or "dimensionless".
func (u Unit) String() string {
	if u.symbol == "" {
		return "dimensionless"
	}
	return u.symbol
}

func (u Unit) lib() (gounits.Unit, bool) {
	if e, ok := bySymbol[u.symbol]; ok {
		return e.unit, true
	}
	g, err := gounits.Find(u.name)
	return g, err == nil
}

// convert expresses x[u] in o. Units on one ladder convert by powers of
// ten; everything else goes through the go-units conversion graph.
func (u Unit) convert(x float64, o Unit) (float64, error) {
	switch {
	case u.IsDimensionless() || o.IsDimensionless():
		if u.IsDimensionless() && o.IsDimensionless() {
			return x, nil
		}
		return 0, &DimensionalityError{From: u, To: o}
	case u.base != "" && u.base == o.base:
		return scale(x, u.exp-o.exp), nil
	case u.name == o.name:
		return x, nil
	}

	from, ok := u.lib()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, u.symbol)
	}
	to, ok := o.lib()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, o.symbol)
	}
	v, err := gounits.ConvertFloat(x, from, to)
	if err != nil {
		return 0, &DimensionalityError{From: u, To: o}
	}
	return v.Float(), nil
}

// scale multiplies x by 10^k, dividing for negative k so that decimal
// steps such as 2000 nm to um stay exact.
func scale(x float64, k int) float64 {
	switch {
	case k > 0:
		return x * math.Pow10(k)
	case k < 0:
		return x / math.Pow10(-k)
	default:
		return x
	}
}

// ParseUnit resolves a unit symbol or name such as "nm", "mW", "kHz",
// "Vpp" or "nanometer". The empty string parses to One.
func ParseUnit(expr string) (Unit, error) {
	s := strings.TrimSpace(expr)
	if s == "" || s == "dimensionless" {
		return One, nil
	}
	if e, ok := bySymbol[s]; ok {
		return Unit{symbol: s, name: e.unit.Name, base: e.base, exp: e.exp}, nil
	}

	g, err := gounits.Find(s)
	if err != nil {
		return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, expr)
	}
	u := Unit{symbol: s, name: g.Name}
	// A long name for a ladder unit joins its ladder.
	if e, ok := bySymbol[g.Symbol]; ok && e.unit.Name == g.Name {
		u.base, u.exp = e.base, e.exp
	}
	return u, nil
}

// MustParseUnit is like ParseUnit but panics on error. Intended for
// package-level facet declarations.
func MustParseUnit(expr string) Unit {
	u, err := ParseUnit(expr)
	if err != nil {
		panic(err)
	}
	return u
}
