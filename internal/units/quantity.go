package units

import (
	"fmt"
	"strconv"
	"strings"
)

// Quantity is a magnitude tagged with a unit.
type Quantity struct {
	Magnitude float64
	Unit      Unit
}

// New returns magnitude in the unit parsed from expr.
func New(magnitude float64, expr string) (Quantity, error) {
	u, err := ParseUnit(expr)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Magnitude: magnitude, Unit: u}, nil
}

// Must is like New but panics on error.
func Must(magnitude float64, expr string) Quantity {
	q, err := New(magnitude, expr)
	if err != nil {
		panic(err)
	}
	return q
}

// DimensionlessValue returns a quantity without units.
func DimensionlessValue(magnitude float64) Quantity {
	return Quantity{Magnitude: magnitude, Unit: One}
}

// Parse parses strings such as "10 um", "2.5mW", "1e-3 V" or "5".
// A string without a leading number is read as one of that unit ("nm").
func Parse(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Quantity{}, fmt.Errorf("%w: empty string", ErrInvalidQuantity)
	}

	if !startsNumeric(s) {
		u, err := ParseUnit(s)
		if err != nil {
			return Quantity{}, err
		}
		return Quantity{Magnitude: 1, Unit: u}, nil
	}

	for i := len(s); i > 0; i-- {
		mag, err := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
		if err != nil {
			continue
		}
		u, err := ParseUnit(s[i:])
		if err != nil {
			return Quantity{}, err
		}
		return Quantity{Magnitude: mag, Unit: u}, nil
	}
	return Quantity{}, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
}

func startsNumeric(s string) bool {
	switch c := s[0]; {
	case c >= '0' && c <= '9', c == '.', c == '+', c == '-':
		return true
	default:
		return false
	}
}

// From converts user input into a Quantity. Quantities pass through,
// strings are parsed, and plain numbers become dimensionless.
func From(v any) (Quantity, error) {
	switch x := v.(type) {
	case Quantity:
		return x, nil
	case *Quantity:
		if x == nil {
			return Quantity{}, fmt.Errorf("%w: nil", ErrInvalidQuantity)
		}
		return *x, nil
	case string:
		return Parse(x)
	case float64:
		return DimensionlessValue(x), nil
	case float32:
		return DimensionlessValue(float64(x)), nil
	case int:
		return DimensionlessValue(float64(x)), nil
	case int64:
		return DimensionlessValue(float64(x)), nil
	case int32:
		return DimensionlessValue(float64(x)), nil
	case uint:
		return DimensionlessValue(float64(x)), nil
	case uint64:
		return DimensionlessValue(float64(x)), nil
	case uint32:
		return DimensionlessValue(float64(x)), nil
	default:
		return Quantity{}, fmt.Errorf("%w: %T", ErrInvalidQuantity, v)
	}
}

// To converts q to unit u. It fails with a *DimensionalityError when no
// conversion connects the two units.
func (q Quantity) To(u Unit) (Quantity, error) {
	mag, err := q.Unit.convert(q.Magnitude, u)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Magnitude: mag, Unit: u}, nil
}

// MagnitudeIn returns the magnitude of q expressed in u.
func (q Quantity) MagnitudeIn(u Unit) (float64, error) {
	c, err := q.To(u)
	if err != nil {
		return 0, err
	}
	return c.Magnitude, nil
}

// Equal reports whether q and o have the same magnitude in the same unit.
func (q Quantity) Equal(o Quantity) bool {
	return q.Magnitude == o.Magnitude && q.Unit.SameAs(o.Unit)
}

// String formats q as "<magnitude> <unit>".
func (q Quantity) String() string {
	mag := strconv.FormatFloat(q.Magnitude, 'g', -1, 64)
	if q.Unit.symbol == "" {
		return mag
	}
	return mag + " " + q.Unit.symbol
}
