package units

import (
	"errors"
	"fmt"
)

// Domain errors for the units package.
var (
	// ErrUnknownUnit is returned when a unit expression cannot be parsed.
	ErrUnknownUnit = errors.New("units: unknown unit")

	// ErrInvalidQuantity is returned when a value cannot be read as a quantity.
	ErrInvalidQuantity = errors.New("units: invalid quantity")

	// ErrDimensionality is matched by every *DimensionalityError.
	ErrDimensionality = errors.New("units: incompatible dimensions")
)

// DimensionalityError reports a conversion between units of different
// kinds of quantity, e.g. a bare number to nanometres.
type DimensionalityError struct {
	From Unit
	To   Unit
}

func (e *DimensionalityError) Error() string {
	return fmt.Sprintf("units: cannot convert from '%s' (%s) to '%s' (%s)",
		e.From, e.From.Quantity(), e.To, e.To.Quantity())
}

// Is lets errors.Is match ErrDimensionality.
func (e *DimensionalityError) Is(target error) bool {
	return target == ErrDimensionality
}
