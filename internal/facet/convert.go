package facet

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/labkit/instrumental/internal/units"
)

// Converter coerces a value to a facet's outward-facing type. It is applied
// both to values read from the device and to values being set.
type Converter func(v any) (any, error)

// Float converts numbers, quantities and numeric strings to float64.
func Float(v any) (any, error) {
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Int converts to int64. Fractional values are truncated toward zero.
func Int(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v to int", ErrTypeCoercion, v)
	}
	return int64(f), nil
}

// Bool converts booleans, numbers (non-zero is true) and the usual
// instrument replies ("1", "0", "ON", "OFF", "true", "false").
func Bool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(x)) {
		case "1", "ON", "TRUE", "YES":
			return true, nil
		case "0", "OFF", "FALSE", "NO":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q to bool", ErrTypeCoercion, x)
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return f != 0, nil
}

// String formats any value with its message representation.
func String(v any) (any, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return formatValue(v), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case units.Quantity:
		return x.Magnitude, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q to float", ErrTypeCoercion, x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T to float", ErrTypeCoercion, v)
	}
}

// formatValue renders a value for a set message.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case units.Quantity:
		return strconv.FormatFloat(x.Magnitude, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// mapKey normalises numeric keys so that 1, int64(1) and 1.0 look up the
// same mapping entry.
func mapKey(v any) any {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, _ := toFloat(v)
		return f
	}
	return v
}

func valuesEqual(a, b any) bool {
	qa, aq := a.(units.Quantity)
	qb, bq := b.(units.Quantity)
	if aq || bq {
		return aq && bq && qa.Equal(qb)
	}
	return reflect.DeepEqual(mapKey(a), mapKey(b))
}

func hashable(v any) bool {
	return v == nil || reflect.TypeOf(v).Comparable()
}
