package facet

import (
	"context"
	"fmt"
	"math"

	"github.com/labkit/instrumental/internal/units"
)

// GetFunc reads the raw value of a facet from its owner.
type GetFunc func(ctx context.Context, owner any) (any, error)

// SetFunc writes an already converted, validated and mapped value.
type SetFunc func(ctx context.Context, owner any, value any) error

// Facet describes one managed attribute of a driver type. A Facet is
// declared once per driver type and bound to each instrument with Bind;
// the per-instrument state (cache, observers) lives in the returned Value.
type Facet struct {
	name     string
	doc      string
	get      GetFunc
	set      SetFunc
	cached   bool
	readonly bool
	manual   bool

	unit    units.Unit
	hasUnit bool
	conv    Converter

	limits *limits
	inMap  map[any]any
	outMap map[any]any
}

type limits struct {
	min, max float64
	step     float64
}

// Option configures a Facet.
type Option func(*Facet)

// Units declares the facet's physical unit. Set values are converted to
// it and read values are returned as quantities in it. It panics on an
// unparseable unit, since facets are declared at package level.
func Units(expr string) Option {
	u := units.MustParseUnit(expr)
	return func(f *Facet) {
		f.unit = u
		f.hasUnit = true
	}
}

// Type declares the outward-facing type of the facet.
func Type(c Converter) Option {
	return func(f *Facet) { f.conv = c }
}

// Limits rejects set values outside [min, max].
func Limits(min, max float64) Option {
	return func(f *Facet) {
		if f.limits == nil {
			f.limits = &limits{}
		}
		f.limits.min, f.limits.max = min, max
	}
}

// Step rounds in-range set values to the nearest multiple of step above the
// lower limit. It has no effect without Limits.
func Step(step float64) Option {
	return func(f *Facet) {
		if f.limits == nil {
			f.limits = &limits{min: math.Inf(-1), max: math.Inf(1)}
		}
		f.limits.step = step
	}
}

// Map translates user-side values to device-side values when setting, and
// back when getting. Numeric keys and values match regardless of their Go
// numeric type.
func Map(m map[any]any) Option {
	return func(f *Facet) {
		f.inMap = make(map[any]any, len(m))
		f.outMap = make(map[any]any, len(m))
		for k, v := range m {
			f.inMap[mapKey(k)] = v
			f.outMap[mapKey(v)] = k
		}
	}
}

// MapValues maps each value to its index in the list.
func MapValues(values ...any) Option {
	m := make(map[any]any, len(values))
	for i, v := range values {
		m[v] = i
	}
	return Map(m)
}

// Cached enables caching: repeated reads hit the device once until the
// next set, and setting the value already in the cache skips the device.
func Cached() Option {
	return func(f *Facet) { f.cached = true }
}

// Readonly makes every set fail with ErrReadOnly.
func Readonly() Option {
	return func(f *Facet) { f.readonly = true }
}

// Doc attaches a description.
func Doc(doc string) Option {
	return func(f *Facet) { f.doc = doc }
}

// New declares a facet. A nil get makes the facet write-only; a nil set
// makes it read-only.
func New(name string, get GetFunc, set SetFunc, opts ...Option) *Facet {
	f := &Facet{name: name, get: get, set: set}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Manual declares a facet whose value is stored on the bound Value rather
// than on a device. Until first set it reads as zero in its units.
func Manual(name string, opts ...Option) *Facet {
	f := New(name, nil, nil, opts...)
	f.manual = true
	return f
}

// Name returns the facet name.
func (f *Facet) Name() string { return f.name }

// Doc returns the facet description.
func (f *Facet) Doc() string { return f.doc }

// Unit returns the declared unit and whether one was declared.
func (f *Facet) Unit() (units.Unit, bool) { return f.unit, f.hasUnit }

// IsReadOnly reports whether the facet rejects sets.
func (f *Facet) IsReadOnly() bool { return f.readonly || (f.set == nil && !f.manual) }

// Bind creates the per-instrument state of f for owner.
func (f *Facet) Bind(owner any) *Value {
	return &Value{facet: f, owner: owner, dirty: true, logger: noopLogger{}}
}

func (f *Facet) String() string {
	if f.hasUnit {
		return fmt.Sprintf("<Facet %s [%s]>", f.name, f.unit)
	}
	return fmt.Sprintf("<Facet %s>", f.name)
}

// convertSet turns user input into the value passed to the setter and the
// user-side value recorded in the cache.
func (f *Facet) convertSet(v any) (raw, nice any, err error) {
	var value any
	if f.hasUnit {
		q, err := units.From(v)
		if err != nil {
			return nil, nil, fmt.Errorf("facet %s: %w", f.name, err)
		}
		mag, err := q.MagnitudeIn(f.unit)
		if err != nil {
			return nil, nil, fmt.Errorf("facet %s: %w", f.name, err)
		}
		value = mag
	} else if q, ok := v.(units.Quantity); ok {
		value = q.Magnitude
	} else {
		value = v
	}

	if f.conv != nil {
		if value, err = f.conv(value); err != nil {
			return nil, nil, fmt.Errorf("facet %s: %w", f.name, err)
		}
	}

	if f.limits != nil {
		if value, err = f.limits.check(value); err != nil {
			return nil, nil, fmt.Errorf("facet %s: %w", f.name, err)
		}
	}

	if f.hasUnit {
		mag, err := toFloat(value)
		if err != nil {
			return nil, nil, fmt.Errorf("facet %s: %w", f.name, err)
		}
		nice = units.Quantity{Magnitude: mag, Unit: f.unit}
	} else {
		nice = value
	}

	raw = value
	if f.inMap != nil {
		key := mapKey(value)
		if !hashable(key) {
			return nil, nil, fmt.Errorf("facet %s: %w: %v", f.name, ErrUnmappedValue, value)
		}
		mapped, ok := f.inMap[key]
		if !ok {
			return nil, nil, fmt.Errorf("facet %s: %w: %v", f.name, ErrUnmappedValue, value)
		}
		raw = mapped
	}
	return raw, nice, nil
}

// convertGet turns what the getter returned into the user-side value.
func (f *Facet) convertGet(raw any) (any, error) {
	value := raw
	if f.outMap != nil {
		key := mapKey(value)
		if !hashable(key) {
			return nil, fmt.Errorf("facet %s: %w: %v", f.name, ErrUnmappedValue, value)
		}
		mapped, ok := f.outMap[key]
		if !ok {
			// Instruments often reply with strings; retry numerically.
			n, err := toFloat(value)
			if err != nil {
				return nil, fmt.Errorf("facet %s: %w: %v", f.name, ErrUnmappedValue, value)
			}
			if mapped, ok = f.outMap[n]; !ok {
				return nil, fmt.Errorf("facet %s: %w: %v", f.name, ErrUnmappedValue, value)
			}
		}
		value = mapped
	}

	if f.conv != nil {
		var err error
		if value, err = f.conv(value); err != nil {
			return nil, fmt.Errorf("facet %s: %w", f.name, err)
		}
	}

	if f.hasUnit {
		if q, ok := value.(units.Quantity); ok {
			c, err := q.To(f.unit)
			if err != nil {
				return nil, fmt.Errorf("facet %s: %w", f.name, err)
			}
			return c, nil
		}
		mag, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("facet %s: %w", f.name, err)
		}
		return units.Quantity{Magnitude: mag, Unit: f.unit}, nil
	}
	return value, nil
}

// check validates v against the limits, rounding to step when declared.
func (l *limits) check(v any) (any, error) {
	x, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if x > l.max {
		return nil, fmt.Errorf("%w: value above upper limit %g", ErrOutOfRange, l.max)
	}
	if x < l.min {
		return nil, fmt.Errorf("%w: value below lower limit %g", ErrOutOfRange, l.min)
	}
	if l.step <= 0 {
		return v, nil
	}

	base := l.min
	if math.IsInf(base, -1) {
		base = 0
	}
	rounded := base + math.Round((x-base)/l.step)*l.step
	if rounded > l.max {
		rounded -= l.step
	}
	switch v.(type) {
	case int64:
		return int64(math.Round(rounded)), nil
	case int:
		return int(math.Round(rounded)), nil
	default:
		return rounded, nil
	}
}
