package facet

import (
	"context"
	"fmt"
	"sync"

	"github.com/labkit/instrumental/internal/units"
)

// Logger is the logging interface used by bound facet values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeEvent is delivered to observers after a set reaches the device.
// Old is nil when no value had been cached yet.
type ChangeEvent struct {
	Name string
	Old  any
	New  any
}

// Value is a Facet bound to one instrument. It holds the cache and the
// observers for that instrument.
//
// Thread Safety: the cache and observer list are guarded by a mutex, but
// device I/O runs without it held. Concurrent sets on one Value may reach
// the device in either order.
type Value struct {
	facet *Facet
	owner any

	mu        sync.Mutex
	dirty     bool
	cachedVal any
	hasCached bool
	manualVal any
	hasManual bool
	observers []func(ChangeEvent)
	logger    Logger
}

// Facet returns the facet declaration.
func (v *Value) Facet() *Facet { return v.facet }

// Name returns the facet name.
func (v *Value) Name() string { return v.facet.name }

// SetLogger sets the logger used for get/set tracing.
func (v *Value) SetLogger(logger Logger) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	v.logger = logger
}

// Observe registers a callback fired after every set that reaches the
// device. Callbacks run synchronously on the setting goroutine.
func (v *Value) Observe(fn func(ChangeEvent)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observers = append(v.observers, fn)
}

// Get returns the facet value, served from the cache when the facet is
// cached and the cache is valid.
func (v *Value) Get(ctx context.Context) (any, error) {
	return v.get(ctx, true)
}

// GetFresh reads from the device even when a cached value exists.
func (v *Value) GetFresh(ctx context.Context) (any, error) {
	return v.get(ctx, false)
}

func (v *Value) get(ctx context.Context, useCache bool) (any, error) {
	f := v.facet
	v.mu.Lock()
	logger := v.logger
	if f.cached && useCache && !v.dirty {
		val := v.cachedVal
		v.mu.Unlock()
		logger.Debug("using cached facet value", "facet", f.name)
		return val, nil
	}
	v.mu.Unlock()

	raw, err := v.readRaw(ctx)
	if err != nil {
		return nil, err
	}
	var val any
	if raw != nil {
		if val, err = f.convertGet(raw); err != nil {
			return nil, err
		}
	}

	v.mu.Lock()
	v.cachedVal = val
	v.hasCached = true
	v.dirty = false
	v.mu.Unlock()

	logger.Debug("got facet value", "facet", f.name, "value", val)
	return val, nil
}

func (v *Value) readRaw(ctx context.Context) (any, error) {
	f := v.facet
	if f.manual {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.hasManual {
			return v.manualVal, nil
		}
		if f.hasUnit {
			return float64(0), nil
		}
		return nil, nil
	}
	if f.get == nil {
		return nil, fmt.Errorf("%w: %s", ErrWriteOnly, f.name)
	}
	return f.get(ctx, v.owner)
}

// Set converts and validates value, then writes it to the device. Values
// may be quantities, unit strings such as "850 nm", or plain numbers.
func (v *Value) Set(ctx context.Context, value any) error {
	return v.set(ctx, value, true)
}

// SetFresh writes to the device even when value equals the cached value.
func (v *Value) SetFresh(ctx context.Context, value any) error {
	return v.set(ctx, value, false)
}

func (v *Value) set(ctx context.Context, value any, useCache bool) error {
	f := v.facet
	if f.IsReadOnly() {
		return fmt.Errorf("%w: %s", ErrReadOnly, f.name)
	}

	raw, nice, err := f.convertSet(value)
	if err != nil {
		return err
	}

	v.mu.Lock()
	logger := v.logger
	old, hadOld := v.cachedVal, v.hasCached
	skip := f.cached && useCache && hadOld && valuesEqual(old, nice)
	v.mu.Unlock()

	if skip {
		logger.Info("skipping facet set, cached value matches", "facet", f.name)
		return nil
	}

	logger.Info("setting facet value", "facet", f.name, "value", nice)
	if f.manual {
		v.mu.Lock()
		v.manualVal, v.hasManual = raw, true
		v.mu.Unlock()
	} else if err := f.set(ctx, v.owner, raw); err != nil {
		v.mu.Lock()
		v.dirty = true
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	v.cachedVal = nice
	v.hasCached = true
	// The next Get reads back from the device.
	v.dirty = true
	observers := append([]func(ChangeEvent){}, v.observers...)
	v.mu.Unlock()

	if !hadOld {
		old = nil
	}
	event := ChangeEvent{Name: f.name, Old: old, New: nice}
	for _, fn := range observers {
		fn(event)
	}
	return nil
}

// Quantity gets the value as a quantity. It fails for facets without units.
func (v *Value) Quantity(ctx context.Context) (units.Quantity, error) {
	val, err := v.Get(ctx)
	if err != nil {
		return units.Quantity{}, err
	}
	q, ok := val.(units.Quantity)
	if !ok {
		return units.Quantity{}, fmt.Errorf("%w: %s is %T, not a quantity", ErrTypeCoercion, v.facet.name, val)
	}
	return q, nil
}

// Float gets the value as a float64. Quantities yield their magnitude in
// the facet's unit.
func (v *Value) Float(ctx context.Context) (float64, error) {
	val, err := v.Get(ctx)
	if err != nil {
		return 0, err
	}
	return toFloat(val)
}

// Int gets the value as an int64.
func (v *Value) Int(ctx context.Context) (int64, error) {
	val, err := v.Get(ctx)
	if err != nil {
		return 0, err
	}
	n, err := Int(val)
	if err != nil {
		return 0, err
	}
	return n.(int64), nil
}

// Bool gets the value as a bool.
func (v *Value) Bool(ctx context.Context) (bool, error) {
	val, err := v.Get(ctx)
	if err != nil {
		return false, err
	}
	b, err := Bool(val)
	if err != nil {
		return false, err
	}
	return b.(bool), nil
}

// Text gets the value formatted as a string.
func (v *Value) Text(ctx context.Context) (string, error) {
	val, err := v.Get(ctx)
	if err != nil {
		return "", err
	}
	if q, ok := val.(units.Quantity); ok {
		return q.String(), nil
	}
	return formatValue(val), nil
}
