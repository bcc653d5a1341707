package driver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/paramset"
)

// Instrument is an open driver object. Drivers implement it by embedding
// Base; the unexported method keeps other implementations out.
type Instrument interface {
	// ParamSet returns the complete parameters the instrument was opened with.
	ParamSet() paramset.ParamSet

	// Close releases the instrument. Closing twice is a no-op.
	Close() error

	base() *Base
}

// Initializer is implemented by drivers that need setup after their
// parameters and resource are in place. settings holds the ParamSet's
// settings entry.
type Initializer interface {
	Initialize(ctx context.Context, settings map[string]any) error
}

// Base holds the state shared by every driver. Embed it by value:
//
//	type PowerMeter struct {
//		driver.Base
//		driver.VisaMixin
//	}
//
// Drivers that override Close must call Base.Close.
type Base struct {
	mu      sync.Mutex
	params  paramset.ParamSet
	id      uuid.UUID
	session *Session
	self    Instrument
	facets  []*facet.Value
	closers []func() error
	closed  bool

	registered bool
}

func (b *Base) base() *Base { return b }

// ParamSet returns the parameters the instrument was opened with.
func (b *Base) ParamSet() paramset.ParamSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params
}

// ID returns the per-instance identifier assigned when the instrument was
// attached. Two objects for the same device have different IDs.
func (b *Base) ID() uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

// InstanceID returns the per-instance identifier of inst.
func InstanceID(inst Instrument) uuid.UUID {
	return inst.base().ID()
}

// FacetsOf returns the facet values bound on inst.
func FacetsOf(inst Instrument) []*facet.Value {
	return inst.base().Facets()
}

// FacetOf returns the facet value of inst with the given name.
func FacetOf(inst Instrument, name string) (*facet.Value, bool) {
	return inst.base().Facet(name)
}

// Save stores the parameters of inst under alias. See Base.SaveInstrument.
func Save(ctx context.Context, inst Instrument, alias string) error {
	return inst.base().SaveInstrument(ctx, alias)
}

// Closed reports whether Close has been called.
func (b *Base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Attach sets up the base of a freshly constructed instrument: its
// parameters, a new ID and the owning session (which may be nil). It must
// be called before Initialize and BindFacet.
func Attach(inst Instrument, ps paramset.ParamSet, s *Session) {
	b := inst.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.params = ps
	b.id = uuid.New()
	b.session = s
	b.self = inst
}

// BindFacet binds f to this instrument and records it in Facets. Changes
// made through the returned value are reported to the session listeners.
func (b *Base) BindFacet(f *facet.Facet) *facet.Value {
	b.mu.Lock()
	owner, s := b.self, b.session
	b.mu.Unlock()

	v := f.Bind(owner)
	if s != nil {
		v.SetLogger(s.logger)
		v.Observe(func(ev facet.ChangeEvent) { s.facetChanged(b, ev) })
	}

	b.mu.Lock()
	b.facets = append(b.facets, v)
	b.mu.Unlock()
	return v
}

// Facets returns the bound facet values in binding order.
func (b *Base) Facets() []*facet.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.facets)
}

// Facet returns the bound facet value with the given name.
func (b *Base) Facet(name string) (*facet.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range b.facets {
		if v.Name() == name {
			return v, true
		}
	}
	return nil, false
}

// OnClose registers fn to run when the instrument closes. Functions run in
// reverse registration order.
func (b *Base) OnClose(fn func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, fn)
}

// SaveInstrument stores the instrument's parameters under alias in the
// session's alias store, so it can later be reopened by name.
func (b *Base) SaveInstrument(ctx context.Context, alias string) error {
	b.mu.Lock()
	s, ps := b.session, b.params
	b.mu.Unlock()

	if s == nil || s.aliases == nil {
		return ErrNoAliasStore
	}
	if err := s.aliases.Save(ctx, alias, ps); err != nil {
		return fmt.Errorf("save instrument %q: %w", alias, err)
	}
	return nil
}

// Close runs the registered close functions and removes the instrument
// from its session. Errors from close functions are joined.
func (b *Base) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	closers := b.closers
	b.closers = nil
	s := b.session
	b.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if s != nil {
		s.forget(b)
	}
	return errors.Join(errs...)
}

// With runs fn with inst and closes inst afterwards, whether fn returns an
// error, succeeds or panics.
func With(inst Instrument, fn func() error) (err error) {
	defer func() {
		if cerr := inst.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn()
}
