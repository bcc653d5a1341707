package driver

import (
	"context"
	"errors"
	"sync"
	"weak"

	"github.com/google/uuid"

	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/paramset"
)

// Logger is the logging interface used by the session and bound facets.
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

// AliasSaver persists a ParamSet under a human-readable name.
type AliasSaver interface {
	Save(ctx context.Context, name string, ps paramset.ParamSet) error
}

// Listener receives session lifecycle and facet change notifications.
// Callbacks run synchronously and must not call back into the session.
type Listener interface {
	InstrumentOpened(inst Instrument)
	InstrumentClosed(inst Instrument)
	FacetChanged(inst Instrument, ev facet.ChangeEvent)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(l Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAliasSaver sets the store used by Base.SaveInstrument.
func WithAliasSaver(a AliasSaver) SessionOption {
	return func(s *Session) { s.aliases = a }
}

// WithListener adds a listener.
func WithListener(l Listener) SessionOption {
	return func(s *Session) { s.listeners = append(s.listeners, l) }
}

// Session is the set of instruments opened through one resolver: the
// open-instruments list closed by CloseAll, and the instance cache keyed
// by ParamSet identity that backs the reopen policies.
//
// The session holds only weak references. An instrument that is no
// longer referenced by the caller and has been garbage collected counts
// as absent, even if it was never closed.
//
// Thread Safety: all methods are safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	byIdentity map[string]weak.Pointer[Base]
	open       []weak.Pointer[Base]

	logger    Logger
	aliases   AliasSaver
	listeners []Listener
}

// NewSession creates an empty session.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		byIdentity: make(map[string]weak.Pointer[Base]),
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddListener adds a listener after construction.
func (s *Session) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SetAliasSaver sets the store used by Base.SaveInstrument.
func (s *Session) SetAliasSaver(a AliasSaver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases = a
}

// live returns the instrument behind p if it is still reachable and open.
func live(p weak.Pointer[Base]) (Instrument, bool) {
	b := p.Value()
	if b == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.self == nil {
		return nil, false
	}
	return b.self, true
}

// Lookup returns the live instrument registered under identity.
func (s *Session) Lookup(identity string) (Instrument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byIdentity[identity]
	if !ok {
		return nil, false
	}
	inst, ok := live(p)
	if !ok {
		delete(s.byIdentity, identity)
	}
	return inst, ok
}

// Register adds inst to the open list and makes it the cached instance for
// its ParamSet identity, replacing any previous one.
func (s *Session) Register(inst Instrument) {
	b := inst.base()
	id := inst.ParamSet().Identity()
	p := weak.Make(b)

	b.mu.Lock()
	b.registered = true
	b.mu.Unlock()

	s.mu.Lock()
	s.byIdentity[id] = p
	s.open = append(s.compactLocked(), p)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.logger.Info("instrument opened", "identity", id, "id", b.ID().String())
	for _, l := range listeners {
		l.InstrumentOpened(inst)
	}
}

// compactLocked drops dead and closed entries from the open list.
func (s *Session) compactLocked() []weak.Pointer[Base] {
	out := s.open[:0]
	for _, p := range s.open {
		if _, ok := live(p); ok {
			out = append(out, p)
		}
	}
	return out
}

// newestLocked returns the most recently opened live entry with identity.
func (s *Session) newestLocked(identity string) (weak.Pointer[Base], bool) {
	for i := len(s.open) - 1; i >= 0; i-- {
		inst, ok := live(s.open[i])
		if ok && inst.ParamSet().Identity() == identity {
			return s.open[i], true
		}
	}
	return weak.Pointer[Base]{}, false
}

// forget removes b after it closed.
func (s *Session) forget(b *Base) {
	p := weak.Make(b)
	b.mu.Lock()
	self, identity, id, registered := b.self, b.params.Identity(), b.id, b.registered
	b.mu.Unlock()

	s.mu.Lock()
	kept := s.open[:0]
	for _, q := range s.open {
		if q != p {
			kept = append(kept, q)
		}
	}
	s.open = kept
	for key, q := range s.byIdentity {
		if q != p {
			continue
		}
		// An older instance opened under PolicyNew may still hold the identity.
		if older, ok := s.newestLocked(key); ok {
			s.byIdentity[key] = older
		} else {
			delete(s.byIdentity, key)
		}
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	// Instruments that failed before Register closed without ever opening.
	if !registered {
		return
	}
	s.logger.Info("instrument closed", "identity", identity, "id", id.String())
	if self != nil {
		for _, l := range listeners {
			l.InstrumentClosed(self)
		}
	}
}

func (s *Session) facetChanged(b *Base, ev facet.ChangeEvent) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	b.mu.Lock()
	self := b.self
	b.mu.Unlock()
	for _, l := range listeners {
		l.FacetChanged(self, ev)
	}
}

// OpenInstruments returns the live instruments in the order they opened.
func (s *Session) OpenInstruments() []Instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = s.compactLocked()
	out := make([]Instrument, 0, len(s.open))
	for _, p := range s.open {
		if inst, ok := live(p); ok {
			out = append(out, inst)
		}
	}
	return out
}

// Find returns the live instrument with the given instance ID.
func (s *Session) Find(id uuid.UUID) (Instrument, bool) {
	for _, inst := range s.OpenInstruments() {
		if InstanceID(inst) == id {
			return inst, true
		}
	}
	return nil, false
}

// CloseAll closes every live instrument, most recently opened first. A
// failing Close does not stop the others; all errors are joined.
func (s *Session) CloseAll() error {
	insts := s.OpenInstruments()
	var errs []error
	for i := len(insts) - 1; i >= 0; i-- {
		if err := insts[i].Close(); err != nil {
			s.logger.Warn("instrument close failed", "identity", insts[i].ParamSet().Identity(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
