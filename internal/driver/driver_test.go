package driver

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/visa"
)

// fakeResource is an in-memory visa.Resource.
type fakeResource struct {
	mu       sync.Mutex
	addr     string
	replies  map[string]string
	written  []string
	timeout  time.Duration
	closed   bool
	queryErr error
}

func (r *fakeResource) Address() string { return r.addr }

func (r *fakeResource) Write(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written = append(r.written, msg)
	return nil
}

func (r *fakeResource) Read(context.Context) (string, error) { return "", visa.ErrTimeout }

func (r *fakeResource) Query(_ context.Context, msg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queryErr != nil {
		return "", r.queryErr
	}
	r.written = append(r.written, msg)
	return r.replies[msg], nil
}

func (r *fakeResource) Timeout() time.Duration     { return r.timeout }
func (r *fakeResource) SetTimeout(d time.Duration) { r.timeout = d }

func (r *fakeResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

var testPower = facet.SCPI("power", "MEAS:POW", facet.Units("W"), facet.Type(facet.Float), facet.Readonly())
var testWavelength = facet.SCPI("wavelength", "SENS:CORR:WAV", facet.Units("nm"), facet.Type(facet.Float))

type fakeMeter struct {
	Base
	VisaMixin
	Power      *facet.Value
	Wavelength *facet.Value
	closeErr   error
}

func (m *fakeMeter) Initialize(context.Context, map[string]any) error {
	m.Power = m.BindFacet(testPower)
	m.Wavelength = m.BindFacet(testWavelength)
	return nil
}

func (m *fakeMeter) Close() error {
	return errors.Join(m.Base.Close(), m.closeErr)
}

func openMeter(t *testing.T, s *Session, serial string) *fakeMeter {
	t.Helper()
	m := &fakeMeter{}
	Attach(m, paramset.MustOf("module", "powermeters.fake", "classname", "Meter", "serial", serial), s)
	if err := m.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if s != nil {
		s.Register(m)
	}
	return m
}

func TestSession_LookupAndClose(t *testing.T) {
	s := NewSession()
	m := openMeter(t, s, "P001")
	id := m.ParamSet().Identity()

	got, ok := s.Lookup(id)
	if !ok {
		t.Fatal("Lookup() found nothing")
	}
	if got != Instrument(m) {
		t.Error("Lookup() returned a different instance")
	}
	if m.ID().String() == "" {
		t.Error("ID() empty after Attach")
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := s.Lookup(id); ok {
		t.Error("Lookup() found a closed instrument")
	}
	if n := len(s.OpenInstruments()); n != 0 {
		t.Errorf("OpenInstruments() = %d, want 0", n)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func registerAndDrop(t *testing.T, s *Session) string {
	m := openMeter(t, s, "GONE")
	return m.ParamSet().Identity()
}

func TestSession_WeakReferences(t *testing.T) {
	s := NewSession()
	id := registerAndDrop(t, s)

	for i := 0; i < 5; i++ {
		runtime.GC()
		if _, ok := s.Lookup(id); !ok {
			return
		}
	}
	t.Error("Lookup() still finds an unreferenced instrument after GC")
}

func TestSession_CloseAllBestEffort(t *testing.T) {
	s := NewSession()
	a := openMeter(t, s, "A")
	b := openMeter(t, s, "B")
	c := openMeter(t, s, "C")
	b.closeErr = errors.New("usb unplugged")

	err := s.CloseAll()
	if err == nil || !strings.Contains(err.Error(), "usb unplugged") {
		t.Fatalf("CloseAll() error = %v, want usb unplugged", err)
	}
	for _, m := range []*fakeMeter{a, b, c} {
		if !m.Closed() {
			t.Errorf("%s not closed", m.ParamSet().GetString("serial"))
		}
	}
	if n := len(s.OpenInstruments()); n != 0 {
		t.Errorf("OpenInstruments() = %d after CloseAll, want 0", n)
	}
}

func TestBindResource(t *testing.T) {
	ctx := context.Background()
	m := openMeter(t, nil, "R1")
	res := &fakeResource{addr: "TCPIP0::pm::5025::SOCKET", replies: map[string]string{"MEAS:POW?": "1.5E-03"}}

	if err := BindResource(m, res); err != nil {
		t.Fatalf("BindResource() error = %v", err)
	}

	q, err := m.Power.Quantity(ctx)
	if err != nil {
		t.Fatalf("Power.Quantity() error = %v", err)
	}
	if q.Magnitude != 1.5e-3 {
		t.Errorf("power = %v, want 0.0015 W", q)
	}

	if err := m.Wavelength.Set(ctx, "1.55 um"); err != nil {
		t.Fatalf("Wavelength.Set() error = %v", err)
	}
	if last := res.written[len(res.written)-1]; !strings.HasPrefix(last, "SENS:CORR:WAV 155") {
		t.Errorf("last message = %q", last)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !res.closed {
		t.Error("resource not closed with instrument")
	}
}

func TestBindResource_NotVisa(t *testing.T) {
	type plain struct{ Base }
	p := &plain{}
	if err := BindResource(p, &fakeResource{}); !errors.Is(err, ErrNotVisa) {
		t.Errorf("BindResource() error = %v, want ErrNotVisa", err)
	}
}

func TestVisaMixin_LibraryError(t *testing.T) {
	var m VisaMixin
	if _, err := m.Query(context.Background(), "*IDN?"); !errors.Is(err, ErrNoResource) {
		t.Errorf("Query() without resource error = %v, want ErrNoResource", err)
	}

	m.SetResource(&fakeResource{addr: "ASRL1::INSTR", queryErr: visa.ErrTimeout})
	_, err := m.Query(context.Background(), "*IDN?")
	if !errors.Is(err, ErrLibrary) {
		t.Fatalf("Query() error = %v, want ErrLibrary", err)
	}
	if !errors.Is(err, visa.ErrTimeout) {
		t.Errorf("Query() error = %v, want wrapped visa.ErrTimeout", err)
	}
	var le *LibraryError
	if !errors.As(err, &le) || le.Op != "query" || le.Address != "ASRL1::INSTR" {
		t.Errorf("LibraryError = %+v", le)
	}
}

func TestWrapLibrary(t *testing.T) {
	if WrapLibrary("op", "addr", nil) != nil {
		t.Error("WrapLibrary(nil) != nil")
	}
	first := WrapLibrary("open", "dev", errors.New("dll missing"))
	if again := WrapLibrary("query", "dev", first); again != first {
		t.Error("WrapLibrary() re-wrapped a library error")
	}
	le := &LibraryError{Op: "open", Address: "cam0", Code: -7, Err: errors.New("busy")}
	if got := le.Error(); got != "driver: open cam0 (code -7): busy" {
		t.Errorf("Error() = %q", got)
	}
}

func TestInstrumentExistsError(t *testing.T) {
	m := &fakeMeter{}
	var err error = &InstrumentExistsError{Identity: "serial=\"X\"", Existing: m}
	if !errors.Is(err, ErrInstrumentExists) {
		t.Error("errors.Is(ErrInstrumentExists) = false")
	}
	var ie *InstrumentExistsError
	if !errors.As(err, &ie) || ie.Existing != Instrument(m) {
		t.Error("Existing instance not carried")
	}
}

type recordingListener struct {
	opened, closed []string
	changes        []facet.ChangeEvent
}

func (l *recordingListener) InstrumentOpened(inst Instrument) {
	l.opened = append(l.opened, inst.ParamSet().GetString("serial"))
}

func (l *recordingListener) InstrumentClosed(inst Instrument) {
	l.closed = append(l.closed, inst.ParamSet().GetString("serial"))
}

func (l *recordingListener) FacetChanged(_ Instrument, ev facet.ChangeEvent) {
	l.changes = append(l.changes, ev)
}

func TestSession_Listener(t *testing.T) {
	ctx := context.Background()
	l := &recordingListener{}
	s := NewSession(WithListener(l))

	m := openMeter(t, s, "L1")
	if err := BindResource(m, &fakeResource{addr: "TCPIP0::pm::5025::SOCKET"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Wavelength.Set(ctx, "800 nm"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	if len(l.opened) != 1 || l.opened[0] != "L1" {
		t.Errorf("opened = %v", l.opened)
	}
	if len(l.closed) != 1 || l.closed[0] != "L1" {
		t.Errorf("closed = %v", l.closed)
	}
	if len(l.changes) != 1 || l.changes[0].Name != "wavelength" {
		t.Errorf("changes = %v", l.changes)
	}
}

func TestFacets(t *testing.T) {
	m := openMeter(t, nil, "F1")
	names := []string{}
	for _, v := range m.Facets() {
		names = append(names, v.Name())
	}
	if strings.Join(names, ",") != "power,wavelength" {
		t.Errorf("Facets() = %v", names)
	}
	if _, ok := m.Facet("wavelength"); !ok {
		t.Error("Facet(wavelength) not found")
	}
	if _, ok := m.Facet("missing"); ok {
		t.Error("Facet(missing) found")
	}
}

func TestWith(t *testing.T) {
	m := openMeter(t, nil, "W1")
	boom := errors.New("boom")
	if err := With(m, func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("With() error = %v, want boom", err)
	}
	if !m.Closed() {
		t.Error("instrument not closed after error")
	}

	m2 := openMeter(t, nil, "W2")
	func() {
		defer func() { _ = recover() }()
		_ = With(m2, func() error { panic("driver bug") })
	}()
	if !m2.Closed() {
		t.Error("instrument not closed after panic")
	}
}

type memAliases struct{ saved map[string]paramset.ParamSet }

func (a *memAliases) Save(_ context.Context, name string, ps paramset.ParamSet) error {
	a.saved[name] = ps
	return nil
}

func TestSaveInstrument(t *testing.T) {
	ctx := context.Background()
	store := &memAliases{saved: map[string]paramset.ParamSet{}}
	s := NewSession(WithAliasSaver(store))
	m := openMeter(t, s, "S1")

	if err := m.SaveInstrument(ctx, "bench-pm"); err != nil {
		t.Fatalf("SaveInstrument() error = %v", err)
	}
	if ps, ok := store.saved["bench-pm"]; !ok || !ps.Equal(m.ParamSet()) {
		t.Errorf("saved = %v", store.saved)
	}

	lone := openMeter(t, nil, "S2")
	if err := lone.SaveInstrument(ctx, "x"); !errors.Is(err, ErrNoAliasStore) {
		t.Errorf("SaveInstrument() without store error = %v, want ErrNoAliasStore", err)
	}
}

func TestInstrumentHelpers(t *testing.T) {
	ctx := context.Background()
	store := &memAliases{saved: map[string]paramset.ParamSet{}}
	s := NewSession(WithAliasSaver(store))
	m := openMeter(t, s, "H1")
	var inst Instrument = m

	if got, ok := s.Find(InstanceID(inst)); !ok || got != inst {
		t.Errorf("Find() = %v, %v", got, ok)
	}
	if n := len(FacetsOf(inst)); n != 2 {
		t.Errorf("FacetsOf() = %d facets, want 2", n)
	}
	if _, ok := FacetOf(inst, "power"); !ok {
		t.Error("FacetOf(power) not found")
	}
	if err := Save(ctx, inst, "h1"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, ok := store.saved["h1"]; !ok {
		t.Error("Save() stored nothing")
	}

	m.Close()
	if _, ok := s.Find(InstanceID(inst)); ok {
		t.Error("Find() returned a closed instrument")
	}
}
