package thorlabs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/registry"
	"github.com/labkit/instrumental/internal/units"
	"github.com/labkit/instrumental/internal/visa"
)

type fakeResource struct {
	mu      sync.Mutex
	addr    string
	replies map[string]string
	written []string
	timeout time.Duration
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
	reply, ok := r.replies[msg]
	if !ok {
		return "", visa.ErrTimeout
	}
	return reply, nil
}

func (r *fakeResource) Timeout() time.Duration     { return r.timeout }
func (r *fakeResource) SetTimeout(d time.Duration) { r.timeout = d }
func (r *fakeResource) Close() error               { return nil }

func (r *fakeResource) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.written...)
}

type fakeVisa map[string]*fakeResource

func (v fakeVisa) Open(_ context.Context, addr string) (visa.Resource, error) {
	if r, ok := v[addr]; ok {
		return r, nil
	}
	return nil, visa.ErrTimeout
}

func (v fakeVisa) ListResources(context.Context) ([]string, error) {
	return []string{"ASRL1::INSTR", "TCPIP0::10.0.0.7::5025::SOCKET", "USB0::0x1313::0x8078::P0012345::INSTR"}, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func openPM100(t *testing.T, res *fakeResource, settings map[string]any) *PM100D {
	t.Helper()
	m := &PM100D{}
	ps := paramset.MustOf("module", Module, "classname", ClassPM100D, "visa_address", res.addr)
	driver.Attach(m, ps, nil)
	if err := driver.BindResource(m, res); err != nil {
		t.Fatalf("BindResource() error = %v", err)
	}
	if err := m.Initialize(context.Background(), settings); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return m
}

func TestPM100D_Initialize(t *testing.T) {
	res := &fakeResource{addr: "TCPIP0::10.0.0.7::5025::SOCKET"}
	openPM100(t, res, map[string]any{"wavelength": "1.064 um", "averaging": 100})

	want := []string{"SENS:POW:UNIT W", "SENS:CORR:WAV 1064", "SENS:AVER:COUN 100"}
	if got := res.sent(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestPM100D_Facets(t *testing.T) {
	ctx := context.Background()
	res := &fakeResource{
		addr:    "TCPIP0::10.0.0.7::5025::SOCKET",
		replies: map[string]string{"MEAS:POW?": "1.5E-3\n", "SENS:POW:RANG:AUTO?": "1"},
	}
	m := openPM100(t, res, nil)

	q, err := m.Power.Quantity(ctx)
	if err != nil {
		t.Fatalf("Power.Quantity() error = %v", err)
	}
	mw, err := q.MagnitudeIn(units.MustParseUnit("mW"))
	if err != nil || mw < 1.4999 || mw > 1.5001 {
		t.Errorf("power = %v mW (err %v), want 1.5", mw, err)
	}

	if err := m.Power.Set(ctx, "1 W"); !errors.Is(err, facet.ErrReadOnly) {
		t.Errorf("Power.Set() error = %v, want ErrReadOnly", err)
	}
	if err := m.Wavelength.Set(ctx, "100 nm"); !errors.Is(err, facet.ErrOutOfRange) {
		t.Errorf("Wavelength.Set(100 nm) error = %v, want ErrOutOfRange", err)
	}
	if err := m.Wavelength.Set(ctx, "3 kg"); !errors.Is(err, units.ErrDimensionality) {
		t.Errorf("Wavelength.Set(3 kg) error = %v, want ErrDimensionality", err)
	}

	on, err := m.AutoRange.Bool(ctx)
	if err != nil || !on {
		t.Errorf("AutoRange = %v, %v; want true", on, err)
	}
	if err := m.AutoRange.Set(ctx, false); err != nil {
		t.Fatalf("AutoRange.Set() error = %v", err)
	}
	if err := m.Zero(ctx); err != nil {
		t.Fatalf("Zero() error = %v", err)
	}
	sent := res.sent()
	if got := sent[len(sent)-2:]; got[0] != "SENS:POW:RANG:AUTO 0" || got[1] != "SENS:CORR:COLL:ZERO" {
		t.Errorf("last writes = %q", got)
	}
}

func TestPM100D_WavelengthCached(t *testing.T) {
	ctx := context.Background()
	res := &fakeResource{addr: "ASRL1::INSTR"}
	m := openPM100(t, res, nil)

	for range 2 {
		if err := m.Wavelength.Set(ctx, "850 nm"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	n := 0
	for _, msg := range res.sent() {
		if strings.HasPrefix(msg, "SENS:CORR:WAV ") {
			n++
		}
	}
	if n != 1 {
		t.Errorf("wavelength written %d times, want 1", n)
	}
}

func TestProvider_ListInstruments(t *testing.T) {
	vm := fakeVisa{
		"ASRL1::INSTR": {addr: "ASRL1::INSTR", replies: map[string]string{
			"*IDN?": "TEKTRONIX,AFG3021B,C0100,SCPI:99.0",
		}},
		"USB0::0x1313::0x8078::P0012345::INSTR": {addr: "USB0::0x1313::0x8078::P0012345::INSTR", replies: map[string]string{
			"*IDN?": "Thorlabs,PM100D,P0012345,2.3.0\n",
		}},
	}
	p, err := load(registry.Env{Visa: vm, Logger: nopLogger{}})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	list, err := p.(registry.Lister).ListInstruments(context.Background())
	if err != nil {
		t.Fatalf("ListInstruments() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListInstruments() = %v, want one power meter", list)
	}
	got := list[0]
	if got.Classname() != ClassPM100D || got.GetString("serial") != "P0012345" ||
		got.VisaAddress() != "USB0::0x1313::0x8078::P0012345::INSTR" {
		t.Errorf("listed %v", got)
	}
}

func TestRegistered(t *testing.T) {
	e, ok := registry.Default.Entry(Module)
	if !ok {
		t.Fatalf("%s not registered", Module)
	}
	if !e.HasClass(ClassPM100D) || !e.HasParam("visa_address") {
		t.Errorf("entry = %+v", e)
	}
	if !e.VisaInfo[ClassPM100D].Matches("THORLABS", "pm100usb") {
		t.Error("VisaInfo does not match PM100USB")
	}
}
