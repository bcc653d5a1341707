package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/registry"
	"github.com/labkit/instrumental/internal/visa"
)

type camera struct {
	driver.Base
	settings map[string]any
	initErr  error
}

func (c *camera) Initialize(_ context.Context, settings map[string]any) error {
	c.settings = settings
	return c.initErr
}

type generator struct {
	driver.Base
	driver.VisaMixin
}

type listProvider struct {
	registry.Classes
	list []paramset.ParamSet
	err  error
}

func (p listProvider) ListInstruments(context.Context) ([]paramset.ParamSet, error) {
	return p.list, p.err
}

type fillProvider struct {
	registry.Classes
	calls *int
}

func (p fillProvider) FillOutParamSet(_ context.Context, ps paramset.ParamSet) (paramset.ParamSet, error) {
	*p.calls++
	return ps.With("model", "filled")
}

func provide(p registry.Provider) func(registry.Env) (registry.Provider, error) {
	return func(registry.Env) (registry.Provider, error) { return p, nil }
}

func cameraClass(name string) registry.Classes {
	return registry.Classes{name: func() driver.Instrument { return &camera{} }}
}

func mustRegister(t *testing.T, r *registry.Registry, e registry.Entry) {
	t.Helper()
	if err := r.Register(e); err != nil {
		t.Fatalf("Register(%s) error = %v", e.Module, err)
	}
}

// benchRegistry has two camera modules listing the same serial, a DAQ
// module and a module without enumeration.
func benchRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	mustRegister(t, r, registry.Entry{
		Module: "cameras.other", Params: []string{"serial"}, Classes: []string{"Other"}, Priority: 5,
		Load: provide(listProvider{Classes: cameraClass("Other"), list: []paramset.ParamSet{
			paramset.MustOf("serial", "X1"),
		}}),
	})
	mustRegister(t, r, registry.Entry{
		Module: "cameras.acme", Params: []string{"serial"}, Classes: []string{"Acme"}, Priority: 1,
		Load: provide(listProvider{Classes: cameraClass("Acme"), list: []paramset.ParamSet{
			paramset.MustOf("serial", "X1"),
			paramset.MustOf("serial", "Z9"),
		}}),
	})
	mustRegister(t, r, registry.Entry{
		Module: "daq.ni", Params: []string{"name", "serial"}, Classes: []string{"NIDAQ"},
		Load: provide(listProvider{Classes: cameraClass("NIDAQ"), list: []paramset.ParamSet{
			paramset.MustOf("name", "Dev2", "serial", "Z9"),
		}}),
	})
	mustRegister(t, r, registry.Entry{
		Module: "motion.kinesis", Params: []string{"name"}, Classes: []string{"Stage"},
		Load: provide(cameraClass("Stage")),
	})
	return r
}

func TestInstrument_PriorityWins(t *testing.T) {
	res := New(benchRegistry(t), nil)
	inst, err := res.Instrument(context.Background(), paramset.MustOf("serial", "X1"))
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if got := inst.ParamSet().Module(); got != "cameras.acme" {
		t.Errorf("module = %q, want cameras.acme", got)
	}
	if got := inst.ParamSet().Classname(); got != "Acme" {
		t.Errorf("classname = %q, want Acme", got)
	}
}

func TestInstrument_KeywordHint(t *testing.T) {
	res := New(benchRegistry(t), nil)
	inst, err := res.Instrument(context.Background(), paramset.MustOf("cam_serial", "Z9"))
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if got := inst.ParamSet().Module(); got != "cameras.acme" {
		t.Errorf("module = %q, want cameras.acme", got)
	}
	if got := inst.ParamSet().GetString("serial"); got != "Z9" {
		t.Errorf("serial = %q, want Z9", got)
	}

	insts, err := res.ListInstruments(context.Background(), ListOptions{Filters: paramset.MustOf("cam_serial", "Z9")})
	if err != nil {
		t.Fatal(err)
	}
	for _, ps := range insts {
		if ps.Module() == "daq.ni" {
			t.Errorf("cam_serial matched %v", ps)
		}
	}
}

func TestInstrument_ReopenPolicies(t *testing.T) {
	ctx := context.Background()
	res := New(benchRegistry(t), nil)
	req := paramset.MustOf("name", "Dev1")

	first, err := res.Instrument(ctx, req)
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if got := first.ParamSet().Module(); got != "motion.kinesis" {
		t.Fatalf("fast path module = %q, want motion.kinesis", got)
	}

	_, err = res.Instrument(ctx, req)
	var exists *driver.InstrumentExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("strict reopen error = %v, want InstrumentExistsError", err)
	}
	if exists.Existing != first {
		t.Error("InstrumentExistsError does not carry the open instance")
	}

	again, err := res.Instrument(ctx, req, WithReopenPolicy(PolicyReuse))
	if err != nil {
		t.Fatalf("reuse error = %v", err)
	}
	if again != first {
		t.Error("reuse returned a different instance")
	}

	fresh, err := res.Instrument(ctx, req, WithReopenPolicy(PolicyNew))
	if err != nil {
		t.Fatalf("new error = %v", err)
	}
	if fresh == first {
		t.Error("new returned the cached instance")
	}
	if got, _ := res.Session().Lookup(fresh.ParamSet().Identity()); got != fresh {
		t.Error("session does not map identity to the newest instance")
	}

	// Closing the newer instance hands the identity back to the older one.
	if err := fresh.Close(); err != nil {
		t.Fatal(err)
	}
	if got, _ := res.Session().Lookup(first.ParamSet().Identity()); got != first {
		t.Error("session lost the identity of the still-open instance")
	}
	_, err = res.Instrument(ctx, req)
	if !errors.As(err, &exists) || exists.Existing != first {
		t.Fatalf("strict reopen after closing newer instance error = %v, want InstrumentExistsError for first", err)
	}

	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := res.Instrument(ctx, req); err != nil {
		t.Errorf("Instrument() after close error = %v", err)
	}
}

func TestListInstruments_SkipsBrokenProviders(t *testing.T) {
	r := benchRegistry(t)
	mustRegister(t, r, registry.Entry{
		Module: "cameras.broken", Params: []string{"serial"}, Classes: []string{"Broken"},
		Load: func(registry.Env) (registry.Provider, error) { return nil, errors.New("tsl_camera.dll not found") },
	})
	mustRegister(t, r, registry.Entry{
		Module: "cameras.flaky", Params: []string{"serial"}, Classes: []string{"Flaky"},
		Load: provide(listProvider{Classes: cameraClass("Flaky"), err: errors.New("usb enumeration failed")}),
	})

	res := New(r, nil)
	got, err := res.ListInstruments(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("ListInstruments() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("ListInstruments() = %d results, want 4: %v", len(got), got)
	}
	want := []string{"cameras.acme", "cameras.acme", "cameras.other", "daq.ni"}
	for i, ps := range got {
		if ps.Module() != want[i] {
			t.Errorf("result %d module = %q, want %q", i, ps.Module(), want[i])
		}
		if ps.Classname() == "" {
			t.Errorf("result %d has no classname", i)
		}
	}
}

func TestListInstruments_Filters(t *testing.T) {
	res := New(benchRegistry(t), nil, WithBlacklist("cameras.acme"))
	tests := []struct {
		name string
		opts ListOptions
		want int
	}{
		{"module filter", ListOptions{Module: "daq"}, 1},
		{"blacklist applies", ListOptions{Module: "cameras"}, 1},
		{"keyword filter", ListOptions{Filters: paramset.MustOf("serial", "Z9")}, 1},
		{"nothing matches", ListOptions{Filters: paramset.MustOf("serial", "nope")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := res.ListInstruments(context.Background(), tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("ListInstruments() = %v, want %d results", got, tt.want)
			}
		})
	}
}

func TestInstrument_RequireUnique(t *testing.T) {
	res := New(benchRegistry(t), nil)
	_, err := res.Instrument(context.Background(), paramset.MustOf("serial", "X1"), RequireUnique())
	if !errors.Is(err, ErrAmbiguous) {
		t.Errorf("Instrument() error = %v, want ErrAmbiguous", err)
	}
	if _, err := res.Instrument(context.Background(), paramset.MustOf("serial", "Z9", "name", "Dev2"), RequireUnique()); err != nil {
		t.Errorf("unique request error = %v", err)
	}
}

func TestInstrument_NoMatch(t *testing.T) {
	res := New(benchRegistry(t), nil)
	tests := []struct {
		name string
		ps   paramset.ParamSet
	}{
		{"unknown key", paramset.MustOf("colour", "red")},
		{"nothing enumerated", paramset.MustOf("ni_serial", "missing")},
		{"unknown class", paramset.MustOf("classname", "Nope")},
		{"class not in module", paramset.MustOf("module", "daq.ni", "classname", "Acme")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := res.Instrument(context.Background(), tt.ps); !errors.Is(err, ErrNoMatchingInstrument) {
				t.Errorf("Instrument() error = %v, want ErrNoMatchingInstrument", err)
			}
		})
	}
}

func TestInstrument_DirectAndFillOut(t *testing.T) {
	ctx := context.Background()
	r := benchRegistry(t)
	calls := 0
	mustRegister(t, r, registry.Entry{
		Module: "spectrometers.ocean", Params: []string{"serial", "model"}, Classes: []string{"Ocean"},
		Load: provide(fillProvider{Classes: cameraClass("Ocean"), calls: &calls}),
	})
	res := New(r, nil)

	inst, err := res.Instrument(ctx, paramset.MustOf("module", "daq.ni", "classname", "NIDAQ", "name", "Dev2"))
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if got := inst.ParamSet().GetString("serial"); got != "Z9" {
		t.Errorf("filled serial = %q, want Z9", got)
	}

	inst, err = res.Instrument(ctx, paramset.MustOf("classname", "Ocean", "serial", "S1"))
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if calls != 1 || inst.ParamSet().GetString("model") != "filled" {
		t.Errorf("fill-out hook calls = %d, params = %v", calls, inst.ParamSet())
	}
	if inst.ParamSet().Module() != "spectrometers.ocean" {
		t.Errorf("module not derived from class: %v", inst.ParamSet())
	}
}

func TestInstrument_SettingsAndInitFailure(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	mustRegister(t, r, registry.Entry{
		Module: "cameras.acme", Params: []string{"serial"}, Classes: []string{"Acme", "Bad"},
		Load: provide(registry.Classes{
			"Acme": func() driver.Instrument { return &camera{} },
			"Bad":  func() driver.Instrument { return &camera{initErr: errors.New("sensor fault")} },
		}),
	})
	res := New(r, nil)

	ps := paramset.MustOf("serial", "X1").WithSettings(map[string]any{"exposure": "10 ms"})
	inst, err := res.Instrument(ctx, ps)
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if got := inst.(*camera).settings["exposure"]; got != "10 ms" {
		t.Errorf("settings exposure = %v", got)
	}

	_, err = res.Instrument(ctx, paramset.MustOf("classname", "Bad", "serial", "X2"))
	if err == nil {
		t.Fatal("Instrument() with failing Initialize succeeded")
	}
	if n := len(res.Session().OpenInstruments()); n != 1 {
		t.Errorf("OpenInstruments() = %d, want 1", n)
	}
}

type fakeResource struct {
	mu      sync.Mutex
	addr    string
	idn     string
	timeout time.Duration
	closed  int
}

func (r *fakeResource) Address() string                      { return r.addr }
func (r *fakeResource) Write(context.Context, string) error  { return nil }
func (r *fakeResource) Read(context.Context) (string, error) { return "", visa.ErrTimeout }
func (r *fakeResource) Timeout() time.Duration               { return r.timeout }
func (r *fakeResource) SetTimeout(d time.Duration)           { r.timeout = d }

func (r *fakeResource) Query(_ context.Context, msg string) (string, error) {
	if msg == "*IDN?" && r.idn != "" {
		return r.idn, nil
	}
	return "", visa.ErrTimeout
}

func (r *fakeResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

type fakeVisa struct {
	idn    string
	opened []*fakeResource
}

func (v *fakeVisa) Open(_ context.Context, address string) (visa.Resource, error) {
	if address == "TCPIP0::unreachable::5025::SOCKET" {
		return nil, visa.ErrOpenFailed
	}
	res := &fakeResource{addr: address, idn: v.idn}
	v.opened = append(v.opened, res)
	return res, nil
}

func (v *fakeVisa) ListResources(context.Context) ([]string, error) { return nil, nil }

type checkerProvider struct{ registry.Classes }

func (checkerProvider) CheckVisaSupport(_ context.Context, res visa.Resource) (string, bool) {
	return "Checked", res.Address() == "ASRL3::INSTR"
}

func visaRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	gen := func() driver.Instrument { return &generator{} }
	mustRegister(t, r, registry.Entry{
		Module: "powermeters.thorlabs", Params: []string{"visa_address"}, Classes: []string{"PM100D"}, Priority: 1,
		VisaInfo: map[string]registry.VisaInfo{"PM100D": {Manufacturer: "Thorlabs", Models: []string{"PM100D"}}},
		Load:     provide(registry.Classes{"PM100D": gen}),
	})
	mustRegister(t, r, registry.Entry{
		Module: "funcgenerators.tektronix", Params: []string{"visa_address"}, Classes: []string{"AFG3000"},
		VisaInfo: map[string]registry.VisaInfo{"AFG3000": {Manufacturer: "TEKTRONIX", Models: []string{"AFG3021B"}}},
		Load:     provide(registry.Classes{"AFG3000": gen}),
	})
	mustRegister(t, r, registry.Entry{
		Module: "lasers.serial", Params: []string{"visa_address"}, Classes: []string{"Checked"},
		Load: provide(checkerProvider{registry.Classes{"Checked": gen}}),
	})
	return r
}

func TestInstrument_VisaIdentification(t *testing.T) {
	ctx := context.Background()
	v := &fakeVisa{idn: "TEKTRONIX,AFG3021B,C012345,SCPI:99.0 FV:3.1.1"}
	res := New(visaRegistry(t), nil, WithVisa(v))

	inst, err := res.Instrument(ctx, paramset.MustOf("visa_address", "TCPIP0::afg::5025::SOCKET"))
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if got := inst.ParamSet().Classname(); got != "AFG3000" {
		t.Errorf("classname = %q, want AFG3000", got)
	}
	gen := inst.(*generator)
	if gen.Resource() == nil {
		t.Fatal("resource not bound")
	}
	if len(v.opened) != 2 || v.opened[0].closed != 1 {
		t.Errorf("identification resource not released: opened=%d", len(v.opened))
	}
	if err := inst.Close(); err != nil {
		t.Fatal(err)
	}
	if v.opened[1].closed != 1 {
		t.Error("instrument resource not closed")
	}
}

func TestInstrument_VisaChecker(t *testing.T) {
	res := New(visaRegistry(t), nil, WithVisa(&fakeVisa{}))
	inst, err := res.Instrument(context.Background(), paramset.MustOf("visa_address", "ASRL3::INSTR"))
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if got := inst.ParamSet().Module(); got != "lasers.serial" {
		t.Errorf("module = %q, want lasers.serial", got)
	}
}

func TestInstrument_VisaFallbacks(t *testing.T) {
	ctx := context.Background()

	// Unidentified addresses fall back to the first provider taking only visa_address.
	res := New(visaRegistry(t), nil, WithVisa(&fakeVisa{idn: "ACME,X1,0,0"}))
	inst, err := res.Instrument(ctx, paramset.MustOf("visa_address", "TCPIP0::pm::5025::SOCKET"))
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if got := inst.ParamSet().Module(); got != "powermeters.thorlabs" {
		t.Errorf("module = %q, want powermeters.thorlabs", got)
	}

	_, err = res.Instrument(ctx, paramset.MustOf("visa_address", "TCPIP0::unreachable::5025::SOCKET"))
	if !errors.Is(err, driver.ErrLibrary) {
		t.Errorf("unreachable address error = %v, want ErrLibrary", err)
	}

	noVisa := New(visaRegistry(t), nil)
	_, err = noVisa.Instrument(ctx, paramset.MustOf("module", "powermeters.thorlabs", "classname", "PM100D", "visa_address", "ASRL1::INSTR"))
	if !errors.Is(err, ErrNoVisa) {
		t.Errorf("Instrument() without VISA error = %v, want ErrNoVisa", err)
	}
}

type fakeRemote struct{ addr string }

func (f *fakeRemote) ListInstruments(_ context.Context, addr string) ([]paramset.ParamSet, error) {
	f.addr = addr
	return []paramset.ParamSet{paramset.MustOf("module", "cameras.acme", "classname", "Acme", "serial", "R1")}, nil
}

func TestListInstruments_Remote(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{}
	res := New(benchRegistry(t), nil,
		WithRemote(remote),
		WithServers(map[string]string{"lab2": "lab2.local:28265"}, "lab2"),
	)

	tests := []struct {
		server  string
		want    string
		wantErr error
	}{
		{"lab2", "lab2.local:28265", nil},
		{DefaultServer, "lab2.local:28265", nil},
		{"10.0.0.5:28265", "10.0.0.5:28265", nil},
		{"nowhere", "", ErrUnknownServer},
	}
	for _, tt := range tests {
		remote.addr = ""
		got, err := res.ListInstruments(ctx, ListOptions{Server: tt.server})
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("ListInstruments(%q) error = %v, want %v", tt.server, err, tt.wantErr)
			continue
		}
		if tt.wantErr == nil && (remote.addr != tt.want || len(got) != 1) {
			t.Errorf("ListInstruments(%q) contacted %q, got %v", tt.server, remote.addr, got)
		}
	}

	if _, err := res.Instrument(ctx, paramset.MustOf("server", "lab2", "serial", "R1")); !errors.Is(err, ErrRemoteInstrument) {
		t.Errorf("remote Instrument() error = %v, want ErrRemoteInstrument", err)
	}
	if _, err := New(benchRegistry(t), nil).ListInstruments(ctx, ListOptions{Server: "lab2"}); !errors.Is(err, ErrNoRemote) {
		t.Errorf("ListInstruments() without client error = %v, want ErrNoRemote", err)
	}
}

type fakeAliases map[string]paramset.ParamSet

var errNoAlias = errors.New("no such alias")

func (a fakeAliases) Lookup(_ context.Context, name string) (paramset.ParamSet, error) {
	ps, ok := a[name]
	if !ok {
		return paramset.ParamSet{}, errNoAlias
	}
	return ps, nil
}

func TestOpen_RequestForms(t *testing.T) {
	ctx := context.Background()
	aliases := fakeAliases{"bench-cam": paramset.MustOf("serial", "Z9")}
	res := New(benchRegistry(t), nil, WithAliases(aliases), WithDefaultPolicy(PolicyReuse))

	byAlias, err := res.Open(ctx, "bench-cam")
	if err != nil {
		t.Fatalf("Open(alias) error = %v", err)
	}
	byLiteral, err := res.Open(ctx, `{"serial": "Z9"}`)
	if err != nil {
		t.Fatalf("Open(literal) error = %v", err)
	}
	byMap, err := res.Open(ctx, map[string]any{"serial": "Z9"})
	if err != nil {
		t.Fatalf("Open(map) error = %v", err)
	}
	if byAlias != byLiteral || byLiteral != byMap {
		t.Error("request forms resolved to different instances under reuse")
	}
	if same, _ := res.Open(ctx, byAlias); same != byAlias {
		t.Error("Open(instrument) did not pass through")
	}

	if _, err := res.Open(ctx, "missing"); !errors.Is(err, errNoAlias) {
		t.Errorf("Open(missing) error = %v", err)
	}
	if _, err := res.Open(ctx, 42); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Open(42) error = %v, want ErrInvalidRequest", err)
	}
	if _, err := New(benchRegistry(t), nil).InstrumentByAlias(ctx, "x"); !errors.Is(err, ErrNoAliases) {
		t.Errorf("InstrumentByAlias() without store error = %v, want ErrNoAliases", err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		name    string
		wantErr bool
	}{
		{"", PolicyStrict, "strict", false},
		{"strict", PolicyStrict, "strict", false},
		{"Reuse", PolicyReuse, "reuse", false},
		{" new ", PolicyNew, "new", false},
		{"forever", PolicyStrict, "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("ParsePolicy(%q) error = %v, want ErrInvalidPolicy", tt.in, err)
			}
			continue
		}
		if got != tt.want || got.String() != tt.name {
			t.Errorf("ParsePolicy(%q) = %v (%s), want %v", tt.in, got, got.String(), tt.want)
		}
	}
}
