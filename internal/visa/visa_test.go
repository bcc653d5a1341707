package visa

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"TCPIP::10.0.0.5::5025::SOCKET", "TCPIP0::10.0.0.5::5025::SOCKET", nil},
		{"tcpip1::scope.lab::4000::socket", "TCPIP1::scope.lab::4000::SOCKET", nil},
		{"ASRL/dev/ttyUSB0::INSTR", "ASRL/dev/ttyUSB0::INSTR", nil},
		{"TCPIP::10.0.0.5::INSTR", "", ErrUnsupportedAddress},
		{"GPIB0::12::INSTR", "", ErrUnsupportedAddress},
		{"USB0::0x1313::0x8078::P0001::INSTR", "", ErrUnsupportedAddress},
		{"TCPIP::host::notaport::SOCKET", "", ErrInvalidAddress},
		{"TCPIP::host::70000::SOCKET", "", ErrInvalidAddress},
		{"garbage", "", ErrInvalidAddress},
		{"ASRL::INSTR", "", ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := ParseAddress(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseAddress(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.in, err)
			}
			if got := a.String(); got != tt.want {
				t.Errorf("ParseAddress(%q).String() = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAddress_SerialNumber(t *testing.T) {
	a, err := ParseAddress("ASRL3::INSTR")
	if err != nil {
		t.Fatalf("ParseAddress() error = %v", err)
	}
	if a.Interface != Serial || a.Board != 3 || a.Device == "" {
		t.Errorf("ParseAddress() = %+v", a)
	}
}

// fakeInstrument answers queries on the server side of a pipe.
type fakeInstrument struct {
	mu      sync.Mutex
	replies map[string]string
	delays  map[string]time.Duration
	got     []string
	closed  bool
}

func (f *fakeInstrument) serve(c net.Conn) {
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			f.mu.Lock()
			f.closed = true
			f.mu.Unlock()
			return
		}
		line = strings.TrimSpace(line)
		f.mu.Lock()
		f.got = append(f.got, line)
		reply, ok := f.replies[line]
		delay := f.delays[line]
		f.mu.Unlock()
		time.Sleep(delay)
		if ok {
			if _, err := c.Write([]byte(reply + "\r\n")); err != nil {
				return
			}
		}
	}
}

func (f *fakeInstrument) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

type dialRecorder struct {
	mu    sync.Mutex
	dials []string
	fail  int
	inst  *fakeInstrument
}

func (d *dialRecorder) dial(_ context.Context, _ string, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, address)
	if d.fail > 0 {
		d.fail--
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	go d.inst.serve(server)
	return client, nil
}

func (d *dialRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func newTestManager(d *dialRecorder, cfg Config) *ResourceManager {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return NewResourceManager(cfg,
		WithDialer(d.dial),
		WithPortLister(func() ([]string, error) { return nil, nil }),
	)
}

func TestOpen_SharesTransport(t *testing.T) {
	ctx := context.Background()
	inst := &fakeInstrument{replies: map[string]string{}}
	d := &dialRecorder{inst: inst}
	m := newTestManager(d, Config{})

	a, err := m.Open(ctx, "TCPIP::afg.lab::5025::SOCKET")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, err := m.Open(ctx, "tcpip0::afg.lab::5025::socket")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
	if a.Address() != b.Address() {
		t.Errorf("addresses differ: %q vs %q", a.Address(), b.Address())
	}
	if m.OpenCount() != 1 {
		t.Errorf("OpenCount() = %d, want 1", m.OpenCount())
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if m.OpenCount() != 1 {
		t.Errorf("OpenCount() after first close = %d, want 1", m.OpenCount())
	}
	if err := b.Write(ctx, "OUTP ON"); err != nil {
		t.Errorf("Write() on remaining handle error = %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if m.OpenCount() != 0 {
		t.Errorf("OpenCount() after last close = %d, want 0", m.OpenCount())
	}
	if err := b.Write(ctx, "OUTP OFF"); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after close error = %v, want ErrClosed", err)
	}
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	inst := &fakeInstrument{replies: map[string]string{
		"*IDN?": "TEKTRONIX,AFG3102,C012345,SCPI:99.0 FV:3.1.2",
	}}
	m := newTestManager(&dialRecorder{inst: inst}, Config{})

	res, err := m.Open(ctx, "TCPIP::afg::5025::SOCKET")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer res.Close()

	got, err := res.Query(ctx, "*IDN?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got != "TEKTRONIX,AFG3102,C012345,SCPI:99.0 FV:3.1.2" {
		t.Errorf("Query() = %q", got)
	}
	if r := inst.received(); len(r) != 1 || r[0] != "*IDN?" {
		t.Errorf("instrument received %v", r)
	}
}

func TestRead_Timeout(t *testing.T) {
	ctx := context.Background()
	inst := &fakeInstrument{replies: map[string]string{}}
	m := newTestManager(&dialRecorder{inst: inst}, Config{Timeout: 20 * time.Millisecond})

	res, err := m.Open(ctx, "TCPIP::silent::5025::SOCKET")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer res.Close()

	if _, err := res.Query(ctx, "MEAS?"); !errors.Is(err, ErrTimeout) {
		t.Errorf("Query() error = %v, want ErrTimeout", err)
	}
}

func TestQuery_LateReplyDiscarded(t *testing.T) {
	ctx := context.Background()
	inst := &fakeInstrument{
		replies: map[string]string{"MEAS?": "1.5E-3", "*IDN?": "Thorlabs,PM100D,P0012345,2.3.0"},
		delays:  map[string]time.Duration{"MEAS?": 40 * time.Millisecond},
	}
	m := newTestManager(&dialRecorder{inst: inst}, Config{Timeout: 20 * time.Millisecond})

	res, err := m.Open(ctx, "TCPIP::pm::5025::SOCKET")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer res.Close()

	if _, err := res.Query(ctx, "MEAS?"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Query(MEAS?) error = %v, want ErrTimeout", err)
	}
	// Let the late reply reach the transport.
	time.Sleep(40 * time.Millisecond)

	got, err := res.Query(ctx, "*IDN?")
	if err != nil {
		t.Fatalf("Query(*IDN?) error = %v", err)
	}
	if got != "Thorlabs,PM100D,P0012345,2.3.0" {
		t.Errorf("Query(*IDN?) = %q, want the identification, not the late reply", got)
	}
}

func TestWithTimeout_Restores(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(&dialRecorder{inst: &fakeInstrument{}}, Config{Timeout: time.Second})
	res, err := m.Open(ctx, "TCPIP::x::5025::SOCKET")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer res.Close()

	boom := errors.New("boom")
	err = WithTimeout(res, 5*time.Second, func() error {
		if res.Timeout() != 5*time.Second {
			t.Errorf("Timeout() inside = %v, want 5s", res.Timeout())
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("WithTimeout() error = %v, want boom", err)
	}
	if res.Timeout() != time.Second {
		t.Errorf("Timeout() after = %v, want 1s", res.Timeout())
	}

	func() {
		defer func() { _ = recover() }()
		_ = WithTimeout(res, 7*time.Second, func() error { panic("driver bug") })
	}()
	if res.Timeout() != time.Second {
		t.Errorf("Timeout() after panic = %v, want 1s", res.Timeout())
	}
}

func TestOpen_Retries(t *testing.T) {
	d := &dialRecorder{inst: &fakeInstrument{}, fail: 2}
	m := newTestManager(d, Config{ConnectRetries: 3})

	res, err := m.Open(context.Background(), "TCPIP::flaky::5025::SOCKET")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer res.Close()
	if d.count() != 3 {
		t.Errorf("dials = %d, want 3", d.count())
	}
}

func TestOpen_Fails(t *testing.T) {
	d := &dialRecorder{inst: &fakeInstrument{}, fail: 10}
	m := newTestManager(d, Config{ConnectRetries: 2})

	_, err := m.Open(context.Background(), "TCPIP::down::5025::SOCKET")
	if !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("Open() error = %v, want ErrOpenFailed", err)
	}
	if m.OpenCount() != 0 {
		t.Errorf("OpenCount() = %d, want 0", m.OpenCount())
	}
}

func TestListResources(t *testing.T) {
	m := NewResourceManager(Config{
		Addresses: []string{"TCPIP::a::5025::SOCKET", "tcpip0::a::5025::socket", "TCPIP::b::5025::SOCKET"},
	}, WithPortLister(func() ([]string, error) {
		return []string{"/dev/ttyUSB1", "/dev/ttyUSB0"}, nil
	}))

	got, err := m.ListResources(context.Background())
	if err != nil {
		t.Fatalf("ListResources() error = %v", err)
	}
	want := []string{
		"TCPIP0::a::5025::SOCKET",
		"TCPIP0::b::5025::SOCKET",
		"ASRL/dev/ttyUSB0::INSTR",
		"ASRL/dev/ttyUSB1::INSTR",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ListResources() = %v, want %v", got, want)
	}
}

func TestListResources_PortErrorTolerated(t *testing.T) {
	m := NewResourceManager(Config{Addresses: []string{"TCPIP::a::5025::SOCKET"}},
		WithPortLister(func() ([]string, error) { return nil, errors.New("no sysfs") }))

	got, err := m.ListResources(context.Background())
	if err != nil {
		t.Fatalf("ListResources() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ListResources() = %v, want one address", got)
	}
}

// fakePort satisfies serial.Port by embedding; only the used methods are
// implemented.
type fakePort struct {
	serial.Port
	mu      sync.Mutex
	out     strings.Builder
	in      *strings.Reader
	timeout time.Duration
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestOpen_Serial(t *testing.T) {
	ctx := context.Background()
	port := &fakePort{in: strings.NewReader("THORLABS,PM100D,P0012345,2.7.0\n")}
	var gotDevice string
	var gotBaud int

	m := NewResourceManager(Config{SerialBaud: 115200},
		WithSerialOpener(func(dev string, mode *serial.Mode) (serial.Port, error) {
			gotDevice, gotBaud = dev, mode.BaudRate
			return port, nil
		}))

	res, err := m.Open(ctx, "ASRL/dev/ttyACM0::INSTR")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if gotDevice != "/dev/ttyACM0" || gotBaud != 115200 {
		t.Errorf("opened %q at %d baud", gotDevice, gotBaud)
	}

	idn, err := res.Query(ctx, "*IDN?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if idn != "THORLABS,PM100D,P0012345,2.7.0" {
		t.Errorf("Query() = %q", idn)
	}
	if port.out.String() != "*IDN?\n" {
		t.Errorf("port received %q", port.out.String())
	}

	// The reply buffer is drained, so the next read times out.
	if _, err := res.Read(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("Read() error = %v, want ErrTimeout", err)
	}

	if err := res.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !port.closed {
		t.Error("serial port not closed")
	}
}

func TestParseIDN(t *testing.T) {
	tests := []struct {
		reply string
		want  IDN
	}{
		{"TEKTRONIX,AFG3021B,C012345,SCPI:99.0 FV:3.1.1\n", IDN{"TEKTRONIX", "AFG3021B", "C012345", "SCPI:99.0 FV:3.1.1"}},
		{"Thorlabs, PM100D ,P0012345,2.3.0", IDN{"Thorlabs", "PM100D", "P0012345", "2.3.0"}},
		{"ACME,X1", IDN{Manufacturer: "ACME", Model: "X1"}},
		{"", IDN{}},
		{"A,B,C,D,E", IDN{"A", "B", "C", "D,E"}},
	}
	for _, tt := range tests {
		if got := ParseIDN(tt.reply); got != tt.want {
			t.Errorf("ParseIDN(%q) = %+v, want %+v", tt.reply, got, tt.want)
		}
	}
}
