package visa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.bug.st/serial"
)

// Default resource manager settings.
const (
	defaultTimeout        = 3 * time.Second
	defaultConnectRetries = 3
	defaultRetryDelay     = 200 * time.Millisecond
	defaultSerialBaud     = 9600
)

// Config holds resource manager settings.
type Config struct {
	// Timeout is the initial per-operation timeout of opened resources.
	Timeout time.Duration

	// ConnectRetries is the number of open attempts before giving up.
	ConnectRetries uint

	// RetryDelay is the delay between open attempts.
	RetryDelay time.Duration

	// SerialBaud is the baud rate used for ASRL resources.
	SerialBaud int

	// Addresses are resource strings reported by ListResources in addition
	// to the serial ports found on the host. Socket instruments cannot be
	// discovered, so they must be listed here.
	Addresses []string
}

// Dialer opens network connections. net.Dialer.DialContext satisfies it.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// Logger is the logging interface used by the resource manager.
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

// Option configures a ResourceManager.
type Option func(*ResourceManager)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(m *ResourceManager) { m.dial = d }
}

// WithSerialOpener replaces the serial port opener.
func WithSerialOpener(o SerialOpener) Option {
	return func(m *ResourceManager) { m.openSerial = o }
}

// WithPortLister replaces serial port enumeration.
func WithPortLister(l PortLister) Option {
	return func(m *ResourceManager) { m.listPorts = l }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *ResourceManager) { m.logger = l }
}

// ResourceManager opens resources and shares one transport per address:
// opening an address that is already open returns a new handle onto the
// same connection. The connection is closed when its last handle closes.
//
// Thread Safety: all methods are safe for concurrent use.
type ResourceManager struct {
	cfg        Config
	dial       Dialer
	openSerial SerialOpener
	listPorts  PortLister
	logger     Logger

	mu   sync.Mutex
	open map[string]*shared
}

// shared is one open transport and its handle count.
type shared struct {
	res  *streamResource
	refs int
}

// NewResourceManager creates a resource manager.
func NewResourceManager(cfg Config, opts ...Option) *ResourceManager {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = defaultConnectRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.SerialBaud == 0 {
		cfg.SerialBaud = defaultSerialBaud
	}

	var d net.Dialer
	m := &ResourceManager{
		cfg:        cfg,
		dial:       d.DialContext,
		openSerial: serial.Open,
		listPorts:  serial.GetPortsList,
		logger:     noopLogger{},
		open:       make(map[string]*shared),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns a handle to the resource at address, connecting if no other
// handle for the same address is open.
func (m *ResourceManager) Open(ctx context.Context, address string) (Resource, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	key := addr.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.open[key]; ok {
		s.refs++
		m.logger.Debug("reusing visa resource", "address", key, "handles", s.refs)
		return &handle{m: m, key: key, res: s.res}, nil
	}

	c, err := m.connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	res := newStreamResource(key, c, m.cfg.Timeout)
	m.open[key] = &shared{res: res, refs: 1}
	m.logger.Info("opened visa resource", "address", key)
	return &handle{m: m, key: key, res: res}, nil
}

func (m *ResourceManager) connect(ctx context.Context, addr Address) (conn, error) {
	var c conn
	err := retry.Do(
		func() error {
			switch addr.Interface {
			case Socket:
				nc, err := m.dial(ctx, "tcp", addr.HostPort())
				if err != nil {
					return err
				}
				c = nc
			case Serial:
				p, err := m.openSerial(addr.Device, &serial.Mode{BaudRate: m.cfg.SerialBaud})
				if err != nil {
					return err
				}
				c = &serialConn{port: p}
			default:
				return retry.Unrecoverable(ErrUnsupportedAddress)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(m.cfg.ConnectRetries),
		retry.Delay(m.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Debug("visa open attempt failed", "address", addr.String(), "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, addr, err)
	}
	return c, nil
}

// release drops one handle and closes the transport with the last one.
func (m *ResourceManager) release(key string) error {
	m.mu.Lock()
	s, ok := m.open[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	s.refs--
	if s.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.open, key)
	m.mu.Unlock()

	m.logger.Info("closed visa resource", "address", key)
	return s.res.Close()
}

// ListResources returns the configured addresses followed by one ASRL
// address per serial port found on the host. A failure to enumerate serial
// ports is logged and does not hide the configured addresses.
func (m *ResourceManager) ListResources(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, a := range m.cfg.Addresses {
		addr, err := ParseAddress(a)
		if err != nil {
			return nil, err
		}
		if key := addr.String(); !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}

	ports, err := m.listPorts()
	if err != nil {
		m.logger.Warn("serial port enumeration failed", "error", err)
		return out, nil
	}
	sort.Strings(ports)
	for _, p := range ports {
		if key := SerialAddress(p); !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out, nil
}

// OpenCount returns the number of distinct open transports.
func (m *ResourceManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Close closes every open transport regardless of outstanding handles.
func (m *ResourceManager) Close() error {
	m.mu.Lock()
	open := m.open
	m.open = make(map[string]*shared)
	m.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.res.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handle is one holder's view of a shared resource.
type handle struct {
	m    *ResourceManager
	key  string
	res  *streamResource
	once sync.Once
}

func (h *handle) Address() string { return h.res.Address() }

func (h *handle) Write(ctx context.Context, msg string) error { return h.res.Write(ctx, msg) }

func (h *handle) Read(ctx context.Context) (string, error) { return h.res.Read(ctx) }

func (h *handle) Query(ctx context.Context, msg string) (string, error) {
	return h.res.Query(ctx, msg)
}

func (h *handle) Timeout() time.Duration { return h.res.Timeout() }

func (h *handle) SetTimeout(d time.Duration) { h.res.SetTimeout(d) }

// Close releases the handle. Closing twice is a no-op.
func (h *handle) Close() error {
	var err error
	h.once.Do(func() { err = h.m.release(h.key) })
	return err
}
