package visa

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Resource is an open message-based connection to one instrument.
//
// Thread Safety: all methods are safe for concurrent use. Query holds the
// resource for the whole write/read exchange.
type Resource interface {
	// Address returns the canonical resource string.
	Address() string

	// Write sends msg followed by the write termination.
	Write(ctx context.Context, msg string) error

	// Read reads one message up to the read termination, which is stripped.
	Read(ctx context.Context) (string, error)

	// Query writes msg and reads the reply.
	Query(ctx context.Context, msg string) (string, error)

	// Timeout returns the per-operation I/O timeout.
	Timeout() time.Duration

	// SetTimeout changes the per-operation I/O timeout.
	SetTimeout(d time.Duration)

	Close() error
}

// conn is the transport under a stream resource. net.Conn satisfies it;
// serial ports are adapted by serialConn.
type conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// staleWindow is how long a write after a timed-out read waits for the
// late reply before sending.
const staleWindow = 50 * time.Millisecond

// streamResource implements Resource over a byte stream with newline
// terminated messages.
type streamResource struct {
	addr string
	conn conn

	mu      sync.Mutex
	reader  *bufio.Reader
	timeout time.Duration
	closed  bool
	// stale is set when a read timed out; the instrument may still send
	// the reply it owed.
	stale bool

	writeTerm string
	readTerm  byte
}

func newStreamResource(addr string, c conn, timeout time.Duration) *streamResource {
	return &streamResource{
		addr:      addr,
		conn:      c,
		reader:    bufio.NewReader(c),
		timeout:   timeout,
		writeTerm: "\n",
		readTerm:  '\n',
	}
}

func (r *streamResource) Address() string { return r.addr }

func (r *streamResource) Timeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeout
}

func (r *streamResource) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

func (r *streamResource) Write(ctx context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(ctx, msg)
}

func (r *streamResource) Read(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(ctx)
}

func (r *streamResource) Query(ctx context.Context, msg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.write(ctx, msg); err != nil {
		return "", err
	}
	return r.read(ctx)
}

func (r *streamResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, r.addr, err)
	}
	return nil
}

// deadline returns the earlier of the context deadline and now+timeout.
func (r *streamResource) deadline(ctx context.Context) time.Time {
	var d time.Time
	if r.timeout > 0 {
		d = time.Now().Add(r.timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

func (r *streamResource) write(ctx context.Context, msg string) error {
	if r.closed {
		return fmt.Errorf("%w: %s", ErrClosed, r.addr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.flushStale(); err != nil {
		return err
	}
	if err := r.conn.SetWriteDeadline(r.deadline(ctx)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrIO, err)
	}
	if _, err := io.WriteString(r.conn, msg+r.writeTerm); err != nil {
		return r.ioError("write", err)
	}
	return nil
}

func (r *streamResource) read(ctx context.Context) (string, error) {
	if r.closed {
		return "", fmt.Errorf("%w: %s", ErrClosed, r.addr)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := r.conn.SetReadDeadline(r.deadline(ctx)); err != nil {
		return "", fmt.Errorf("%w: set read deadline: %w", ErrIO, err)
	}
	line, err := r.reader.ReadString(r.readTerm)
	if err != nil {
		if isTimeout(err) {
			r.stale = true
		}
		return "", r.ioError("read", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// flushStale discards input left over from a timed-out read so the next
// query does not pick up the previous command's reply.
func (r *streamResource) flushStale() error {
	if !r.stale {
		return nil
	}
	r.stale = false
	r.reader.Discard(r.reader.Buffered()) //nolint:errcheck // Discarding buffered bytes cannot fail
	if err := r.conn.SetReadDeadline(time.Now().Add(staleWindow)); err != nil {
		return fmt.Errorf("%w: set read deadline: %w", ErrIO, err)
	}
	for {
		if _, err := r.reader.ReadString(r.readTerm); err != nil {
			if isTimeout(err) {
				return nil
			}
			return r.ioError("flush", err)
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.ErrNoProgress) ||
		(errors.As(err, &ne) && ne.Timeout())
}

func (r *streamResource) ioError(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %s %s after %s", ErrTimeout, op, r.addr, r.timeout)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, r.addr, err)
}

// WithTimeout runs fn with the resource timeout set to d, restoring the
// previous timeout afterwards even if fn fails or panics.
func WithTimeout(res Resource, d time.Duration, fn func() error) error {
	prev := res.Timeout()
	res.SetTimeout(d)
	defer res.SetTimeout(prev)
	return fn()
}
