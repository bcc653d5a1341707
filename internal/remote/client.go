package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/labkit/instrumental/internal/paramset"
)

// DefaultTimeout bounds a client exchange when ctx has no deadline.
const DefaultTimeout = 10 * time.Second

// Client lists instruments on remote servers. It opens one connection per
// call.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	timeout time.Duration
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
	nextID  atomic.Uint32
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) ClientOption {
	return func(c *Client) { c.dial = dial }
}

// NewClient creates a client.
func NewClient(opts ...ClientOption) *Client {
	var d net.Dialer
	c := &Client{timeout: DefaultTimeout, dial: d.DialContext}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListInstruments asks the server at address for the instruments it can
// see. An address without a port uses DefaultPort.
func (c *Client) ListInstruments(ctx context.Context, address string) ([]paramset.ParamSet, error) {
	address = withDefaultPort(address)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dial(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck // Best effort; reads fail on their own
	}

	id := byte(c.nextID.Add(1))
	if err := writeFrame(conn, id, request{Op: opListInstruments}); err != nil {
		return nil, err
	}
	var resp response
	got, err := readFrame(conn, &resp)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", address, err)
	}
	if got != id {
		return nil, fmt.Errorf("%w: sent %d, received %d", ErrIDMismatch, id, got)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrServer, resp.Error)
	}

	out := make([]paramset.ParamSet, 0, len(resp.Instruments))
	for _, w := range resp.Instruments {
		ps, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("decoding instrument from %s: %w", address, err)
		}
		out = append(out, ps)
	}
	return out, nil
}

func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort))
}
