package visa

import (
	"os"
	"time"

	"go.bug.st/serial"
)

// SerialOpener opens an OS serial port.
type SerialOpener func(device string, mode *serial.Mode) (serial.Port, error)

// PortLister enumerates OS serial ports.
type PortLister func() ([]string, error)

// serialConn adapts a serial.Port to the deadline-based conn interface.
// A read that times out returns os.ErrDeadlineExceeded instead of (0, nil).
type serialConn struct {
	port serial.Port
}

func (c *serialConn) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *serialConn) Write(p []byte) (int, error) { return c.port.Write(p) }

func (c *serialConn) Close() error { return c.port.Close() }

func (c *serialConn) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return c.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return c.port.SetReadTimeout(d)
}

// SetWriteDeadline is a no-op: serial writes complete once queued to the driver.
func (c *serialConn) SetWriteDeadline(time.Time) error { return nil }
