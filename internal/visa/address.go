package visa

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
)

// Interface identifies the transport of a resource.
type Interface int

const (
	// Socket is a raw TCP socket (TCPIP::host::port::SOCKET).
	Socket Interface = iota
	// Serial is an RS-232 or USB-serial port (ASRL...::INSTR).
	Serial
)

func (i Interface) String() string {
	switch i {
	case Socket:
		return "SOCKET"
	case Serial:
		return "ASRL"
	default:
		return "UNKNOWN"
	}
}

// Address is a parsed VISA resource string.
type Address struct {
	Interface Interface
	Board     int

	// Socket fields.
	Host string
	Port int

	// Serial fields: the OS device path, e.g. /dev/ttyUSB0 or COM3.
	Device string
}

// ParseAddress parses the resource strings this package can open:
//
//	TCPIP[board]::<host>::<port>::SOCKET
//	ASRL<n>::INSTR
//	ASRL<device path>::INSTR
//
// Resource strings are case-insensitive except for the host and device.
func ParseAddress(s string) (Address, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, "::")
	if len(parts) < 2 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	head := strings.ToUpper(parts[0])
	tail := strings.ToUpper(parts[len(parts)-1])

	switch {
	case strings.HasPrefix(head, "TCPIP"):
		if tail != "SOCKET" {
			return Address{}, fmt.Errorf("%w: %q", ErrUnsupportedAddress, s)
		}
		if len(parts) != 4 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		board, err := parseBoard(head[len("TCPIP"):])
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		port, err := strconv.Atoi(parts[2])
		if err != nil || port <= 0 || port > 65535 || parts[1] == "" {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		return Address{Interface: Socket, Board: board, Host: parts[1], Port: port}, nil

	case strings.HasPrefix(head, "ASRL"):
		if tail != "INSTR" || len(parts) != 2 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		dev := parts[0][len("ASRL"):]
		if dev == "" {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		if n, err := strconv.Atoi(dev); err == nil {
			return Address{Interface: Serial, Board: n, Device: serialDevice(n)}, nil
		}
		return Address{Interface: Serial, Device: dev}, nil

	case strings.HasPrefix(head, "GPIB"), strings.HasPrefix(head, "USB"), strings.HasPrefix(head, "VXI"):
		return Address{}, fmt.Errorf("%w: %q", ErrUnsupportedAddress, s)
	}
	return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
}

func parseBoard(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// serialDevice maps a VISA ASRL board number to the OS port name.
func serialDevice(n int) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("COM%d", n)
	}
	if n < 1 {
		n = 1
	}
	return fmt.Sprintf("/dev/ttyS%d", n-1)
}

// SerialAddress returns the resource string for an OS serial device.
func SerialAddress(device string) string {
	return "ASRL" + device + "::INSTR"
}

// String returns the canonical resource string. Two strings naming the
// same resource produce the same canonical form.
func (a Address) String() string {
	switch a.Interface {
	case Socket:
		return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", a.Board, a.Host, a.Port)
	case Serial:
		return SerialAddress(a.Device)
	default:
		return ""
	}
}

// HostPort returns the dial address of a socket resource.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
