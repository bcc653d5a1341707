// Package visa provides the message-based transport used by SCPI drivers.
//
// It implements the subset of VISA resource strings that can be served
// without a vendor VISA library:
//
//	TCPIP0::192.168.1.20::5025::SOCKET   raw SCPI socket
//	ASRL3::INSTR                         serial port by number
//	ASRL/dev/ttyUSB0::INSTR              serial port by device path
//
// Messages are newline terminated in both directions. Serial ports are
// opened with go.bug.st/serial; socket connects are retried with
// avast/retry-go.
//
// A ResourceManager keeps one transport per canonical address so that two
// instruments opened on the same address share a connection. Each Open
// returns its own handle; the transport closes with the last handle.
//
// WithTimeout changes a resource's timeout for the duration of a call and
// always restores the previous value.
package visa
