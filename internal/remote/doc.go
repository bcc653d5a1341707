// Package remote lets a resolver list the instruments attached to another
// machine running `instrumental serve`.
//
// The protocol is a sequence of frames over TCP (default port 28265). A
// frame is a 1-byte message id, an 8-byte big-endian payload length and a
// CBOR payload in core deterministic encoding. A response carries the id
// of its request; a client treats any other id as a protocol error.
//
// Only listing is remote. Opening an instrument on another machine is not
// supported, so resolvers refuse ParamSets carrying a server key.
package remote
