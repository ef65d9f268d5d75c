// Package transport provides the datagram channel the gossip engine runs
// over: bounded messages, best-effort delivery, and an ed25519-signed
// envelope so every inbound datagram is bound to a peer identity before it
// is parsed.
package transport

import (
	"context"
	"errors"
)

// DefaultMaxDatagram bounds a single gossip message. Deltas are trimmed by
// the sender to fit.
const DefaultMaxDatagram = 60_000

var (
	ErrClosed          = errors.New("transport: socket closed")
	ErrMessageTooLarge = errors.New("transport: message exceeds max datagram size")
)

// Socket is one endpoint of the channel. Send is best-effort: a returned
// error means the datagram was certainly not handed off, a nil error means
// nothing more than that. Recv blocks until a datagram arrives, the context
// is done, or the socket is closed.
type Socket interface {
	Send(ctx context.Context, to string, payload []byte) error
	Recv(ctx context.Context) (from string, payload []byte, err error)
	LocalAddr() string
	Close() error
}

// Transport opens sockets bound to an address. Implementations: UDP for
// production, the in-process channel transport for tests.
type Transport interface {
	Open(bindAddr string) (Socket, error)
}
