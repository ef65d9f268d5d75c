package transport

import (
	"context"
	"math/rand/v2"
	"sync"
)

// Channel is an in-process transport used by tests: every Open registers a
// mailbox under its bind address and Send delivers directly into the
// destination's mailbox. DropRate simulates a lossy network; the gossip
// protocol must converge regardless.
type Channel struct {
	mu       sync.Mutex
	mailbox  map[string]chan datagram
	DropRate float64
}

type datagram struct {
	from    string
	payload []byte
}

func NewChannel() *Channel {
	return &Channel{mailbox: make(map[string]chan datagram)}
}

func (c *Channel) Open(bindAddr string) (Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	box := make(chan datagram, 1024)
	c.mailbox[bindAddr] = box
	return &chanSocket{parent: c, addr: bindAddr, box: box, closed: make(chan struct{})}, nil
}

func (c *Channel) deliver(from, to string, payload []byte) {
	c.mu.Lock()
	box, ok := c.mailbox[to]
	drop := c.DropRate > 0 && rand.Float64() < c.DropRate
	c.mu.Unlock()
	if !ok || drop {
		return
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case box <- datagram{from: from, payload: buf}:
	default:
		// Full mailbox behaves like a congested network: the datagram
		// is lost.
	}
}

type chanSocket struct {
	parent *Channel
	addr   string
	box    chan datagram

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *chanSocket) Send(_ context.Context, to string, payload []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if len(payload) > DefaultMaxDatagram {
		return ErrMessageTooLarge
	}
	s.parent.deliver(s.addr, to, payload)
	return nil
}

func (s *chanSocket) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case d := <-s.box:
		return d.from, d.payload, nil
	case <-s.closed:
		return "", nil, ErrClosed
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (s *chanSocket) LocalAddr() string { return s.addr }

func (s *chanSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.parent.mu.Lock()
		delete(s.parent.mailbox, s.addr)
		s.parent.mu.Unlock()
	})
	return nil
}
