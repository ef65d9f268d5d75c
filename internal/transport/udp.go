package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// UDP is the production transport: one datagram per gossip message, no
// connection state, loss handled by the protocol's periodic re-selection.
type UDP struct {
	// MaxDatagram overrides DefaultMaxDatagram when > 0.
	MaxDatagram int
}

func (u *UDP) Open(bindAddr string) (Socket, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", bindAddr, err)
	}
	max := u.MaxDatagram
	if max <= 0 {
		max = DefaultMaxDatagram
	}
	return &udpSocket{conn: conn, maxDatagram: max}, nil
}

type udpSocket struct {
	conn        *net.UDPConn
	maxDatagram int
}

func (s *udpSocket) Send(ctx context.Context, to string, payload []byte) error {
	if len(payload) > s.maxDatagram {
		return ErrMessageTooLarge
	}
	addr, err := net.ResolveUDPAddr("udp", to)
	if err != nil {
		return fmt.Errorf("resolve peer %q: %w", to, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	_, err = s.conn.WriteToUDP(payload, addr)
	return err
}

func (s *udpSocket) Recv(ctx context.Context) (string, []byte, error) {
	buf := make([]byte, s.maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		// Short read deadline so a cancelled context is noticed promptly.
		_ = s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return "", nil, ErrClosed
			}
			return "", nil, err
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		return addr.String(), payload, nil
	}
}

func (s *udpSocket) LocalAddr() string { return s.conn.LocalAddr().String() }

func (s *udpSocket) Close() error { return s.conn.Close() }
