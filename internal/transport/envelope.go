package transport

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolVersion is bumped on any incompatible change to the envelope
// layout. Peers speaking a different version are ignored.
const ProtocolVersion = 1

var (
	ErrBadSignature   = errors.New("transport: envelope signature verification failed")
	ErrBadVersion     = errors.New("transport: unsupported protocol version")
	ErrMalformedFrame = errors.New("transport: malformed envelope")
	errShortPublicKey = errors.New("transport: public key has wrong length")
)

type envelope struct {
	Version   uint8  `cbor:"v"`
	PublicKey []byte `cbor:"pk"`
	Signature []byte `cbor:"sig"`
	Payload   []byte `cbor:"payload"`
}

// Seal wraps payload in a signed envelope.
func Seal(key ed25519.PrivateKey, payload []byte) ([]byte, error) {
	env := envelope{
		Version:   ProtocolVersion,
		PublicKey: key.Public().(ed25519.PublicKey),
		Signature: ed25519.Sign(key, payload),
		Payload:   payload,
	}
	raw, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}
	return raw, nil
}

// Unseal parses a signed envelope, verifies the signature and returns the
// payload together with the sender's public key. Nothing inside the payload
// is inspected before the signature checks out.
func Unseal(raw []byte) ([]byte, ed25519.PublicKey, error) {
	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, nil, ErrMalformedFrame
	}
	if env.Version != ProtocolVersion {
		return nil, nil, ErrBadVersion
	}
	if len(env.PublicKey) != ed25519.PublicKeySize {
		return nil, nil, errShortPublicKey
	}
	pub := ed25519.PublicKey(env.PublicKey)
	if !ed25519.Verify(pub, env.Payload, env.Signature) {
		return nil, nil, ErrBadSignature
	}
	return env.Payload, pub, nil
}

// SignedSocket decorates a Socket so every outbound datagram is sealed and
// every inbound one is verified. Datagrams failing verification surface as
// an error from Recv; the caller counts and moves on.
type SignedSocket struct {
	inner Socket
	key   ed25519.PrivateKey
}

func NewSignedSocket(inner Socket, key ed25519.PrivateKey) *SignedSocket {
	return &SignedSocket{inner: inner, key: key}
}

func (s *SignedSocket) Send(ctx context.Context, to string, payload []byte) error {
	sealed, err := Seal(s.key, payload)
	if err != nil {
		return err
	}
	return s.inner.Send(ctx, to, sealed)
}

// Recv returns the verified payload and the sender's public key.
func (s *SignedSocket) Recv(ctx context.Context) (string, []byte, ed25519.PublicKey, error) {
	from, raw, err := s.inner.Recv(ctx)
	if err != nil {
		return "", nil, nil, err
	}
	payload, pub, err := Unseal(raw)
	if err != nil {
		return from, nil, nil, err
	}
	return from, payload, pub, nil
}

func (s *SignedSocket) LocalAddr() string { return s.inner.LocalAddr() }
func (s *SignedSocket) Close() error      { return s.inner.Close() }
