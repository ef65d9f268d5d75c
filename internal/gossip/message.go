package gossip

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"dnspd/internal/cluster"
)

// Anti-entropy is a three-step exchange: the initiator sends its digest
// (syn), the responder answers with its own digest plus the entries the
// initiator is missing (synAck), and the initiator ships back what the
// responder is missing (ack). Every step is a single datagram; a lost step
// is simply retried with a fresh peer on the next round.
const (
	kindSyn uint8 = iota + 1
	kindSynAck
	kindAck
)

type message struct {
	Kind      uint8                `cbor:"kind"`
	ClusterID string               `cbor:"cluster_id"`
	From      cluster.NodeID       `cbor:"from"`
	Digest    cluster.Digest       `cbor:"digest,omitempty"`
	Delta     []cluster.KeyedEntry `cbor:"delta,omitempty"`
}

func encodeMessage(m message) ([]byte, error) {
	raw, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode gossip message: %w", err)
	}
	return raw, nil
}

func decodeMessage(raw []byte) (message, error) {
	var m message
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return message{}, fmt.Errorf("decode gossip message: %w", err)
	}
	if m.Kind < kindSyn || m.Kind > kindAck {
		return message{}, fmt.Errorf("unknown gossip message kind %d", m.Kind)
	}
	return m, nil
}
