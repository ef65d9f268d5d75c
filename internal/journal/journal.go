// Package journal persists the local node's incarnation and its own state
// entries to a write-ahead log so a restarted process resumes with a
// strictly greater incarnation and its previously published keys intact.
// Only local writes are journaled; remote state is rebuilt by gossip.
package journal

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/wal"

	"dnspd/internal/metrics"
)

const (
	recordTypeIncarnation byte = 1
	recordTypeEntry       byte = 2
)

// Entry is one journaled local key write.
type Entry struct {
	Key     string `cbor:"key"`
	Value   string `cbor:"value"`
	Version uint64 `cbor:"version"`
}

// Replay is the effective state recovered from the journal: the highest
// incarnation ever recorded and the newest version of each local key.
type Replay struct {
	Incarnation uint64
	Entries     []Entry
}

// Journal is an append-only record of local node state. Appends are
// serialized; readers only exist at open time.
type Journal struct {
	mu  sync.Mutex
	log *wal.Log

	next uint64
}

// Open opens or creates the journal under dir and replays it. A corrupt
// trailing record fails the open; the operator decides whether to wipe.
func Open(dir string, noSync bool) (*Journal, *Replay, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	opts := *wal.DefaultOptions
	opts.NoSync = noSync
	log, err := wal.Open(dir, &opts)
	if err != nil {
		return nil, nil, fmt.Errorf("wal.Open: %w", err)
	}

	j := &Journal{log: log, next: 1}
	replay, err := j.replay()
	if err != nil {
		log.Close()
		return nil, nil, err
	}
	return j, replay, nil
}

func (j *Journal) replay() (*Replay, error) {
	replay := &Replay{}

	empty, err := j.log.IsEmpty()
	if err != nil {
		return nil, fmt.Errorf("wal.IsEmpty: %w", err)
	}
	if empty {
		return replay, nil
	}

	first, err := j.log.FirstIndex()
	if err != nil {
		return nil, fmt.Errorf("wal.FirstIndex: %w", err)
	}
	last, err := j.log.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("wal.LastIndex: %w", err)
	}

	latest := make(map[string]Entry)
	var order []string

	for idx := first; idx <= last; idx++ {
		data, err := j.log.Read(idx)
		if err != nil {
			return nil, fmt.Errorf("wal.Read(%d): %w", idx, err)
		}
		recType, payload, err := unmarshalRecord(data)
		if err != nil {
			return nil, fmt.Errorf("unmarshal record %d: %w", idx, err)
		}

		switch recType {
		case recordTypeIncarnation:
			var inc uint64
			if err := cbor.Unmarshal(payload, &inc); err != nil {
				return nil, fmt.Errorf("decode incarnation record %d: %w", idx, err)
			}
			if inc > replay.Incarnation {
				replay.Incarnation = inc
			}

		case recordTypeEntry:
			var e Entry
			if err := cbor.Unmarshal(payload, &e); err != nil {
				return nil, fmt.Errorf("decode entry record %d: %w", idx, err)
			}
			if prev, ok := latest[e.Key]; !ok {
				latest[e.Key] = e
				order = append(order, e.Key)
			} else if e.Version > prev.Version {
				latest[e.Key] = e
			}

		default:
			return nil, fmt.Errorf("record %d: unknown type %d", idx, recType)
		}
	}

	for _, key := range order {
		replay.Entries = append(replay.Entries, latest[key])
	}
	j.next = last + 1
	return replay, nil
}

// AppendIncarnation records the incarnation the node starts this process
// lifetime with.
func (j *Journal) AppendIncarnation(incarnation uint64) error {
	payload, err := cbor.Marshal(incarnation)
	if err != nil {
		return fmt.Errorf("encode incarnation: %w", err)
	}
	return j.append(recordTypeIncarnation, payload)
}

// AppendEntry records one local key write.
func (j *Journal) AppendEntry(key, value string, version uint64) error {
	payload, err := cbor.Marshal(Entry{Key: key, Value: value, Version: version})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return j.append(recordTypeEntry, payload)
}

func (j *Journal) append(recType byte, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.log.Write(j.next, marshalRecord(recType, payload)); err != nil {
		return fmt.Errorf("wal.Write(%d): %w", j.next, err)
	}
	j.next++
	metrics.JournalRecordsTotal.Inc()
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.log.Close()
}

func marshalRecord(recType byte, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = recType
	copy(buf[1:], payload)
	return buf
}

func unmarshalRecord(data []byte) (byte, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("empty record")
	}
	return data[0], data[1:], nil
}
