package cluster

import (
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

type nodeState struct {
	id         NodeID
	entries    map[string]VersionedValue
	maxVersion uint64
}

func newNodeState(id NodeID) *nodeState {
	return &nodeState{id: id, entries: make(map[string]VersionedValue)}
}

func (n *nodeState) set(key, value string, version uint64) bool {
	if cur, ok := n.entries[key]; ok && version <= cur.Version {
		return false
	}
	n.entries[key] = VersionedValue{Value: value, Version: version}
	if version > n.maxVersion {
		n.maxVersion = version
	}
	return true
}

// Store is the per-process authoritative copy of the cluster state: a map
// from node to versioned key/value pairs, converged across replicas by
// last-writer-wins merge keyed by (incarnation, version). All methods are
// safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	self  NodeID
	nodes map[string]*nodeState
}

func NewStore(self NodeID) *Store {
	s := &Store{
		self:  self,
		nodes: make(map[string]*nodeState),
	}
	s.nodes[self.Name] = newNodeState(self)
	return s
}

func (s *Store) Self() NodeID { return s.self }

// SetLocal sets key on the local node, bumping its logical clock. It never
// touches the network; the new entry reaches peers through anti-entropy.
func (s *Store) SetLocal(key, value string) KeyedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.nodes[s.self.Name]
	version := ns.maxVersion + 1
	ns.set(key, value, version)
	return KeyedEntry{Node: s.self, Key: key, Value: value, Version: version}
}

// SeedLocal restores a local entry at an explicit version, used when
// replaying the journal at startup. Later SetLocal calls continue from the
// highest seeded version.
func (s *Store) SeedLocal(key, value string, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[s.self.Name].set(key, value, version)
}

// MergeRemote folds entries received from a peer into the store. An entry is
// applied iff its (incarnation, version) is lexicographically greater than
// what is stored; anything else is stale and dropped. The merge is
// commutative, associative and idempotent, so duplicated or reordered
// delivery over an unreliable transport is harmless. It returns the entries
// that were actually applied.
func (s *Store) MergeRemote(entries []KeyedEntry) []KeyedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var applied []KeyedEntry
	for _, e := range entries {
		if e.Node.Name == "" || e.Key == "" {
			continue
		}
		// The local node is authoritative for its own state; gossip about
		// it is never applied.
		if e.Node.Name == s.self.Name {
			continue
		}
		ns, ok := s.nodes[e.Node.Name]
		switch {
		case !ok:
			ns = newNodeState(e.Node)
			s.nodes[e.Node.Name] = ns
		case e.Node.Incarnation < ns.id.Incarnation:
			continue
		case e.Node.Incarnation > ns.id.Incarnation:
			// A restart of the node: everything from the previous
			// incarnation is obsolete.
			ns = newNodeState(e.Node)
			s.nodes[e.Node.Name] = ns
		}
		if ns.set(e.Key, e.Value, e.Version) {
			applied = append(applied, e)
		}
	}
	return applied
}

// Digest returns the per-node max (incarnation, version) summary exchanged
// during anti-entropy so peers can compute what the caller is missing
// without shipping values.
func (s *Store) Digest() Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := make(Digest, 0, len(s.nodes))
	for _, ns := range s.nodes {
		d = append(d, NodeDigest{Node: ns.id, MaxVersion: ns.maxVersion})
	}
	sort.Slice(d, func(i, j int) bool { return d[i].Node.Name < d[j].Node.Name })
	return d
}

// EntriesSince returns locally-known entries strictly newer than what the
// peer digest claims to have, bounded by maxBytes of encoded entry size.
// Zero means unbounded; a negative budget fits nothing. Within a node,
// entries ship in ascending version order and are cut as a prefix:
// whatever the peer merges raises its digest floor, so an oversized
// backlog drains across successive rounds instead of stalling.
func (s *Store) EntriesSince(peer Digest, maxBytes int) []KeyedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []KeyedEntry
	remaining := maxBytes
	for _, name := range names {
		ns := s.nodes[name]
		floor := uint64(0)
		if pd, ok := peer.find(ns.id.Name); ok {
			if pd.Node.Incarnation > ns.id.Incarnation {
				continue
			}
			if pd.Node.Incarnation == ns.id.Incarnation {
				floor = pd.MaxVersion
			}
		}
		var pending []KeyedEntry
		for key, vv := range ns.entries {
			if vv.Version <= floor {
				continue
			}
			pending = append(pending, KeyedEntry{Node: ns.id, Key: key, Value: vv.Value, Version: vv.Version})
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

		for _, e := range pending {
			if maxBytes != 0 {
				n := encodedSize(e)
				if n > remaining {
					// Keep the shipped versions a prefix; the rest of
					// this node's backlog goes in a later exchange.
					break
				}
				remaining -= n
			}
			out = append(out, e)
		}
	}
	return out
}

func encodedSize(e KeyedEntry) int {
	raw, err := cbor.Marshal(e)
	if err != nil {
		return 0
	}
	return len(raw)
}

// Snapshot deep-copies the store for read-only consumers. Writers are only
// blocked for the duration of the copy, never for the evaluation done on it.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, 0, len(s.nodes))
	for _, ns := range s.nodes {
		entries := make(map[string]VersionedValue, len(ns.entries))
		for k, v := range ns.entries {
			entries[k] = v
		}
		snap = append(snap, NodeSnapshot{Node: ns.id, Entries: entries})
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Node.Name < snap[j].Node.Name })
	return snap
}

// Nodes returns the ids of every node the store has heard of.
func (s *Store) Nodes() []NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]NodeID, 0, len(s.nodes))
	for _, ns := range s.nodes {
		ids = append(ids, ns.id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Name < ids[j].Name })
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, ns := range s.nodes {
		total += len(ns.entries)
	}
	return total
}
