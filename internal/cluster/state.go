package cluster

// NodeID identifies one process lifetime of a node. Name stays stable for
// the logical node, Incarnation is bumped on every restart so state from a
// previous process instance can be told apart and superseded.
type NodeID struct {
	Name        string `json:"name" yaml:"name" cbor:"name"`
	Incarnation uint64 `json:"incarnation" yaml:"incarnation" cbor:"incarnation"`
	GossipAddr  string `json:"gossip_addr" yaml:"gossip_addr" cbor:"gossip_addr"`
}

// VersionedValue is one key's value together with the owning node's logical
// clock at the time the key was last set.
type VersionedValue struct {
	Value   string `json:"value" cbor:"value"`
	Version uint64 `json:"version" cbor:"version"`
}

// KeyedEntry is the unit shipped between nodes during anti-entropy. Entries
// are immutable; a newer version for the same (node, key) supersedes the old
// one, it never mutates it.
type KeyedEntry struct {
	Node    NodeID `json:"node" cbor:"node"`
	Key     string `json:"key" cbor:"key"`
	Value   string `json:"value" cbor:"value"`
	Version uint64 `json:"version" cbor:"version"`
}

// NodeDigest summarizes everything a replica knows about one node: the
// highest incarnation seen and the highest version within it. Shipping
// digests instead of full state keeps anti-entropy requests small.
type NodeDigest struct {
	Node       NodeID `json:"node" cbor:"node"`
	MaxVersion uint64 `json:"max_version" cbor:"max_version"`
}

// Digest is a compact summary of a whole store.
type Digest []NodeDigest

func (d Digest) find(name string) (NodeDigest, bool) {
	for _, nd := range d {
		if nd.Node.Name == name {
			return nd, true
		}
	}
	return NodeDigest{}, false
}

// NodeSnapshot is a deep copy of one node's state for read-only consumers.
type NodeSnapshot struct {
	Node    NodeID                    `json:"node"`
	Entries map[string]VersionedValue `json:"entries"`
}

// Snapshot is a point-in-time copy of the store. Mutating it has no effect
// on the store.
type Snapshot []NodeSnapshot

func (s Snapshot) Find(name string) (NodeSnapshot, bool) {
	for _, ns := range s {
		if ns.Node.Name == name {
			return ns, true
		}
	}
	return NodeSnapshot{}, false
}
