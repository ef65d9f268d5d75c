package cluster

import (
	"sort"
	"sync"
	"time"
)

// Phase is the failure-detector state of a peer.
type Phase int

const (
	Alive Phase = iota
	Suspect
	Dead
)

func (p Phase) String() string {
	switch p {
	case Alive:
		return "alive"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// MemberRecord is the exported view of one peer's detector state.
type MemberRecord struct {
	Node      NodeID    `json:"node"`
	Phase     Phase     `json:"phase"`
	LastHeard time.Time `json:"last_heard"`
}

type memberRecord struct {
	id        NodeID
	phase     Phase
	lastHeard time.Time
}

// Membership drives the Alive -> Suspect -> Dead phase machine for every
// peer. A peer silent for SuspectTimeout becomes Suspect, silent for a
// further DeadTimeout becomes Dead. Dead is terminal for that incarnation;
// only a strictly greater incarnation brings the peer back.
type Membership struct {
	mu             sync.Mutex
	members        map[string]*memberRecord
	suspectTimeout time.Duration
	deadTimeout    time.Duration
	now            func() time.Time
}

func NewMembership(suspectTimeout, deadTimeout time.Duration) *Membership {
	return &Membership{
		members:        make(map[string]*memberRecord),
		suspectTimeout: suspectTimeout,
		deadTimeout:    deadTimeout,
		now:            time.Now,
	}
}

// Observe records first-hand evidence of liveness: an authenticated message
// received directly from the node itself. It refreshes the node's record
// and returns the resulting phase.
func (m *Membership) Observe(id NodeID) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.members[id.Name]
	if !ok {
		m.members[id.Name] = &memberRecord{id: id, phase: Alive, lastHeard: m.now()}
		return Alive
	}
	if id.Incarnation < rec.id.Incarnation {
		return rec.phase
	}
	if id.Incarnation > rec.id.Incarnation {
		rec.id = id
		rec.phase = Alive
		rec.lastHeard = m.now()
		return Alive
	}
	if rec.phase == Dead {
		// Terminal for this incarnation.
		return Dead
	}
	rec.phase = Alive
	rec.lastHeard = m.now()
	return Alive
}

// ObserveIndirect records second-hand evidence: another node's gossip
// carried entries about this one. Hearsay introduces unknown nodes and
// applies restarts (strictly greater incarnation), but never refreshes
// liveness at the current incarnation; relayed copies of a crashed node's
// old entries must not revive a suspect.
func (m *Membership) ObserveIndirect(id NodeID) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.members[id.Name]
	if !ok {
		m.members[id.Name] = &memberRecord{id: id, phase: Alive, lastHeard: m.now()}
		return Alive
	}
	if id.Incarnation > rec.id.Incarnation {
		rec.id = id
		rec.phase = Alive
		rec.lastHeard = m.now()
		return Alive
	}
	return rec.phase
}

// Sweep applies the timeout transitions and returns the records that
// changed phase. Silence is measured from lastHeard, so a single sweep
// after a long gap takes a peer all the way to Dead.
func (m *Membership) Sweep() []MemberRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var changed []MemberRecord
	for _, rec := range m.members {
		if rec.phase == Dead {
			continue
		}
		silence := now.Sub(rec.lastHeard)
		switch {
		case silence >= m.suspectTimeout+m.deadTimeout:
			rec.phase = Dead
			changed = append(changed, m.export(rec))
		case rec.phase == Alive && silence >= m.suspectTimeout:
			rec.phase = Suspect
			changed = append(changed, m.export(rec))
		}
	}
	return changed
}

func (m *Membership) export(rec *memberRecord) MemberRecord {
	return MemberRecord{Node: rec.id, Phase: rec.phase, LastHeard: rec.lastHeard}
}

// PhaseOf returns a node's current phase. Unknown nodes report Dead.
func (m *Membership) PhaseOf(name string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.members[name]; ok {
		return rec.phase
	}
	return Dead
}

// Targets returns the peers eligible for gossip selection: everything not
// yet Dead. Dead peers age out of selection but their store entries are
// retained for readiness purposes.
func (m *Membership) Targets() []NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []NodeID
	for _, rec := range m.members {
		if rec.phase != Dead {
			out = append(out, rec.id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Records returns a copy of every record, sorted by node name.
func (m *Membership) Records() []MemberRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MemberRecord, 0, len(m.members))
	for _, rec := range m.members {
		out = append(out, m.export(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node.Name < out[j].Node.Name })
	return out
}

// SetClock overrides the time source, for tests.
func (m *Membership) SetClock(now func() time.Time) { m.now = now }
