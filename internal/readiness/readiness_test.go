package readiness_test

import (
	"testing"

	"dnspd/internal/cluster"
	"dnspd/internal/gossip"
	"dnspd/internal/license"
	"dnspd/internal/license/licensetest"
	"dnspd/internal/readiness"
)

type fixture struct {
	t         *testing.T
	authority *licensetest.Authority
	snap      cluster.Snapshot
	members   []cluster.MemberRecord
	version   uint64
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, authority: licensetest.NewAuthority(t)}
}

// addNode creates a node publishing its keys plus one valid claim per
// license id and returns the node name.
func (f *fixture) addNode(name string, phase cluster.Phase, licenseIDs ...string) {
	f.addNodeAt(name, phase, 1234567890, licenseIDs...)
}

// addNodeAt is addNode with an explicit delegation timestamp.
func (f *fixture) addNodeAt(name string, phase cluster.Phase, signedAt uint64, licenseIDs ...string) {
	pubkey, _ := licensetest.Keypair(f.t)
	blsKey, _ := licensetest.Keypair(f.t)

	entries := map[string]cluster.VersionedValue{
		gossip.KeyPubkey:    {Value: pubkey, Version: f.next()},
		gossip.KeyBlsPubkey: {Value: blsKey, Version: f.next()},
	}
	for _, id := range licenseIDs {
		rec := f.authority.Delegate(f.t, id, pubkey, blsKey, signedAt)
		claim := license.Claim{DelegationRecord: rec}
		value, err := claim.Encode()
		if err != nil {
			f.t.Fatalf("encode claim: %v", err)
		}
		entries[claim.Key()] = cluster.VersionedValue{Value: value, Version: f.next()}
	}

	node := cluster.NodeID{Name: name, Incarnation: 1, GossipAddr: name + ":g"}
	f.snap = append(f.snap, cluster.NodeSnapshot{Node: node, Entries: entries})
	if phase != localPhase {
		f.members = append(f.members, cluster.MemberRecord{Node: node, Phase: phase})
	}
}

// withdraw replaces one node's claim value with the empty withdrawal
// marker, the way a node retracts a claim dropped from its config.
func (f *fixture) withdraw(name, licenseID string) {
	for i := range f.snap {
		if f.snap[i].Node.Name != name {
			continue
		}
		key := license.KeyPrefix + licenseID
		vv := f.snap[i].Entries[key]
		f.snap[i].Entries[key] = cluster.VersionedValue{Value: "", Version: vv.Version + 1}
		return
	}
	f.t.Fatalf("no node %s", name)
}

// tamper replaces one node's claim value with a forged copy.
func (f *fixture) tamper(name, licenseID string) {
	for i := range f.snap {
		if f.snap[i].Node.Name != name {
			continue
		}
		key := license.KeyPrefix + licenseID
		vv := f.snap[i].Entries[key]
		claim, err := license.ParseClaim(key, vv.Value)
		if err != nil {
			f.t.Fatalf("parse claim: %v", err)
		}
		claim.DelegationSig = claim.DelegationConfirmSig
		forged, _ := claim.Encode()
		f.snap[i].Entries[key] = cluster.VersionedValue{Value: forged, Version: vv.Version}
		return
	}
	f.t.Fatalf("no node %s", name)
}

func (f *fixture) next() uint64 {
	f.version++
	return f.version
}

func (f *fixture) evaluate(minLicenses int) readiness.State {
	return readiness.Evaluate(f.snap, f.members, readiness.Policy{
		MinLicenses:  minLicenses,
		IssuerPubkey: f.authority.IssuerPubkey,
	})
}

// localPhase marks a node as the local one: present in the snapshot but
// absent from membership.
const localPhase = cluster.Phase(-1)

func TestEvaluate_AllCoveredAndAboveThreshold(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")
	f.addNode("b", cluster.Alive, "lic-b")
	f.addNode("c", cluster.Alive, "lic-c")

	state := f.evaluate(3)
	if !state.GloballyReady {
		t.Fatalf("expected ready, got %+v", state)
	}
	if state.ValidLicenses != 3 || state.Conflicts != 0 {
		t.Fatalf("unexpected counts: %+v", state)
	}
}

func TestEvaluate_BelowThresholdNotReady(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")
	f.addNode("b", cluster.Alive, "lic-b")

	if state := f.evaluate(3); state.GloballyReady {
		t.Fatalf("expected not ready below threshold, got %+v", state)
	}
}

func TestEvaluate_ZeroThresholdNeverReady(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")

	// MinLicenses is operator policy; an unset threshold keeps the
	// network collecting rather than declaring an empty cluster ready.
	if state := f.evaluate(0); state.GloballyReady {
		t.Fatalf("expected not ready with zero threshold, got %+v", state)
	}
}

func TestEvaluate_ConflictExcludesLicense(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")
	f.addNode("b", cluster.Alive, "shared")
	f.addNode("c", cluster.Alive, "shared")

	state := f.evaluate(1)
	if state.GloballyReady {
		t.Fatalf("expected not ready with conflicting coverage, got %+v", state)
	}
	status := state.PerLicense["shared"]
	if !status.Conflicting || status.Valid {
		t.Fatalf("expected shared to be conflicting, got %+v", status)
	}
	if len(status.Claimants) != 2 {
		t.Fatalf("expected both claimants recorded, got %+v", status.Claimants)
	}
}

func TestEvaluate_NewerDelegationSupersedesConflict(t *testing.T) {
	f := newFixture(t)
	f.addNodeAt("a", localPhase, 1000, "shared")
	f.addNode("b", cluster.Alive, "lic-b")
	f.addNodeAt("c", cluster.Alive, 2000, "shared", "lic-c")

	// The owner re-signed the delegation to c: the fresher claim wins the
	// contest outright, a's stale claim no longer blocks anything.
	state := f.evaluate(1)
	status := state.PerLicense["shared"]
	if status.Conflicting || !status.Valid {
		t.Fatalf("expected the newer delegation to win, got %+v", status)
	}
	if status.Owner != "c" {
		t.Fatalf("expected c to own shared, got %q", status.Owner)
	}
	if len(status.Claimants) != 2 {
		t.Fatalf("expected both claimants recorded, got %+v", status.Claimants)
	}
	if state.Conflicts != 0 {
		t.Fatalf("superseded claim still counted as conflict: %+v", state)
	}
}

func TestEvaluate_WithdrawnClaimHealsConflict(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")
	f.addNode("b", cluster.Alive, "shared")
	f.addNode("c", cluster.Alive, "shared", "lic-c")

	if state := f.evaluate(1); !state.PerLicense["shared"].Conflicting {
		t.Fatalf("expected conflict before withdrawal, got %+v", state.PerLicense["shared"])
	}

	f.withdraw("b", "shared")
	state := f.evaluate(1)
	status := state.PerLicense["shared"]
	if status.Conflicting || !status.Valid || status.Owner != "c" {
		t.Fatalf("expected c to hold shared after b withdrew, got %+v", status)
	}
	if state.InvalidClaims != 0 {
		t.Fatalf("withdrawal marker counted as invalid claim: %+v", state)
	}
	if state.GloballyReady {
		t.Fatalf("b is alive and uncovered, got %+v", state)
	}
}

func TestEvaluate_ReadinessRegressesOnNewConflict(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")
	f.addNode("b", cluster.Alive, "lic-b")

	if state := f.evaluate(2); !state.GloballyReady {
		t.Fatalf("expected ready before conflict, got %+v", state)
	}

	// A later claimant of lic-b arrives via gossip: readiness must flip
	// back, it is not sticky.
	f.addNode("c", cluster.Alive, "lic-b", "lic-c")
	state := f.evaluate(2)
	if state.GloballyReady {
		t.Fatalf("expected regression after conflicting claim, got %+v", state)
	}
	if !state.PerLicense["lic-b"].Conflicting {
		t.Fatalf("expected lic-b conflicting, got %+v", state.PerLicense["lic-b"])
	}
}

func TestEvaluate_TamperedClaimIgnored(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")
	f.addNode("b", cluster.Alive, "lic-b")
	f.tamper("b", "lic-b")

	state := f.evaluate(1)
	if state.GloballyReady {
		t.Fatalf("expected not ready: b is alive but uncovered, got %+v", state)
	}
	if state.InvalidClaims != 1 {
		t.Fatalf("expected 1 invalid claim, got %d", state.InvalidClaims)
	}
	if _, ok := state.PerLicense["lic-b"]; ok {
		t.Fatal("tampered claim still participated in grouping")
	}
}

func TestEvaluate_DeadNodeClaimStillCounts(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")
	f.addNode("b", cluster.Alive, "lic-b")
	f.addNode("c", cluster.Dead, "lic-c")

	// c is dead: its claim still counts toward the threshold and c does
	// not need to be covered.
	state := f.evaluate(3)
	if !state.GloballyReady {
		t.Fatalf("expected ready with dead node's claim counting, got %+v", state)
	}
}

func TestEvaluate_UncoveredAliveNodeBlocksReadiness(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")
	f.addNode("b", cluster.Alive) // publishes keys but no licenses

	state := f.evaluate(1)
	if state.GloballyReady {
		t.Fatalf("expected not ready with uncovered alive node, got %+v", state)
	}
	if len(state.UncoveredAlive) != 1 || state.UncoveredAlive[0] != "b" {
		t.Fatalf("expected b uncovered, got %+v", state.UncoveredAlive)
	}
}

func TestEvaluate_PureAndIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addNode("a", localPhase, "lic-a")
	f.addNode("b", cluster.Alive, "lic-b")

	first := f.evaluate(2)
	second := f.evaluate(2)
	if first.GloballyReady != second.GloballyReady ||
		first.ValidLicenses != second.ValidLicenses ||
		first.Conflicts != second.Conflicts {
		t.Fatalf("evaluation not idempotent: %+v vs %+v", first, second)
	}
}
