// Package readiness decides, from the converged cluster state alone,
// whether the network-wide bootstrap conditions hold. Evaluate is a pure
// projection: two nodes with identical stores always agree, so no
// coordinator or vote is ever needed.
package readiness

import (
	"sort"
	"time"

	"dnspd/internal/cluster"
	"dnspd/internal/gossip"
	"dnspd/internal/license"
)

// Policy carries the operator-configured readiness inputs. MinLicenses is
// the minimum number of distinct valid licenses network-wide; it is policy,
// not a protocol constant.
type Policy struct {
	MinLicenses  int
	IssuerPubkey string
	MaxClaimAge  time.Duration
	MaxClockSkew time.Duration

	now func() time.Time
}

// SetClock overrides the verification time source, for tests.
func (p *Policy) SetClock(now func() time.Time) { p.now = now }

// LicenseStatus is the per-license verdict. Claimants lists every node with
// a verified claim on the license; Owner is set only when the license is
// Valid and names the single claimant whose delegation won.
type LicenseStatus struct {
	LicenseID   string   `json:"license_id"`
	Claimants   []string `json:"claimants"`
	Owner       string   `json:"owner,omitempty"`
	Valid       bool     `json:"valid"`
	Conflicting bool     `json:"conflicting"`
}

// State is derived, never stored or gossiped.
type State struct {
	PerLicense     map[string]LicenseStatus `json:"per_license"`
	NodeLicenses   map[string]int           `json:"node_licenses"`
	ValidLicenses  int                      `json:"valid_licenses"`
	Conflicts      int                      `json:"conflicts"`
	InvalidClaims  int                      `json:"invalid_claims"`
	UncoveredAlive []string                 `json:"uncovered_alive,omitempty"`
	GloballyReady  bool                     `json:"globally_ready"`
}

// Evaluate recomputes readiness from a store snapshot and the failure
// detector's records. It re-verifies every claim signature: data relayed by
// peers is never trusted on the relayer's word.
//
// Policy decision on dead nodes: a claim stays valid when its node goes
// Dead, because license validity is a function of signature and timestamp,
// not liveness. Liveness matters the other way around: every node currently
// Alive must be covered by at least one valid, non-conflicting license.
func Evaluate(snap cluster.Snapshot, members []cluster.MemberRecord, policy Policy) State {
	state := State{
		PerLicense:   make(map[string]LicenseStatus),
		NodeLicenses: make(map[string]int),
	}

	// Collect verified claims, grouped by license id. An empty value under
	// a license key is a withdrawal: the node retracted the claim and the
	// key is ignored entirely.
	type claimant struct {
		node      string
		timestamp uint64
	}
	claimants := make(map[string][]claimant)
	for _, ns := range snap {
		verifier := &license.Verifier{
			IssuerPubkey: policy.IssuerPubkey,
			NodePubkey:   ns.Entries[gossip.KeyPubkey].Value,
			BlsPubkey:    ns.Entries[gossip.KeyBlsPubkey].Value,
			MaxAge:       policy.MaxClaimAge,
			MaxSkew:      policy.MaxClockSkew,
		}
		if policy.now != nil {
			verifier.SetClock(policy.now)
		}
		for key, vv := range ns.Entries {
			if gossip.KindOf(key) != gossip.PayloadLicenseClaim {
				continue
			}
			if vv.Value == "" {
				continue
			}
			claim, err := license.ParseClaim(key, vv.Value)
			if err != nil {
				state.InvalidClaims++
				continue
			}
			if err := verifier.VerifyRecord(claim.DelegationRecord); err != nil {
				state.InvalidClaims++
				continue
			}
			claimants[claim.LicenseID] = append(claimants[claim.LicenseID],
				claimant{node: ns.Node.Name, timestamp: claim.Timestamp})
		}
	}

	for id, claims := range claimants {
		names := make([]string, 0, len(claims))
		var latest uint64
		for _, c := range claims {
			names = append(names, c.node)
			if c.timestamp > latest {
				latest = c.timestamp
			}
		}
		sort.Strings(names)
		status := LicenseStatus{LicenseID: id, Claimants: names}

		// A freshly signed delegation supersedes older ones for the same
		// license, so a re-delegation heals a conflict on its own once the
		// newer claim has spread. Only claims tied at the newest timestamp
		// contest the license.
		current := claims[:0:0]
		for _, c := range claims {
			if c.timestamp == latest {
				current = append(current, c)
			}
		}
		if len(current) > 1 {
			status.Conflicting = true
			state.Conflicts++
		} else {
			status.Valid = true
			status.Owner = current[0].node
			state.ValidLicenses++
			state.NodeLicenses[status.Owner]++
		}
		state.PerLicense[id] = status
	}

	// Every node presently Alive must hold at least one valid license. A
	// snapshot node with no membership record is the local node and counts
	// as Alive.
	tracked := make(map[string]bool, len(members))
	for _, rec := range members {
		tracked[rec.Node.Name] = true
		if rec.Phase == cluster.Alive && state.NodeLicenses[rec.Node.Name] == 0 {
			state.UncoveredAlive = append(state.UncoveredAlive, rec.Node.Name)
		}
	}
	for _, ns := range snap {
		if !tracked[ns.Node.Name] && state.NodeLicenses[ns.Node.Name] == 0 {
			state.UncoveredAlive = append(state.UncoveredAlive, ns.Node.Name)
		}
	}
	sort.Strings(state.UncoveredAlive)

	state.GloballyReady = len(state.UncoveredAlive) == 0 &&
		policy.MinLicenses > 0 &&
		state.ValidLicenses >= policy.MinLicenses
	return state
}
