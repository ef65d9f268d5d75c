// Package zerostate assembles the genesis document of the network: the
// full roster of participating nodes with their keys, proxies and the
// license delegations that admitted them. Because every node derives it
// from the same converged state, every node produces the same document.
package zerostate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"dnspd/internal/cluster"
	"dnspd/internal/gossip"
	"dnspd/internal/license"
	"dnspd/internal/readiness"
)

// Participant is one admitted node.
type Participant struct {
	Name      string                     `yaml:"name" json:"name"`
	Pubkey    string                     `yaml:"pubkey" json:"pubkey"`
	BlsPubkey string                     `yaml:"bls_pubkey" json:"bls_pubkey"`
	Proxies   []string                   `yaml:"proxies,omitempty" json:"proxies,omitempty"`
	Version   string                     `yaml:"version,omitempty" json:"version,omitempty"`
	Licenses  []license.DelegationRecord `yaml:"licenses" json:"licenses"`
}

// Document is the assembled zerostate.
type Document struct {
	ClusterID    string        `yaml:"cluster_id" json:"cluster_id"`
	GeneratedAt  time.Time     `yaml:"generated_at" json:"generated_at"`
	Licenses     int           `yaml:"licenses" json:"licenses"`
	Participants []Participant `yaml:"participants" json:"participants"`
}

// Build projects the converged state into a Document. Only nodes holding at
// least one valid, non-conflicting license are admitted; their claims were
// already signature-checked during the readiness evaluation.
func Build(clusterID string, snap cluster.Snapshot, state readiness.State) Document {
	byNode := make(map[string][]license.DelegationRecord)
	for _, status := range state.PerLicense {
		if !status.Valid {
			continue
		}
		owner := status.Owner
		ns, ok := snap.Find(owner)
		if !ok {
			continue
		}
		claim, err := license.ParseClaim(license.KeyPrefix+status.LicenseID, ns.Entries[license.KeyPrefix+status.LicenseID].Value)
		if err != nil {
			continue
		}
		byNode[owner] = append(byNode[owner], claim.DelegationRecord)
	}

	doc := Document{
		ClusterID:   clusterID,
		GeneratedAt: time.Now().UTC(),
		Licenses:    state.ValidLicenses,
	}
	for name, records := range byNode {
		ns, _ := snap.Find(name)
		sort.Slice(records, func(i, j int) bool { return records[i].LicenseID < records[j].LicenseID })
		doc.Participants = append(doc.Participants, Participant{
			Name:      name,
			Pubkey:    ns.Entries[gossip.KeyPubkey].Value,
			BlsPubkey: ns.Entries[gossip.KeyBlsPubkey].Value,
			Proxies:   parseProxies(ns.Entries[gossip.KeyProxies].Value),
			Version:   ns.Entries[gossip.KeyVersion].Value,
			Licenses:  records,
		})
	}
	sort.Slice(doc.Participants, func(i, j int) bool {
		return doc.Participants[i].Name < doc.Participants[j].Name
	})
	return doc
}

func parseProxies(raw string) []string {
	if raw == "" {
		return nil
	}
	var proxies []string
	if err := json.Unmarshal([]byte(raw), &proxies); err != nil {
		return []string{raw}
	}
	return proxies
}

// WriteOnce renders doc as YAML at path unless a document already exists
// there. The genesis is written exactly once; later readiness transitions
// never overwrite it. Reports whether this call wrote the file.
func WriteOnce(path string, doc Document) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return false, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("marshal zerostate: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o640); err != nil {
		return false, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("rename %s: %w", path, err)
	}
	return true, nil
}
