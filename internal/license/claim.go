package license

import (
	"encoding/json"
	"fmt"
	"strings"
)

// KeyPrefix is the well-known gossip key prefix claims are published under;
// the full key is KeyPrefix + license id.
const KeyPrefix = "license/"

// MaxLicenses bounds how many licenses a single node may operate.
const MaxLicenses = 10

// DelegationRecord is a signed assertion that a license is delegated to a
// provider for operation on a specific node. It carries three detached
// ed25519 signatures:
//
//   - license_proof_sig: issuer attests the license belongs to the owner
//   - delegation_sig: owner delegates the license to the provider
//   - delegation_confirm_sig: provider binds the delegation to this node's
//     wallet and BLS keys
//
// Public keys are hex, signatures are standard base64.
type DelegationRecord struct {
	LicenseID            string `yaml:"license_id" json:"license_id"`
	LicenseOwnerPubkey   string `yaml:"license_owner_pubkey" json:"license_owner_pubkey"`
	ProviderPubkey       string `yaml:"provider_pubkey" json:"provider_pubkey"`
	LicenseProofSig      string `yaml:"license_proof_sig" json:"license_proof_sig"`
	DelegationSig        string `yaml:"delegation_sig" json:"delegation_sig"`
	DelegationConfirmSig string `yaml:"delegation_confirm_sig" json:"delegation_confirm_sig"`
	Timestamp            uint64 `yaml:"timestamp" json:"timestamp"`
}

// Claim is a verified DelegationRecord ready for publication into the local
// gossip state. Verification is local only: every node that later observes
// the claim re-verifies it, nothing is trusted transitively.
type Claim struct {
	DelegationRecord
}

func (c Claim) Key() string {
	return KeyPrefix + c.LicenseID
}

func (c Claim) Encode() (string, error) {
	raw, err := json.Marshal(c.DelegationRecord)
	if err != nil {
		return "", fmt.Errorf("encode claim %s: %w", c.LicenseID, err)
	}
	return string(raw), nil
}

// ParseClaim decodes a gossip value published under KeyPrefix. The result
// is unverified; run it through a Verifier before trusting it.
func ParseClaim(key, value string) (Claim, error) {
	id := strings.TrimPrefix(key, KeyPrefix)
	if id == key || id == "" {
		return Claim{}, fmt.Errorf("not a license key: %q", key)
	}
	var rec DelegationRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return Claim{}, fmt.Errorf("parse claim under %q: %w", key, err)
	}
	if rec.LicenseID != id {
		return Claim{}, fmt.Errorf("claim id %q does not match key %q", rec.LicenseID, key)
	}
	return Claim{DelegationRecord: rec}, nil
}

// IsClaimKey reports whether a gossip key holds a license claim.
func IsClaimKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix) && len(key) > len(KeyPrefix)
}
