package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// Message layouts shared with the license issuer. Changing any of these
// invalidates every signature in circulation.

// ProofMessage is the byte string signed by the issuer.
func ProofMessage(licenseID, ownerPubkey string) []byte {
	return []byte(licenseID + ownerPubkey)
}

// DelegationMessage is the byte string signed by the license owner.
func DelegationMessage(licenseID, ownerPubkey, providerPubkey string, timestamp uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%d", ownerPubkey, providerPubkey, licenseID, timestamp))
}

// ConfirmMessage is the byte string signed by the provider.
func ConfirmMessage(licenseID, ownerPubkey, providerPubkey, nodePubkey, blsPubkey string) []byte {
	return []byte(licenseID + ownerPubkey + providerPubkey + nodePubkey + blsPubkey)
}

// Verifier checks delegation records against the issuer key and a node's
// published wallet/BLS keys. The zero MaxAge disables the freshness window.
type Verifier struct {
	IssuerPubkey string // hex, attests license ownership
	NodePubkey   string // hex, the claiming node's wallet key
	BlsPubkey    string // hex, the claiming node's BLS key

	// MaxAge rejects delegations older than now-MaxAge; MaxSkew tolerates
	// claimant clocks running ahead of ours.
	MaxAge  time.Duration
	MaxSkew time.Duration

	now func() time.Time
}

func (v *Verifier) clock() time.Time {
	if v.now != nil {
		return v.now()
	}
	return time.Now()
}

// SetClock overrides the time source, for tests.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

func decodePubkey(hexKey string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrBadKey
	}
	return ed25519.PublicKey(raw), nil
}

func verifyDetached(pubkeyHex string, message []byte, sigBase64 string) error {
	pub, err := decodePubkey(pubkeyHex)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, message, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyRecord checks one record's three signatures and its freshness. It
// is used both for locally-configured records before publication and for
// claims received via gossip.
func (v *Verifier) VerifyRecord(rec DelegationRecord) error {
	if v.MaxAge > 0 {
		ts := time.Unix(int64(rec.Timestamp), 0)
		now := v.clock()
		if ts.Before(now.Add(-v.MaxAge)) || ts.After(now.Add(v.MaxSkew)) {
			return fmt.Errorf("%w: license %s timestamp %d", ErrExpiredDelegation, rec.LicenseID, rec.Timestamp)
		}
	}
	if err := verifyDetached(v.IssuerPubkey,
		ProofMessage(rec.LicenseID, rec.LicenseOwnerPubkey),
		rec.LicenseProofSig); err != nil {
		return fmt.Errorf("%w: license_proof_sig for %s", err, rec.LicenseID)
	}
	if err := verifyDetached(rec.LicenseOwnerPubkey,
		DelegationMessage(rec.LicenseID, rec.LicenseOwnerPubkey, rec.ProviderPubkey, rec.Timestamp),
		rec.DelegationSig); err != nil {
		return fmt.Errorf("%w: delegation_sig for %s", err, rec.LicenseID)
	}
	if err := verifyDetached(rec.ProviderPubkey,
		ConfirmMessage(rec.LicenseID, rec.LicenseOwnerPubkey, rec.ProviderPubkey, v.NodePubkey, v.BlsPubkey),
		rec.DelegationConfirmSig); err != nil {
		return fmt.Errorf("%w: delegation_confirm_sig for %s", err, rec.LicenseID)
	}
	return nil
}

// CheckAll validates a node's configured delegation records and returns the
// claims to publish. Any failure rejects the whole set: a misconfigured
// node must not enter gossip with a partial license story.
func (v *Verifier) CheckAll(records []DelegationRecord) ([]Claim, error) {
	if len(records) == 0 {
		return nil, ErrNoLicenses
	}
	if len(records) > MaxLicenses {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyLicenses, len(records), MaxLicenses)
	}

	seen := make(map[string]struct{}, len(records))
	claims := make([]Claim, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.LicenseID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLicense, rec.LicenseID)
		}
		seen[rec.LicenseID] = struct{}{}
		if err := v.VerifyRecord(rec); err != nil {
			return nil, err
		}
		claims = append(claims, Claim{DelegationRecord: rec})
	}
	return claims, nil
}
