// Package licensetest forges fully-signed delegation records for tests.
package licensetest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"dnspd/internal/license"
)

// Authority plays the license issuer: it holds the issuer signing key and
// mints delegation records that verify against IssuerPubkey.
type Authority struct {
	key          ed25519.PrivateKey
	IssuerPubkey string
}

func NewAuthority(t *testing.T) *Authority {
	t.Helper()
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate issuer key: %v", err)
	}
	return &Authority{key: key, IssuerPubkey: hex.EncodeToString(pub)}
}

// Keypair returns a fresh ed25519 keypair as (hex pubkey, private key).
func Keypair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return hex.EncodeToString(pub), key
}

func sign(key ed25519.PrivateKey, message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, message))
}

// Delegate mints a record delegating licenseID to a fresh provider, bound
// to the node identified by nodePubkey/blsPubkey.
func (a *Authority) Delegate(t *testing.T, licenseID, nodePubkey, blsPubkey string, timestamp uint64) license.DelegationRecord {
	t.Helper()

	ownerPub, ownerKey := Keypair(t)
	providerPub, providerKey := Keypair(t)

	return license.DelegationRecord{
		LicenseID:          licenseID,
		LicenseOwnerPubkey: ownerPub,
		ProviderPubkey:     providerPub,
		Timestamp:          timestamp,
		LicenseProofSig: sign(a.key,
			license.ProofMessage(licenseID, ownerPub)),
		DelegationSig: sign(ownerKey,
			license.DelegationMessage(licenseID, ownerPub, providerPub, timestamp)),
		DelegationConfirmSig: sign(providerKey,
			license.ConfirmMessage(licenseID, ownerPub, providerPub, nodePubkey, blsPubkey)),
	}
}
