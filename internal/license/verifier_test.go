package license_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"dnspd/internal/license"
	"dnspd/internal/license/licensetest"
)

const (
	nodePubkey = "3ef72c59a33ba75a484cfb126bd9e55db267cbd944110374d0b78a9e474c6c87"
	blsPubkey  = "8cf7d141cade81a44c8bc58a02b0448e85e77d47d9c644adfe3512d3c5fcdc2a"
)

func newVerifier(a *licensetest.Authority) *license.Verifier {
	return &license.Verifier{
		IssuerPubkey: a.IssuerPubkey,
		NodePubkey:   nodePubkey,
		BlsPubkey:    blsPubkey,
	}
}

func TestVerifier_ValidRecord(t *testing.T) {
	a := licensetest.NewAuthority(t)
	rec := a.Delegate(t, "lic-1", nodePubkey, blsPubkey, 1234567890)

	claims, err := newVerifier(a).CheckAll([]license.DelegationRecord{rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claims) != 1 || claims[0].Key() != "license/lic-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifier_TamperedDelegationSig(t *testing.T) {
	a := licensetest.NewAuthority(t)
	rec := a.Delegate(t, "lic-1", nodePubkey, blsPubkey, 1234567890)
	rec.DelegationSig = rec.DelegationConfirmSig

	_, err := newVerifier(a).CheckAll([]license.DelegationRecord{rec})
	if !errors.Is(err, license.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifier_WrongIssuer(t *testing.T) {
	a := licensetest.NewAuthority(t)
	other := licensetest.NewAuthority(t)
	rec := other.Delegate(t, "lic-1", nodePubkey, blsPubkey, 1234567890)

	_, err := newVerifier(a).CheckAll([]license.DelegationRecord{rec})
	if !errors.Is(err, license.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifier_ConfirmBoundToNodeKeys(t *testing.T) {
	a := licensetest.NewAuthority(t)
	// Signed for a different node's keys: must not verify here.
	rec := a.Delegate(t, "lic-1", "00"+nodePubkey[2:], blsPubkey, 1234567890)

	_, err := newVerifier(a).CheckAll([]license.DelegationRecord{rec})
	if !errors.Is(err, license.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifier_ExpiryWindow(t *testing.T) {
	a := licensetest.NewAuthority(t)
	now := time.Unix(2_000_000, 0)

	v := newVerifier(a)
	v.MaxAge = time.Hour
	v.MaxSkew = time.Minute
	v.SetClock(func() time.Time { return now })

	fresh := a.Delegate(t, "fresh", nodePubkey, blsPubkey, uint64(now.Add(-30*time.Minute).Unix()))
	if _, err := v.CheckAll([]license.DelegationRecord{fresh}); err != nil {
		t.Fatalf("fresh record rejected: %v", err)
	}

	stale := a.Delegate(t, "stale", nodePubkey, blsPubkey, uint64(now.Add(-2*time.Hour).Unix()))
	if _, err := v.CheckAll([]license.DelegationRecord{stale}); !errors.Is(err, license.ErrExpiredDelegation) {
		t.Fatalf("expected ErrExpiredDelegation, got %v", err)
	}

	future := a.Delegate(t, "future", nodePubkey, blsPubkey, uint64(now.Add(10*time.Minute).Unix()))
	if _, err := v.CheckAll([]license.DelegationRecord{future}); !errors.Is(err, license.ErrExpiredDelegation) {
		t.Fatalf("expected ErrExpiredDelegation for future timestamp, got %v", err)
	}
}

func TestVerifier_CountLimits(t *testing.T) {
	a := licensetest.NewAuthority(t)
	v := newVerifier(a)

	if _, err := v.CheckAll(nil); !errors.Is(err, license.ErrNoLicenses) {
		t.Fatalf("expected ErrNoLicenses, got %v", err)
	}

	var records []license.DelegationRecord
	for i := 0; i < license.MaxLicenses+1; i++ {
		records = append(records, a.Delegate(t, fmt.Sprintf("lic-%d", i), nodePubkey, blsPubkey, 1234567890))
	}
	if _, err := v.CheckAll(records); !errors.Is(err, license.ErrTooManyLicenses) {
		t.Fatalf("expected ErrTooManyLicenses, got %v", err)
	}
}

func TestVerifier_DuplicateLicenseID(t *testing.T) {
	a := licensetest.NewAuthority(t)
	rec := a.Delegate(t, "lic-1", nodePubkey, blsPubkey, 1234567890)

	_, err := newVerifier(a).CheckAll([]license.DelegationRecord{rec, rec})
	if !errors.Is(err, license.ErrDuplicateLicense) {
		t.Fatalf("expected ErrDuplicateLicense, got %v", err)
	}
}

func TestClaim_EncodeParseRoundTrip(t *testing.T) {
	a := licensetest.NewAuthority(t)
	rec := a.Delegate(t, "lic-1", nodePubkey, blsPubkey, 1234567890)
	claim := license.Claim{DelegationRecord: rec}

	value, err := claim.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := license.ParseClaim(claim.Key(), value)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.DelegationRecord != rec {
		t.Fatalf("round trip mismatch: %+v", parsed.DelegationRecord)
	}

	// A claim republished under a mismatched key is rejected outright.
	if _, err := license.ParseClaim("license/other", value); err == nil {
		t.Fatal("mismatched key accepted")
	}
}
