package gossip

import "strings"

// Well-known gossip keys. Everything a node publishes about itself lives
// under one of these; unknown keys gossip fine but carry no protocol
// meaning.
const (
	KeyPubkey    = "pubkey"
	KeyBlsPubkey = "bls_pubkey"
	KeyProxies   = "proxies"
	KeyVersion   = "version"

	// KeyLatestVersion announces the newest released build; any node may
	// relay it from a release feed and the update controller acts on the
	// converged maximum.
	KeyLatestVersion = "version/latest"

	// keyLicensePrefix mirrors license.KeyPrefix; kept here so payload
	// classification has no import cycle.
	keyLicensePrefix = "license/"
)

// PayloadKind classifies a gossip entry by its key so consumers can switch
// exhaustively instead of string-matching ad hoc. New kinds are additions
// here, never silent fall-throughs elsewhere.
type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	PayloadNodeMetadata
	PayloadLicenseClaim
	PayloadVersionAnnouncement
)

func KindOf(key string) PayloadKind {
	switch {
	case key == KeyPubkey, key == KeyBlsPubkey, key == KeyProxies:
		return PayloadNodeMetadata
	case key == KeyVersion, key == KeyLatestVersion:
		return PayloadVersionAnnouncement
	case strings.HasPrefix(key, keyLicensePrefix) && len(key) > len(keyLicensePrefix):
		return PayloadLicenseClaim
	default:
		return PayloadUnknown
	}
}
