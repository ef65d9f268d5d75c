package configuration

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"dnspd/internal/configuration/util"
	"dnspd/internal/license"
)

// Load reads, env-expands and validates the node configuration. Every
// `${VAR}` in the file must resolve; a missing variable fails the load
// instead of silently expanding to the empty string.
func Load(path string) (*Properties, error) {
	expanded, err := util.ReadFileExpanded(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := Properties{}
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Properties) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.APIAddr == "" {
		c.App.APIAddr = "127.0.0.1:8600"
	}
	if c.App.Zerostate == "" {
		c.App.Zerostate = "zerostate.yaml"
	}
	if c.Gossip.ListenAddr == "" {
		c.Gossip.ListenAddr = "0.0.0.0:10000"
	}
	if c.Gossip.Interval == 0 {
		c.Gossip.Interval = 500
	}
	if c.Gossip.Fanout == 0 {
		c.Gossip.Fanout = 3
	}
	if c.Gossip.SuspectTimeout == 0 {
		c.Gossip.SuspectTimeout = 5_000
	}
	if c.Gossip.DeadTimeout == 0 {
		c.Gossip.DeadTimeout = 15_000
	}
	if c.Readiness.Interval == 0 {
		c.Readiness.Interval = 10
	}
	if c.Update.Interval == 0 {
		c.Update.Interval = 120
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "journal"
	}
}

// Validate rejects configurations that cannot produce a working node.
// Startup fails fast instead of joining the network half-configured.
func (c *Properties) Validate() error {
	if c.App.ClusterID == "" {
		return fmt.Errorf("app.cluster-id is required")
	}
	if c.Readiness.IssuerPubkey == "" {
		return fmt.Errorf("readiness.issuer-pubkey is required")
	}
	if _, err := hex.DecodeString(c.Readiness.IssuerPubkey); err != nil {
		return fmt.Errorf("readiness.issuer-pubkey is not hex: %w", err)
	}
	if c.Readiness.MinLicenses < 1 {
		return fmt.Errorf("readiness.min-licenses must be at least 1")
	}
	if len(c.Seeds.Static) == 0 && c.Seeds.URL == "" && len(c.Seeds.Etcd.Endpoints) == 0 {
		return fmt.Errorf("no seed source configured")
	}
	if len(c.Licenses) > license.MaxLicenses {
		return fmt.Errorf("at most %d license delegations per node, got %d", license.MaxLicenses, len(c.Licenses))
	}
	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if c.Keys.BlsPubkey == "" {
		return fmt.Errorf("keys.bls-pubkey is required")
	}
	return nil
}

// SigningKey decodes the wallet secret and checks it against the declared
// wallet pubkey. Both the 32 byte seed and the full 64 byte private key
// encodings are accepted.
func (c *Properties) SigningKey() (ed25519.PrivateKey, error) {
	secret, err := hex.DecodeString(c.Keys.WalletSecret)
	if err != nil {
		return nil, fmt.Errorf("keys.wallet-secret is not hex: %w", err)
	}
	var key ed25519.PrivateKey
	switch len(secret) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(secret)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(secret)
	default:
		return nil, fmt.Errorf("keys.wallet-secret must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(secret))
	}

	pub, err := hex.DecodeString(c.Keys.WalletPubkey)
	if err != nil {
		return nil, fmt.Errorf("keys.wallet-pubkey is not hex: %w", err)
	}
	if !bytes.Equal(pub, key.Public().(ed25519.PublicKey)) {
		return nil, fmt.Errorf("keys.wallet-pubkey does not match keys.wallet-secret")
	}
	return key, nil
}
