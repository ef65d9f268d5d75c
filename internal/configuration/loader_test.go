package configuration

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dnspd.yml")
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func testKeys(t *testing.T) (pubHex, secretHex string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return hex.EncodeToString(pub), hex.EncodeToString(priv.Seed())
}

func validConfig(pubHex, secretHex string) string {
	return fmt.Sprintf(`
app:
  cluster-id: testnet
keys:
  wallet-pubkey: %s
  wallet-secret: %s
  bls-pubkey: deadbeef
seeds:
  static:
    - 10.0.0.2:10000
readiness:
  min-licenses: 3
  issuer-pubkey: ab12
`, pubHex, secretHex)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	pubHex, secretHex := testKeys(t)
	cfg, err := Load(writeConfig(t, validConfig(pubHex, secretHex)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.LogLevel != "info" {
		t.Fatalf("expected default log level, got %q", cfg.App.LogLevel)
	}
	if cfg.Gossip.ListenAddr != "0.0.0.0:10000" {
		t.Fatalf("expected default listen addr, got %q", cfg.Gossip.ListenAddr)
	}
	if got := cfg.Gossip.IntervalDuration().Milliseconds(); got != 500 {
		t.Fatalf("expected 500ms default interval, got %dms", got)
	}
	if cfg.Gossip.Advertise() != "0.0.0.0:10000" {
		t.Fatalf("advertise should fall back to listen addr, got %q", cfg.Gossip.Advertise())
	}
	if cfg.Readiness.MinLicenses != 3 {
		t.Fatalf("expected min-licenses 3, got %d", cfg.Readiness.MinLicenses)
	}
}

func TestLoad_ExpandsEnvStrictly(t *testing.T) {
	pubHex, secretHex := testKeys(t)
	t.Setenv("DNSPD_CLUSTER", "mainnet")

	body := strings.Replace(validConfig(pubHex, secretHex), "cluster-id: testnet", "cluster-id: ${DNSPD_CLUSTER}", 1)
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.ClusterID != "mainnet" {
		t.Fatalf("expected expanded cluster id, got %q", cfg.App.ClusterID)
	}

	body = strings.Replace(validConfig(pubHex, secretHex), "cluster-id: testnet", "cluster-id: ${DNSPD_UNSET_VAR}", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for unset environment variable")
	}
}

func TestLoad_RejectsIncompleteConfig(t *testing.T) {
	pubHex, secretHex := testKeys(t)
	valid := validConfig(pubHex, secretHex)

	broken := map[string]string{
		"missing cluster id": strings.Replace(valid, "cluster-id: testnet", "cluster-id: \"\"", 1),
		"missing issuer":     strings.Replace(valid, "issuer-pubkey: ab12", "issuer-pubkey: \"\"", 1),
		"non-hex issuer":     strings.Replace(valid, "issuer-pubkey: ab12", "issuer-pubkey: zz", 1),
		"zero min licenses":  strings.Replace(valid, "min-licenses: 3", "min-licenses: 0", 1),
		"no seeds":           strings.Replace(valid, "- 10.0.0.2:10000", "[]", 1),
		"missing bls":        strings.Replace(valid, "bls-pubkey: deadbeef", "bls-pubkey: \"\"", 1),
		"truncated secret":   strings.Replace(valid, secretHex, secretHex[:16], 1),
	}
	for name, body := range broken {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected load to fail", name)
		}
	}
}

func TestSigningKey_RejectsMismatchedPubkey(t *testing.T) {
	pubHex, _ := testKeys(t)
	_, otherSecret := testKeys(t)

	cfg := Properties{Keys: KeysConfigurationProperties{
		WalletPubkey: pubHex,
		WalletSecret: otherSecret,
	}}
	if _, err := cfg.SigningKey(); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestSigningKey_AcceptsSeedAndFullKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	for _, secret := range []string{hex.EncodeToString(priv.Seed()), hex.EncodeToString(priv)} {
		cfg := Properties{Keys: KeysConfigurationProperties{
			WalletPubkey: hex.EncodeToString(pub),
			WalletSecret: secret,
		}}
		key, err := cfg.SigningKey()
		if err != nil {
			t.Fatalf("SigningKey(%d hex chars): %v", len(secret), err)
		}
		if !key.Equal(priv) {
			t.Fatal("decoded key differs from the generated one")
		}
	}
}
