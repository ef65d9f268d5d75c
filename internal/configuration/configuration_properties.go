package configuration

import (
	"time"

	"dnspd/internal/license"
)

type Properties struct {
	App       AppConfigurationProperties       `yaml:"app"`
	Keys      KeysConfigurationProperties      `yaml:"keys"`
	Gossip    GossipConfigurationProperties    `yaml:"gossip"`
	Seeds     SeedsConfigurationProperties     `yaml:"seeds"`
	Readiness ReadinessConfigurationProperties `yaml:"readiness"`
	Update    UpdateConfigurationProperties    `yaml:"update"`
	Journal   JournalConfigurationProperties   `yaml:"journal"`
	Licenses  []license.DelegationRecord       `yaml:"licenses"`
	Proxies   []string                         `yaml:"proxies"`
}

type AppConfigurationProperties struct {
	NodeName  string `yaml:"node-name"`
	ClusterID string `yaml:"cluster-id"`
	LogLevel  string `yaml:"log-level"`
	APIAddr   string `yaml:"api-addr"`
	Zerostate string `yaml:"zerostate-path"`
}

type KeysConfigurationProperties struct {
	WalletPubkey string `yaml:"wallet-pubkey"`
	WalletSecret string `yaml:"wallet-secret"`
	BlsPubkey    string `yaml:"bls-pubkey"`
}

type GossipConfigurationProperties struct {
	ListenAddr     string `yaml:"listen-addr"`
	AdvertiseAddr  string `yaml:"advertise-addr"`
	Interval       uint64 `yaml:"interval"`
	Fanout         int    `yaml:"fanout"`
	SuspectTimeout uint64 `yaml:"suspect-timeout"`
	DeadTimeout    uint64 `yaml:"dead-timeout"`
	MaxDatagram    int    `yaml:"max-datagram"`
}

type EtcdSeedsProperties struct {
	Endpoints   []string `yaml:"endpoints"`
	Prefix      string   `yaml:"prefix"`
	DialTimeout uint64   `yaml:"dial-timeout"`
	LeaseTTL    int64    `yaml:"lease-ttl"`
}

type SeedsConfigurationProperties struct {
	Static []string            `yaml:"static"`
	URL    string              `yaml:"url"`
	Etcd   EtcdSeedsProperties `yaml:"etcd"`
}

type ReadinessConfigurationProperties struct {
	MinLicenses  int    `yaml:"min-licenses"`
	IssuerPubkey string `yaml:"issuer-pubkey"`
	MaxClaimAge  uint64 `yaml:"max-claim-age"`
	MaxClockSkew uint64 `yaml:"max-clock-skew"`
	Interval     uint64 `yaml:"interval"`
}

type UpdateConfigurationProperties struct {
	Auto     bool     `yaml:"auto"`
	Interval uint64   `yaml:"interval"`
	Command  []string `yaml:"command"`
	Timeout  uint64   `yaml:"timeout"`
}

type JournalConfigurationProperties struct {
	Dir    string `yaml:"dir"`
	NoSync bool   `yaml:"no-sync"`
}

// Durations are configured as plain millisecond counts (seconds for the
// slow readiness and update timers).

func (g *GossipConfigurationProperties) IntervalDuration() time.Duration {
	return time.Duration(g.Interval) * time.Millisecond
}

func (g *GossipConfigurationProperties) SuspectTimeoutDuration() time.Duration {
	return time.Duration(g.SuspectTimeout) * time.Millisecond
}

func (g *GossipConfigurationProperties) DeadTimeoutDuration() time.Duration {
	return time.Duration(g.DeadTimeout) * time.Millisecond
}

func (g *GossipConfigurationProperties) Advertise() string {
	if g.AdvertiseAddr != "" {
		return g.AdvertiseAddr
	}
	return g.ListenAddr
}

func (e *EtcdSeedsProperties) DialTimeoutDuration() time.Duration {
	return time.Duration(e.DialTimeout) * time.Millisecond
}

func (r *ReadinessConfigurationProperties) MaxClaimAgeDuration() time.Duration {
	return time.Duration(r.MaxClaimAge) * time.Second
}

func (r *ReadinessConfigurationProperties) MaxClockSkewDuration() time.Duration {
	return time.Duration(r.MaxClockSkew) * time.Second
}

func (r *ReadinessConfigurationProperties) IntervalDuration() time.Duration {
	return time.Duration(r.Interval) * time.Second
}

func (u *UpdateConfigurationProperties) IntervalDuration() time.Duration {
	return time.Duration(u.Interval) * time.Second
}

func (u *UpdateConfigurationProperties) TimeoutDuration() time.Duration {
	return time.Duration(u.Timeout) * time.Second
}
