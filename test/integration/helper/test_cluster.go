package helper

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dnspd/internal/cluster"
	"dnspd/internal/gossip"
	"dnspd/internal/license"
	"dnspd/internal/license/licensetest"
	"dnspd/internal/logging"
	"dnspd/internal/readiness"
	"dnspd/internal/transport"
)

var initOnce sync.Once

// Cluster wires full nodes (store, gossip engine, readiness watcher) over
// an in-process lossy-capable transport. All nodes share one license
// authority so delegations verify across the cluster.
type Cluster struct {
	t         *testing.T
	authority *licensetest.Authority
	channel   *transport.Channel
	policy    readiness.Policy
	seeds     []string

	mu    sync.RWMutex
	nodes map[string]*TestNode
}

type TestNode struct {
	Name      string
	Engine    *gossip.Engine
	Watcher   *readiness.Watcher
	Pubkey    string
	BlsPubkey string
	Addr      string

	cancel  context.CancelFunc
	stopped bool
	mu      sync.Mutex
}

func NewCluster(t *testing.T, minLicenses int) *Cluster {
	initOnce.Do(func() { logging.Init("error", "") })

	c := &Cluster{
		t:         t,
		authority: licensetest.NewAuthority(t),
		channel:   transport.NewChannel(),
		nodes:     make(map[string]*TestNode),
	}
	c.policy = readiness.Policy{
		MinLicenses:  minLicenses,
		IssuerPubkey: c.authority.IssuerPubkey,
	}
	t.Cleanup(c.cleanup)
	return c
}

// SetDropRate makes the shared transport lossy for every node added after
// (and before) the call.
func (c *Cluster) SetDropRate(rate float64) {
	c.channel.DropRate = rate
}

// StartNode brings up a node publishing its keys and one claim per license
// id, seeded with every node started before it.
func (c *Cluster) StartNode(name string, licenseIDs ...string) *TestNode {
	c.t.Helper()

	pub, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(c.t, err, "generate node key")
	pubkey := hex.EncodeToString(pub)
	blsPubkey, _ := licensetest.Keypair(c.t)

	addr := name + ":gossip"
	store := cluster.NewStore(cluster.NodeID{
		Name:        name,
		Incarnation: uint64(time.Now().Unix()),
		GossipAddr:  addr,
	})
	store.SetLocal(gossip.KeyPubkey, pubkey)
	store.SetLocal(gossip.KeyBlsPubkey, blsPubkey)
	for _, id := range licenseIDs {
		rec := c.authority.Delegate(c.t, id, pubkey, blsPubkey, mintTimestamp)
		claim := license.Claim{DelegationRecord: rec}
		value, err := claim.Encode()
		require.NoError(c.t, err, "encode claim")
		store.SetLocal(claim.Key(), value)
	}

	engine, err := gossip.NewEngine(gossip.Config{
		ClusterID:      "integration",
		GossipInterval: 10 * time.Millisecond,
		Fanout:         3,
		SuspectTimeout: 150 * time.Millisecond,
		DeadTimeout:    300 * time.Millisecond,
		SweepInterval:  20 * time.Millisecond,
		Seeds:          c.seedAddrs(),
	}, store, c.channel, key, addr)
	require.NoError(c.t, err, "start engine for %s", name)

	node := &TestNode{
		Name:      name,
		Engine:    engine,
		Watcher:   readiness.NewWatcher(engine, c.policy, 20*time.Millisecond),
		Pubkey:    pubkey,
		BlsPubkey: blsPubkey,
		Addr:      addr,
	}

	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel
	go func() { _ = engine.Run(ctx) }()
	go func() { _ = node.Watcher.Run(ctx) }()

	c.mu.Lock()
	c.nodes[name] = node
	c.seeds = append(c.seeds, addr)
	c.mu.Unlock()
	return node
}

// StopNode cancels the node's loops; its address stays routable but the
// process behind it is gone, exactly what a peer crash looks like.
func (c *Cluster) StopNode(name string) {
	c.t.Helper()
	node := c.Node(name)
	node.mu.Lock()
	defer node.mu.Unlock()
	if !node.stopped {
		node.cancel()
		node.stopped = true
	}
}

func (c *Cluster) Node(name string) *TestNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node, ok := c.nodes[name]
	require.True(c.t, ok, "unknown node %s", name)
	return node
}

// Running returns the nodes that have not been stopped.
func (c *Cluster) Running() []*TestNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*TestNode
	for _, node := range c.nodes {
		node.mu.Lock()
		stopped := node.stopped
		node.mu.Unlock()
		if !stopped {
			out = append(out, node)
		}
	}
	return out
}

// WaitReady blocks until every running node evaluates to globally ready.
func (c *Cluster) WaitReady(timeout time.Duration) {
	c.t.Helper()
	c.waitReadiness(timeout, true)
}

// WaitNotReady blocks until every running node agrees readiness is lost.
func (c *Cluster) WaitNotReady(timeout time.Duration) {
	c.t.Helper()
	c.waitReadiness(timeout, false)
}

func (c *Cluster) waitReadiness(timeout time.Duration, want bool) {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		agree := true
		for _, node := range c.Running() {
			if node.Watcher.Evaluate().GloballyReady != want {
				agree = false
				break
			}
		}
		if agree {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	for _, node := range c.Running() {
		c.t.Logf("%s readiness: %+v", node.Name, node.Watcher.Current())
	}
	c.t.Fatalf("cluster did not agree on ready=%v within %v", want, timeout)
}

// WaitPhase blocks until observer reports the target node in phase.
func (c *Cluster) WaitPhase(observer, target string, phase cluster.Phase, timeout time.Duration) {
	c.t.Helper()
	members := c.Node(observer).Engine.Membership()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if members.PhaseOf(target) == phase {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.t.Fatalf("%s never saw %s as %s, records: %+v",
		observer, target, phase, members.Records())
}

// WaitNodeCount blocks until every running node's store tracks n nodes.
func (c *Cluster) WaitNodeCount(n int, timeout time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		agree := true
		for _, node := range c.Running() {
			if len(node.Engine.Store().Snapshot()) != n {
				agree = false
				break
			}
		}
		if agree {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	for _, node := range c.Running() {
		c.t.Logf("%s sees %d nodes", node.Name, len(node.Engine.Store().Snapshot()))
	}
	c.t.Fatalf("stores did not reach %d nodes within %v", n, timeout)
}

func (c *Cluster) seedAddrs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.seeds...)
}

func (c *Cluster) cleanup() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, node := range c.nodes {
		node.mu.Lock()
		if !node.stopped {
			node.cancel()
			node.stopped = true
		}
		node.mu.Unlock()
	}
}

// mintTimestamp is the delegation timestamp StartNode and PublishClaim
// sign with. Fixed so that two claims on the same license id genuinely
// tie; pass a later stamp to PublishClaimAt to supersede instead.
const mintTimestamp uint64 = 1_700_000_000

// PublishClaim mints and publishes a claim bound to the node's keys. Used
// to inject a claim for a license id already delegated elsewhere; the
// authority should not issue these, the network has to survive them anyway.
func (c *Cluster) PublishClaim(node *TestNode, licenseID string) {
	c.PublishClaimAt(node, licenseID, mintTimestamp)
}

// PublishClaimAt is PublishClaim with an explicit delegation timestamp.
func (c *Cluster) PublishClaimAt(node *TestNode, licenseID string, signedAt uint64) {
	c.t.Helper()
	rec := c.authority.Delegate(c.t, licenseID, node.Pubkey, node.BlsPubkey, signedAt)
	claim := license.Claim{DelegationRecord: rec}
	value, err := claim.Encode()
	require.NoError(c.t, err, "encode claim for %s", licenseID)
	node.Engine.Store().SetLocal(claim.Key(), value)
}

// WithdrawClaim retracts a node's claim by publishing the license key with
// an empty value, as a node does when a delegation is dropped from its
// reloaded config.
func (c *Cluster) WithdrawClaim(node *TestNode, licenseID string) {
	c.t.Helper()
	node.Engine.Store().SetLocal(license.KeyPrefix+licenseID, "")
}
