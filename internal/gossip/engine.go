// Package gossip implements the epidemic state-dissemination engine: each
// node periodically picks a small random set of peers, exchanges state
// digests and ships only the missing entries, so every replica converges on
// the same cluster state without any coordinator.
package gossip

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"dnspd/internal/cluster"
	"dnspd/internal/metrics"
	"dnspd/internal/transport"
)

// Config tunes one engine. Interval/fanout bound per-round bandwidth to
// O(fanout) regardless of cluster size.
type Config struct {
	ClusterID      string
	GossipInterval time.Duration
	Fanout         int
	SuspectTimeout time.Duration
	DeadTimeout    time.Duration
	SweepInterval  time.Duration

	// MaxDatagram bounds a whole sealed gossip message; deltas are cut to
	// whatever fits beside the header and digest.
	MaxDatagram int

	Seeds []string
}

func (c Config) withDefaults() Config {
	if c.GossipInterval <= 0 {
		c.GossipInterval = 500 * time.Millisecond
	}
	if c.Fanout <= 0 {
		c.Fanout = 3
	}
	if c.SuspectTimeout <= 0 {
		c.SuspectTimeout = 5 * time.Second
	}
	if c.DeadTimeout <= 0 {
		c.DeadTimeout = 15 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.GossipInterval
	}
	if c.MaxDatagram <= 0 {
		c.MaxDatagram = transport.DefaultMaxDatagram
	}
	return c
}

// Engine owns a Store and a Membership and keeps both converged with the
// rest of the cluster. Multiple engines can coexist in one process; nothing
// here is global.
type Engine struct {
	cfg     Config
	store   *cluster.Store
	members *cluster.Membership
	sock    *transport.SignedSocket

	changes chan struct{}
}

func NewEngine(cfg Config, store *cluster.Store, tr transport.Transport, key ed25519.PrivateKey, bindAddr string) (*Engine, error) {
	cfg = cfg.withDefaults()
	raw, err := tr.Open(bindAddr)
	if err != nil {
		return nil, fmt.Errorf("open gossip socket: %w", err)
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		members: cluster.NewMembership(cfg.SuspectTimeout, cfg.DeadTimeout),
		sock:    transport.NewSignedSocket(raw, key),
		changes: make(chan struct{}, 1),
	}, nil
}

func (e *Engine) Store() *cluster.Store { return e.store }

func (e *Engine) Membership() *cluster.Membership { return e.members }

func (e *Engine) LocalAddr() string { return e.sock.LocalAddr() }

// Changes signals after any batch of remote entries lands in the store or
// the failure detector changes a phase. Signals coalesce; consumers
// re-evaluate from a fresh snapshot rather than per event.
func (e *Engine) Changes() <-chan struct{} { return e.changes }

func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// Run drives the three periodic tasks until the context is cancelled: the
// gossip round loop, the inbound handler and the failure-detector sweep.
// The socket is released before returning.
func (e *Engine) Run(ctx context.Context) error {
	defer e.sock.Close()

	slog.Info("gossip engine starting",
		"node", e.store.Self().Name,
		"incarnation", e.store.Self().Incarnation,
		"addr", e.sock.LocalAddr(),
		"cluster", e.cfg.ClusterID,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runRounds(ctx) })
	g.Go(func() error { return e.runInbound(ctx) })
	g.Go(func() error { return e.runSweeper(ctx) })

	err := g.Wait()
	if ctx.Err() != nil {
		// Shutdown, not failure.
		return nil
	}
	return err
}

func (e *Engine) runRounds(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.round(ctx)
		}
	}
}

// round selects up to Fanout random targets and sends each a syn carrying
// our digest. Failures are not retried; the next round re-selects.
func (e *Engine) round(ctx context.Context) {
	metrics.GossipRoundsTotal.Inc()

	targets := e.selectTargets()
	if len(targets) == 0 {
		return
	}

	digest := e.store.Digest()
	for _, addr := range targets {
		e.send(ctx, addr, message{
			Kind:      kindSyn,
			ClusterID: e.cfg.ClusterID,
			From:      e.store.Self(),
			Digest:    digest,
		})
	}
}

// selectTargets picks gossip destinations: a bounded random subset of
// not-yet-dead peers, falling back to the seed list while the membership
// is empty. Seeds are also contacted occasionally afterwards so a node that
// was partitioned away from everyone can rejoin.
func (e *Engine) selectTargets() []string {
	var addrs []string
	self := e.store.Self()
	for _, id := range e.members.Targets() {
		if id.Name == self.Name || id.GossipAddr == "" || id.GossipAddr == self.GossipAddr {
			continue
		}
		addrs = append(addrs, id.GossipAddr)
	}

	if len(addrs) == 0 {
		addrs = append(addrs, e.seedAddrs()...)
	} else if len(e.cfg.Seeds) > 0 && rand.IntN(10) == 0 {
		addrs = append(addrs, e.cfg.Seeds[rand.IntN(len(e.cfg.Seeds))])
	}

	rand.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })
	if len(addrs) > e.cfg.Fanout {
		addrs = addrs[:e.cfg.Fanout]
	}
	return addrs
}

func (e *Engine) seedAddrs() []string {
	var out []string
	for _, s := range e.cfg.Seeds {
		if s != e.store.Self().GossipAddr {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) runInbound(ctx context.Context) error {
	for {
		from, payload, _, err := e.sock.Recv(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, transport.ErrClosed):
				return err
			default:
				// Unverifiable or garbled datagram: count and move on.
				metrics.GossipMessageErrors.WithLabelValues("envelope").Inc()
				continue
			}
		}
		e.handle(ctx, from, payload)
	}
}

func (e *Engine) handle(ctx context.Context, from string, payload []byte) {
	msg, err := decodeMessage(payload)
	if err != nil {
		metrics.GossipMessageErrors.WithLabelValues("decode").Inc()
		slog.Debug("dropping undecodable gossip message", "from", from, "error", err)
		return
	}
	if msg.ClusterID != e.cfg.ClusterID {
		metrics.GossipMessageErrors.WithLabelValues("cluster_id").Inc()
		slog.Debug("dropping message from foreign cluster",
			"from", from, "cluster", msg.ClusterID)
		return
	}
	metrics.GossipMessagesTotal.WithLabelValues("received", kindName(msg.Kind)).Inc()

	// The sender proved liveness at its stated incarnation.
	e.members.Observe(msg.From)

	switch msg.Kind {
	case kindSyn:
		reply := message{
			Kind:      kindSynAck,
			ClusterID: e.cfg.ClusterID,
			From:      e.store.Self(),
			Digest:    e.store.Digest(),
		}
		reply.Delta = e.store.EntriesSince(msg.Digest, e.deltaBudget(reply))
		e.send(ctx, from, reply)
	case kindSynAck:
		e.merge(msg.Delta)
		reply := message{
			Kind:      kindAck,
			ClusterID: e.cfg.ClusterID,
			From:      e.store.Self(),
		}
		reply.Delta = e.store.EntriesSince(msg.Digest, e.deltaBudget(reply))
		e.send(ctx, from, reply)
	case kindAck:
		e.merge(msg.Delta)
	}
}

// envelopeOverhead covers the signed envelope (key, signature, framing) and
// the CBOR array framing of a full delta, with slack.
const envelopeOverhead = 512

// deltaBudget is the encoded byte budget left for the delta once the
// message header and the envelope are accounted for. A reply carrying a
// large digest gets a correspondingly smaller delta; the remainder ships
// on later rounds. A non-positive budget means no entry fits.
func (e *Engine) deltaBudget(header message) int {
	raw, err := encodeMessage(header)
	if err != nil {
		return -1
	}
	return e.cfg.MaxDatagram - len(raw) - envelopeOverhead
}

// merge applies a received delta and lets membership discover any node the
// delta mentions. Discovery through gossip is hearing about, not from, a
// node, so it goes through the hearsay path: relayed copies of old entries
// never refresh liveness, only a strictly newer incarnation revives a
// suspect or a dead peer.
func (e *Engine) merge(delta []cluster.KeyedEntry) {
	if len(delta) == 0 {
		return
	}
	applied := e.store.MergeRemote(delta)
	if len(applied) == 0 {
		return
	}
	metrics.GossipEntriesMerged.Add(float64(len(applied)))
	for _, entry := range applied {
		e.members.ObserveIndirect(entry.Node)
	}
	e.notify()
}

func (e *Engine) send(ctx context.Context, to string, msg message) {
	raw, err := encodeMessage(msg)
	if err != nil {
		slog.Error("failed to encode gossip message", "error", err)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.GossipInterval)
	defer cancel()
	if err := e.sock.Send(sendCtx, to, raw); err != nil {
		// Best effort; the failure detector notices persistent outages.
		slog.Debug("gossip send failed", "to", to, "error", err)
		return
	}
	metrics.GossipMessagesTotal.WithLabelValues("sent", kindName(msg.Kind)).Inc()
}

func (e *Engine) runSweeper(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			changed := e.members.Sweep()
			for _, rec := range changed {
				slog.Info("peer phase changed",
					"peer", rec.Node.Name,
					"incarnation", rec.Node.Incarnation,
					"phase", rec.Phase.String(),
				)
			}
			e.updateGauges()
			if len(changed) > 0 {
				e.notify()
			}
		}
	}
}

func (e *Engine) updateGauges() {
	counts := map[cluster.Phase]int{}
	for _, rec := range e.members.Records() {
		counts[rec.Phase]++
	}
	for _, phase := range []cluster.Phase{cluster.Alive, cluster.Suspect, cluster.Dead} {
		metrics.ClusterNodesTotal.WithLabelValues(phase.String()).Set(float64(counts[phase]))
	}
	metrics.ClusterEntriesTotal.Set(float64(e.store.Len()))
}

func kindName(kind uint8) string {
	switch kind {
	case kindSyn:
		return "syn"
	case kindSynAck:
		return "syn_ack"
	case kindAck:
		return "ack"
	default:
		return "unknown"
	}
}
