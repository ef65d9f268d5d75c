package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dnspd/internal/cluster"
	"dnspd/internal/configuration"
	"dnspd/internal/gossip"
	"dnspd/internal/journal"
	"dnspd/internal/license"
	"dnspd/internal/logging"
	"dnspd/internal/readiness"
	"dnspd/internal/seeds"
	"dnspd/internal/status"
	"dnspd/internal/transport"
	"dnspd/internal/update"
	"dnspd/internal/zerostate"
)

// buildVersion is stamped by the release pipeline via -ldflags.
var buildVersion = "0.0.0-dev"

func main() {
	configPath := flag.String("config", "dnspd.yml", "path to the node configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	cfg, err := configuration.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	signingKey, err := cfg.SigningKey()
	if err != nil {
		slog.Error("Failed to load signing key", "error", err)
		os.Exit(1)
	}

	jrnl, replay, err := journal.Open(cfg.Journal.Dir, cfg.Journal.NoSync)
	if err != nil {
		slog.Error("Failed to open state journal", "error", err, "dir", cfg.Journal.Dir)
		os.Exit(1)
	}
	defer jrnl.Close()

	// Wall clock normally moves past the journaled incarnation on its own;
	// the bump covers quick restarts and clocks that went backwards.
	incarnation := uint64(time.Now().Unix())
	if incarnation <= replay.Incarnation {
		incarnation = replay.Incarnation + 1
	}
	self := cluster.NewNodeID(cfg.App.NodeName, cfg.Gossip.Advertise(), incarnation)

	logging.Init(cfg.App.LogLevel, self.Name)
	slog.Info("Starting igniter node...",
		"version", buildVersion,
		"cluster", cfg.App.ClusterID,
		"incarnation", self.Incarnation,
	)

	if err := jrnl.AppendIncarnation(incarnation); err != nil {
		slog.Error("Failed to journal incarnation", "error", err)
		os.Exit(1)
	}

	// Check our own delegations before announcing them; a node publishing
	// claims its peers will reject is misconfigured, not unlucky.
	verifier := &license.Verifier{
		IssuerPubkey: cfg.Readiness.IssuerPubkey,
		NodePubkey:   cfg.Keys.WalletPubkey,
		BlsPubkey:    cfg.Keys.BlsPubkey,
		MaxAge:       cfg.Readiness.MaxClaimAgeDuration(),
		MaxSkew:      cfg.Readiness.MaxClockSkewDuration(),
	}
	claims, err := verifier.CheckAll(cfg.Licenses)
	if err != nil {
		slog.Error("Local license delegations failed verification", "error", err)
		os.Exit(1)
	}

	store := cluster.NewStore(self)
	for _, e := range replay.Entries {
		store.SeedLocal(e.Key, e.Value, e.Version)
	}

	publish := func(key, value string) {
		entry := store.SetLocal(key, value)
		if err := jrnl.AppendEntry(entry.Key, entry.Value, entry.Version); err != nil {
			slog.Warn("Failed to journal local entry", "key", key, "error", err)
		}
	}
	publishClaims := func(claims []license.Claim) {
		for _, claim := range claims {
			value, err := claim.Encode()
			if err != nil {
				slog.Error("Failed to encode license claim", "license", claim.LicenseID, "error", err)
				os.Exit(1)
			}
			publish(claim.Key(), value)
		}
	}

	publish(gossip.KeyPubkey, cfg.Keys.WalletPubkey)
	publish(gossip.KeyBlsPubkey, cfg.Keys.BlsPubkey)
	publish(gossip.KeyVersion, buildVersion)
	if len(cfg.Proxies) > 0 {
		proxies, _ := json.Marshal(cfg.Proxies)
		publish(gossip.KeyProxies, string(proxies))
	}
	publishClaims(claims)

	peers, err := resolveSeeds(ctx, cfg, self)
	if err != nil {
		slog.Error("Failed to resolve seed peers", "error", err)
		os.Exit(1)
	}
	slog.Info("Seed peers resolved", "count", len(peers))

	engine, err := gossip.NewEngine(gossip.Config{
		ClusterID:      cfg.App.ClusterID,
		GossipInterval: cfg.Gossip.IntervalDuration(),
		Fanout:         cfg.Gossip.Fanout,
		SuspectTimeout: cfg.Gossip.SuspectTimeoutDuration(),
		DeadTimeout:    cfg.Gossip.DeadTimeoutDuration(),
		MaxDatagram:    cfg.Gossip.MaxDatagram,
		Seeds:          peers,
	}, store, &transport.UDP{MaxDatagram: cfg.Gossip.MaxDatagram}, signingKey, cfg.Gossip.ListenAddr)
	if err != nil {
		slog.Error("Failed to start gossip engine", "error", err)
		os.Exit(1)
	}

	policy := readiness.Policy{
		MinLicenses:  cfg.Readiness.MinLicenses,
		IssuerPubkey: cfg.Readiness.IssuerPubkey,
		MaxClaimAge:  cfg.Readiness.MaxClaimAgeDuration(),
		MaxClockSkew: cfg.Readiness.MaxClockSkewDuration(),
	}
	watcher := readiness.NewWatcher(engine, policy, cfg.Readiness.IntervalDuration())
	watcher.OnReady = func(state readiness.State) {
		doc := zerostate.Build(cfg.App.ClusterID, engine.Store().Snapshot(), state)
		wrote, err := zerostate.WriteOnce(cfg.App.Zerostate, doc)
		if err != nil {
			slog.Error("Failed to write zerostate", "path", cfg.App.Zerostate, "error", err)
			return
		}
		if wrote {
			slog.Info("Zerostate written",
				"path", cfg.App.Zerostate,
				"participants", len(doc.Participants),
				"licenses", doc.Licenses,
			)
		}
	}

	controller := update.NewController(store,
		&update.ExecUpdater{Command: cfg.Update.Command, Timeout: cfg.Update.TimeoutDuration()},
		buildVersion, cfg.Update.Auto && len(cfg.Update.Command) > 0, cfg.Update.IntervalDuration())

	reloader := configuration.NewWatcher(*configPath, 10*time.Second, func(next *configuration.Properties) {
		// Only license delegations and proxies take effect live; anything
		// else needs a restart to rebind sockets and identities.
		nextClaims, err := verifier.CheckAll(next.Licenses)
		if err != nil {
			slog.Error("Reloaded license delegations failed verification, keeping current set", "error", err)
			return
		}
		// Claims dropped from the config are withdrawn: the key is kept
		// but published empty, so peers that already hold the old claim
		// see the retraction instead of a silently frozen value.
		kept := make(map[string]bool, len(nextClaims))
		for _, claim := range nextClaims {
			kept[claim.Key()] = true
		}
		if own, ok := store.Snapshot().Find(self.Name); ok {
			for key, vv := range own.Entries {
				if license.IsClaimKey(key) && vv.Value != "" && !kept[key] {
					slog.Info("Withdrawing license claim", "key", key)
					publish(key, "")
				}
			}
		}
		publishClaims(nextClaims)
		if len(next.Proxies) > 0 {
			proxies, _ := json.Marshal(next.Proxies)
			publish(gossip.KeyProxies, string(proxies))
		}
	})

	api := status.NewServer(cfg.App.APIAddr, cfg.App.ClusterID, engine, watcher)
	if err := api.Start(); err != nil {
		slog.Error("Failed to start status server", "error", err)
		os.Exit(1)
	}

	if len(cfg.Seeds.Etcd.Endpoints) > 0 {
		etcdSrc := etcdSource(cfg)
		if err := etcdSrc.Announce(ctx, self.Name, self.GossipAddr); err != nil {
			slog.Warn("Failed to announce node in etcd", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error { return reloader.Run(gctx) })

	slog.Info("Igniter node ready", "gossip", cfg.Gossip.ListenAddr, "api", cfg.App.APIAddr)
	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("Node stopped with error", "error", err)
	}

	api.Stop()
	slog.Info("Shutting down node...")
}

func etcdSource(cfg *configuration.Properties) *seeds.Etcd {
	return &seeds.Etcd{
		Endpoints:   cfg.Seeds.Etcd.Endpoints,
		Prefix:      cfg.Seeds.Etcd.Prefix,
		DialTimeout: cfg.Seeds.Etcd.DialTimeoutDuration(),
		LeaseTTL:    cfg.Seeds.Etcd.LeaseTTL,
	}
}

func resolveSeeds(ctx context.Context, cfg *configuration.Properties, self cluster.NodeID) ([]string, error) {
	var sources []seeds.Source
	if len(cfg.Seeds.Static) > 0 {
		sources = append(sources, seeds.Static(cfg.Seeds.Static))
	}
	if cfg.Seeds.URL != "" {
		sources = append(sources, &seeds.HTTP{URL: cfg.Seeds.URL})
	}
	if len(cfg.Seeds.Etcd.Endpoints) > 0 {
		sources = append(sources, etcdSource(cfg))
	}
	return seeds.Collect(ctx, self.GossipAddr, sources...)
}
