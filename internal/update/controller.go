// Package update watches the converged "version/latest" gossip key and,
// when the network knows a newer build than the one running, hands the
// target version to the external updater. Gossip processing is never
// blocked by an update in flight.
package update

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coreos/go-semver/semver"

	"dnspd/internal/cluster"
	"dnspd/internal/gossip"
	"dnspd/internal/metrics"
)

type snapshotter interface {
	Snapshot() cluster.Snapshot
}

// Controller compares the highest announced version against the local
// build on an independent timer. With AutoUpdate disabled it only surfaces
// the discrepancy.
type Controller struct {
	store        snapshotter
	updater      Updater
	buildVersion string
	autoUpdate   bool
	interval     time.Duration

	applying atomic.Bool
}

func NewController(store snapshotter, updater Updater, buildVersion string, autoUpdate bool, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Controller{
		store:        store,
		updater:      updater,
		buildVersion: buildVersion,
		autoUpdate:   autoUpdate,
		interval:     interval,
	}
}

func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check performs one comparison and, if allowed, kicks off the updater in
// the background. A failed apply is logged and retried on the next tick.
func (c *Controller) Check(ctx context.Context) {
	latest, ok := c.latestAnnounced()
	if !ok {
		metrics.UpdateChecksTotal.WithLabelValues("no_announcement").Inc()
		return
	}
	current, err := semver.NewVersion(c.buildVersion)
	if err != nil {
		slog.Warn("local build version is not semver, skipping update check",
			"version", c.buildVersion, "error", err)
		metrics.UpdateChecksTotal.WithLabelValues("bad_local_version").Inc()
		return
	}
	if !current.LessThan(*latest) {
		metrics.UpdateAvailable.Set(0)
		metrics.UpdateChecksTotal.WithLabelValues("up_to_date").Inc()
		return
	}

	metrics.UpdateAvailable.Set(1)
	if !c.autoUpdate {
		slog.Warn("newer version announced but auto-update is disabled",
			"current", current.String(), "latest", latest.String())
		metrics.UpdateChecksTotal.WithLabelValues("disabled").Inc()
		return
	}
	if !c.applying.CompareAndSwap(false, true) {
		// Previous apply still running.
		metrics.UpdateChecksTotal.WithLabelValues("in_flight").Inc()
		return
	}

	metrics.UpdateChecksTotal.WithLabelValues("apply").Inc()
	slog.Info("applying update", "current", current.String(), "target", latest.String())
	target := latest.String()
	go func() {
		defer c.applying.Store(false)
		if err := c.updater.Apply(ctx, target); err != nil {
			slog.Error("update failed, will retry on next check", "target", target, "error", err)
		}
	}()
}

// latestAnnounced scans every node's "version/latest" entry and returns
// the highest parseable semver. Unparseable announcements are ignored;
// any peer may relay the release feed.
func (c *Controller) latestAnnounced() (*semver.Version, bool) {
	var latest *semver.Version
	for _, ns := range c.store.Snapshot() {
		vv, ok := ns.Entries[gossip.KeyLatestVersion]
		if !ok {
			continue
		}
		v, err := semver.NewVersion(vv.Value)
		if err != nil {
			slog.Debug("ignoring unparseable version announcement",
				"node", ns.Node.Name, "value", vv.Value)
			continue
		}
		if latest == nil || latest.LessThan(*v) {
			latest = v
		}
	}
	return latest, latest != nil
}
