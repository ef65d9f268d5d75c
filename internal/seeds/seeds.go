// Package seeds resolves the initial peer list a node contacts before
// gossip has taught it anything. Sources are additive; the node only
// refuses to start when every configured source produced nothing.
package seeds

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"dnspd/internal/metrics"
)

// Source yields gossip addresses of candidate peers.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// Collect queries every source, deduplicates the results and drops the
// node's own address. Individual source failures are logged and counted;
// Collect fails only when no source yielded a peer.
func Collect(ctx context.Context, selfAddr string, sources ...Source) ([]string, error) {
	seen := make(map[string]struct{})
	var peers []string

	for _, src := range sources {
		addrs, err := src.Fetch(ctx)
		if err != nil {
			slog.Warn("seed source failed", "source", src.Name(), "error", err)
			metrics.SeedFetchesTotal.WithLabelValues(src.Name(), "error").Inc()
			continue
		}
		metrics.SeedFetchesTotal.WithLabelValues(src.Name(), "ok").Inc()
		for _, addr := range addrs {
			if addr == "" || addr == selfAddr {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			peers = append(peers, addr)
		}
	}

	if len(peers) == 0 {
		return nil, fmt.Errorf("no seed peers resolved from %d source(s)", len(sources))
	}
	sort.Strings(peers)
	return peers, nil
}

// Static serves addresses straight from configuration.
type Static []string

func (Static) Name() string { return "static" }

func (s Static) Fetch(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// HTTP fetches a YAML list of gossip addresses from a published URL,
// the way hosted networks distribute their bootstrap set.
type HTTP struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func (*HTTP) Name() string { return "http" }

func (h *HTTP) Fetch(ctx context.Context) ([]string, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build seed request: %w", err)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch seed list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch seed list: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read seed list: %w", err)
	}

	var addrs []string
	if err := yaml.Unmarshal(body, &addrs); err != nil {
		return nil, fmt.Errorf("parse seed list: %w", err)
	}
	return addrs, nil
}
