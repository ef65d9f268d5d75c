package configuration

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Watcher polls the config file's mtime and reloads it when it changes,
// so operators can add license delegations or rotate the seed list without
// restarting the node. A reload that fails validation is discarded and the
// running configuration stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(*Properties)

	lastMod time.Time
}

func NewWatcher(path string, interval time.Duration, onReload func(*Properties)) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	w := &Watcher{path: path, interval: interval, onReload: onReload}
	if info, err := os.Stat(path); err == nil {
		w.lastMod = info.ModTime()
	}
	return w
}

func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config file unreadable, keeping running configuration",
			"path", w.path, "error", err)
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	cfg, err := Load(w.path)
	if err != nil {
		slog.Error("config reload rejected, keeping running configuration",
			"path", w.path, "error", err)
		return
	}
	slog.Info("configuration reloaded", "path", w.path)
	w.onReload(cfg)
}
