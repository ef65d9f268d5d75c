package readiness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dnspd/internal/gossip"
	"dnspd/internal/metrics"
)

// Watcher re-evaluates readiness whenever the gossip engine reports a store
// mutation, plus on a slow periodic tick as a safety net for claim expiry.
// Readiness is not sticky: it can regress, and the watcher logs both
// directions. OnReady fires on every false-to-true transition.
type Watcher struct {
	engine   *gossip.Engine
	policy   Policy
	interval time.Duration

	// OnReady is invoked outside the watcher lock; it must be fast or
	// spawn its own work.
	OnReady func(State)

	mu   sync.Mutex
	last State
}

func NewWatcher(engine *gossip.Engine, policy Policy, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Watcher{engine: engine, policy: policy, interval: interval}
}

// Current returns the most recent evaluation.
func (w *Watcher) Current() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Evaluate recomputes immediately from a fresh snapshot.
func (w *Watcher) Evaluate() State {
	state := Evaluate(w.engine.Store().Snapshot(), w.engine.Membership().Records(), w.policy)
	metrics.ReadinessEvaluations.Inc()
	metrics.ReadinessValidLicenses.Set(float64(state.ValidLicenses))
	metrics.ReadinessConflicts.Set(float64(state.Conflicts))
	if state.GloballyReady {
		metrics.ReadinessReady.Set(1)
	} else {
		metrics.ReadinessReady.Set(0)
	}

	w.mu.Lock()
	was := w.last.GloballyReady
	w.last = state
	w.mu.Unlock()

	switch {
	case !was && state.GloballyReady:
		slog.Info("bootstrap conditions met",
			"valid_licenses", state.ValidLicenses,
			"threshold", w.policy.MinLicenses,
		)
		if w.OnReady != nil {
			w.OnReady(state)
		}
	case was && !state.GloballyReady:
		slog.Warn("bootstrap readiness regressed",
			"valid_licenses", state.ValidLicenses,
			"conflicts", state.Conflicts,
			"uncovered", state.UncoveredAlive,
		)
	}
	return state
}

func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.engine.Changes():
			w.Evaluate()
		case <-ticker.C:
			w.Evaluate()
		}
	}
}
