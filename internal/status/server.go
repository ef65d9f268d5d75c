// Package status serves the node's operational HTTP surface: Prometheus
// metrics, liveness, the raw cluster view, the readiness verdict and a
// preview of the zerostate that would be produced right now.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dnspd/internal/cluster"
	"dnspd/internal/gossip"
	"dnspd/internal/readiness"
	"dnspd/internal/zerostate"
)

type Server struct {
	httpServer *http.Server
}

type nodeView struct {
	Node    cluster.NodeID                    `json:"node"`
	Phase   string                            `json:"phase"`
	Entries map[string]cluster.VersionedValue `json:"entries"`
}

func NewServer(addr, clusterID string, engine *gossip.Engine, watcher *readiness.Watcher) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		store := engine.Store()
		members := engine.Membership()
		snap := store.Snapshot()
		views := make([]nodeView, 0, len(snap))
		for _, ns := range snap {
			phase := cluster.Alive
			if ns.Node.Name != store.Self().Name {
				phase = members.PhaseOf(ns.Node.Name)
			}
			views = append(views, nodeView{
				Node:    ns.Node,
				Phase:   phase.String(),
				Entries: ns.Entries,
			})
		}
		writeJSON(w, views)
	})
	mux.HandleFunc("/readiness", func(w http.ResponseWriter, r *http.Request) {
		state := watcher.Current()
		if !state.GloballyReady {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, state)
	})
	mux.HandleFunc("/zerostate", func(w http.ResponseWriter, r *http.Request) {
		state := watcher.Evaluate()
		doc := zerostate.Build(clusterID, engine.Store().Snapshot(), state)
		writeJSON(w, doc)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("status response encode error", "error", err)
	}
}

func (s *Server) Start() error {
	slog.Info("status server starting", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("status server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("status server shutdown error", "error", err)
	}
	slog.Info("status server stopped")
}
