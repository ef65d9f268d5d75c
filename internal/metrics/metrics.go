package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GossipRoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dnspd",
		Subsystem: "gossip",
		Name:      "rounds_total",
		Help:      "Total gossip rounds started",
	})

	GossipMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dnspd",
		Subsystem: "gossip",
		Name:      "messages_total",
		Help:      "Total gossip messages sent/received",
	}, []string{"direction", "kind"})

	GossipMessageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dnspd",
		Subsystem: "gossip",
		Name:      "message_errors_total",
		Help:      "Inbound gossip messages dropped before processing",
	}, []string{"reason"})

	GossipEntriesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dnspd",
		Subsystem: "gossip",
		Name:      "entries_merged_total",
		Help:      "Remote entries applied to the cluster state store",
	})

	ClusterNodesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dnspd",
		Subsystem: "cluster",
		Name:      "nodes_total",
		Help:      "Known nodes by failure-detector phase",
	}, []string{"phase"})

	ClusterEntriesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dnspd",
		Subsystem: "cluster",
		Name:      "entries_total",
		Help:      "Entries in the cluster state store",
	})

	ReadinessReady = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dnspd",
		Subsystem: "readiness",
		Name:      "globally_ready",
		Help:      "Whether the bootstrap conditions are met (1=ready)",
	})

	ReadinessValidLicenses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dnspd",
		Subsystem: "readiness",
		Name:      "valid_licenses",
		Help:      "Distinct valid, non-conflicting licenses network-wide",
	})

	ReadinessConflicts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dnspd",
		Subsystem: "readiness",
		Name:      "conflicting_licenses",
		Help:      "Licenses currently claimed by more than one node",
	})

	ReadinessEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dnspd",
		Subsystem: "readiness",
		Name:      "evaluations_total",
		Help:      "Readiness evaluations performed",
	})

	UpdateChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dnspd",
		Subsystem: "update",
		Name:      "checks_total",
		Help:      "Update checks by outcome",
	}, []string{"outcome"})

	UpdateAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dnspd",
		Subsystem: "update",
		Name:      "available",
		Help:      "Whether a newer version than the running build is known (1=yes)",
	})

	JournalRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dnspd",
		Subsystem: "journal",
		Name:      "records_total",
		Help:      "Records appended to the local state journal",
	})

	SeedFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dnspd",
		Subsystem: "seeds",
		Name:      "fetches_total",
		Help:      "Seed list fetches by source and outcome",
	}, []string{"source", "outcome"})
)
