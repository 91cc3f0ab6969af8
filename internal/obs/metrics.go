// Package obs exposes Prometheus metrics for the ingestion and execution
// pipeline. Collectors are registered on the default registry; cmd/trader
// serves them over promhttp.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WatcherEvents counts consumed events per stream and disposition.
	WatcherEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "watch",
		Name:      "events_total",
		Help:      "Events consumed by watchers, by disposition.",
	}, []string{"watcher", "disposition"})

	// WatcherRestarts counts transport failures that triggered backoff.
	WatcherRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "watch",
		Name:      "restarts_total",
		Help:      "Watcher restarts due to transport errors.",
	}, []string{"watcher"})

	// WatcherCursorResets counts invalid-cursor resubscriptions.
	WatcherCursorResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "watch",
		Name:      "cursor_resets_total",
		Help:      "Resume cursor resets after invalid-cursor errors.",
	}, []string{"watcher"})

	// Decisions counts decision engine outcomes.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "decision",
		Name:      "outcomes_total",
		Help:      "Signal decisions by outcome.",
	}, []string{"outcome"})

	// OrdersPlaced counts orders by broker and terminal status.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "execution",
		Name:      "orders_total",
		Help:      "Orders submitted to brokers, by resulting status.",
	}, []string{"broker", "status"})

	// OpenPositions tracks currently open ledger positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pipeline",
		Subsystem: "ledger",
		Name:      "open_positions",
		Help:      "Number of open positions in the ledger.",
	})

	// AllocationVersion tracks the currently approved allocation version.
	AllocationVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pipeline",
		Subsystem: "allocation",
		Name:      "version",
		Help:      "Version of the current allocation snapshot.",
	})

	// AccountPolls counts broker account polls by trigger path.
	AccountPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Subsystem: "poller",
		Name:      "polls_total",
		Help:      "Broker account polls, scheduled and event-driven.",
	}, []string{"account", "trigger"})
)
