// Package metrics exposes Prometheus counters for the sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors. All fields are safe for concurrent
// use.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	CommitsTotal      prometheus.Counter
	BroadcastsTotal   prometheus.Counter
	SaveDropsTotal    prometheus.Counter
	SaveFailuresTotal prometheus.Counter
}

// New registers the collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "boardsync",
			Name:      "connections_total",
			Help:      "Accepted websocket connections.",
		}),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "boardsync",
			Name:      "connections_active",
			Help:      "Currently open websocket connections.",
		}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardsync",
			Name:      "messages_total",
			Help:      "Inbound messages by type.",
		}, []string{"type"}),
		CommitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "boardsync",
			Name:      "stroke_commits_total",
			Help:      "Strokes committed to room logs.",
		}),
		BroadcastsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "boardsync",
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to room members.",
		}),
		SaveDropsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "boardsync",
			Name:      "snapshot_save_drops_total",
			Help:      "Snapshot saves dropped because the writer queue was full.",
		}),
		SaveFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "boardsync",
			Name:      "snapshot_save_failures_total",
			Help:      "Snapshot writes that returned an error.",
		}),
	}
}

// NewNop returns collectors bound to a private registry, for tests and
// callers that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
