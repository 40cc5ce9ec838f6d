// Package metrics provides Prometheus collectors for the machine worker and
// its ingress handlers. Collectors register with the default registry and are
// served by the API's /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "machine"

// ─── Worker ─────────────────────────────────────────────────────────────────

// PiecesStarted counts pieces that entered WORKING.
var PiecesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "pieces_started_total",
	Help:      "Total pieces that started manufacturing.",
}, []string{"type"})

// PiecesFinished counts pieces that reached DONE.
var PiecesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "pieces_finished_total",
	Help:      "Total pieces manufactured successfully.",
}, []string{"type"})

// PiecesFailed counts pieces that reached FAILED.
var PiecesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "pieces_failed_total",
	Help:      "Total pieces whose manufacturing failed.",
}, []string{"type"})

// PiecesDiscarded counts stale queue entries skipped during revalidation.
var PiecesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "pieces_discarded_total",
	Help:      "Queue entries discarded by revalidation.",
}, []string{"reason"})

// QueueDepth tracks entries waiting in the in-memory work queue.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "queue_depth",
	Help:      "Entries waiting in the work queue.",
})

// PieceDuration tracks time spent manufacturing a piece.
var PieceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "piece_duration_seconds",
	Help:      "Time from WORKING to a terminal status.",
	Buckets:   []float64{0.01, 0.1, 1, 5, 10, 15, 20, 30, 60},
})

// ─── Ingress ────────────────────────────────────────────────────────────────

// IngressRequests counts inbound requests by kind and outcome.
var IngressRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "ingress_requests_total",
	Help:      "Inbound produce, cancel and public key requests.",
}, []string{"kind", "result"})
