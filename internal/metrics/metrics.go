// Package metrics declares the Prometheus collectors the FG-ECMP
// manager exposes, grounded on cuemby/warren's pkg/metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BucketsRewrittenTotal counts individual HAL bucket writes (member
	// creation or set-attribute), labeled by reason: "initial_spray",
	// "warm_restart" or "rebalance".
	BucketsRewrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fgnhgorch_buckets_rewritten_total",
			Help: "Total number of HAL bucket writes (member create or set-attribute) issued.",
		},
		[]string{"reason"},
	)

	// HALCallDuration observes HAL driver call latency by method.
	HALCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fgnhgorch_hal_call_duration_seconds",
			Help:    "Latency of HAL driver calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ActiveGroups is the number of HAL groups currently backing shadow
	// routes (one per HAL-backed route).
	ActiveGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fgnhgorch_active_groups",
			Help: "Number of HAL-backed fine-grained ECMP groups.",
		},
	)

	// RIFFallbackRoutes is the number of shadow routes currently
	// collapsed to RIF (no active next hop).
	RIFFallbackRoutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fgnhgorch_rif_fallback_routes",
			Help: "Number of FG routes currently pointed at a router interface.",
		},
	)

	// DeferredQueueDepth tracks each config table's retry queue depth.
	DeferredQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fgnhgorch_deferred_queue_depth",
			Help: "Depth of the deferred-retry queue per config table.",
		},
		[]string{"table"},
	)

	// JournalRecords is the number of bucket records currently held in
	// the warm-restart journal.
	JournalRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fgnhgorch_journal_records",
			Help: "Number of bucket assignment records in the warm-restart journal.",
		},
	)

	// GroupMemberUsage is the HAL resource counter for group members
	// in lockstep with CreateMember/DestroyMember, per spec.md §4.5.
	GroupMemberUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fgnhgorch_hal_group_member_usage",
			Help: "Count of HAL member objects currently allocated per group.",
		},
		[]string{"group"},
	)
)

// Registry is the manager's private Prometheus registry; kept separate
// from the global default registry so tests can construct isolated
// instances without colliding on re-registration.
func NewRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		BucketsRewrittenTotal,
		HALCallDuration,
		ActiveGroups,
		RIFFallbackRoutes,
		DeferredQueueDepth,
		JournalRecords,
		GroupMemberUsage,
	)
	return r
}

// Handler returns the promhttp handler for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
