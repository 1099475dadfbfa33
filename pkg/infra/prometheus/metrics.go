package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	// Labels identifying which guard produced the observation.
	guardLabels = []string{"guard"}

	GuardRejectionsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_guard_rejections_total",
			Help: "Total number of requests rejected by a guard",
		},
		append(guardLabels, "reason"),
	)

	GuardChecksTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_guard_checks_total",
			Help: "Total number of guard checks performed",
		},
		guardLabels,
	)

	RateLimitDenialsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_rate_limit_denials_total",
			Help: "Total number of calls denied by the rate limiter",
		},
		[]string{"operation"},
	)

	RedactedFieldsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_redacted_fields_total",
			Help: "Total number of fields removed from engine responses",
		},
		[]string{"command"},
	)

	TruncatedResultsTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "scout_truncated_results_total",
			Help: "Total number of result sets truncated to the byte budget",
		},
	)
)

// Registry exposes the private registry for the metrics endpoint.
func Registry() *prometheus.Registry {
	return registry
}
