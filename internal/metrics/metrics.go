package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poller metrics

	// PollCyclesTotal tracks completed poll cycles by outcome.
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Total poll cycles, by outcome",
		},
		[]string{"outcome"}, // success, skipped, auth_error, storage_error
	)

	// PollCycleDuration tracks wall-clock time of one poll cycle.
	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seedwatch",
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Time to complete one user's poll cycle",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// PollRulesEvaluated tracks rule evaluations performed per cycle.
	PollRulesEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "poller",
			Name:      "rules_evaluated_total",
			Help:      "Total rule evaluations performed across all poll cycles",
		},
	)

	// PollActionsDispatched tracks actions dispatched as a result of rule matches.
	PollActionsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "poller",
			Name:      "actions_dispatched_total",
			Help:      "Total actions dispatched by rule evaluation, by action type and result",
		},
		[]string{"action_type", "result"}, // result: succeeded, failed
	)

	// PollNonTerminalItems tracks the non-terminal item count observed per cycle.
	PollNonTerminalItems = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seedwatch",
			Subsystem: "poller",
			Name:      "non_terminal_items",
			Help:      "Non-terminal item count observed at the end of a poll cycle",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// Scheduler metrics

	// SchedulerRunningPolls tracks the current in-flight poll count.
	SchedulerRunningPolls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seedwatch",
			Subsystem: "scheduler",
			Name:      "running_polls",
			Help:      "Number of poll tasks currently in flight",
		},
	)

	// SchedulerDueUsers tracks the size of the due-users list on each tick.
	SchedulerDueUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seedwatch",
			Subsystem: "scheduler",
			Name:      "due_users",
			Help:      "Number of users due for polling as of the last tick",
		},
	)

	// SchedulerTicksSkipped tracks ticks skipped because the prior tick was still running.
	SchedulerTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Total scheduler ticks skipped because the previous tick had not finished",
		},
	)

	// SchedulerCapSaturated tracks how often a due user was deferred due to the concurrency cap.
	SchedulerCapSaturated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "scheduler",
			Name:      "cap_saturated_total",
			Help:      "Total times a due user was deferred to the next tick because the concurrency cap was reached",
		},
	)

	// External API client metrics

	// APIRequestsTotal tracks outbound requests to the external download service.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "apiclient",
			Name:      "requests_total",
			Help:      "Total requests to the external download-service API",
		},
		[]string{"endpoint", "status_class"}, // status_class: 2xx, 4xx, 5xx, error
	)

	// APIRequestDuration tracks external API request duration.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seedwatch",
			Subsystem: "apiclient",
			Name:      "request_duration_seconds",
			Help:      "External API request duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	// APICircuitBreakerState tracks the per-user circuit breaker state.
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	APICircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "seedwatch",
			Subsystem: "apiclient",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"auth_id"},
	)

	// APICircuitBreakerTrips tracks circuit breaker trip events.
	APICircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "apiclient",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total circuit breaker trip events",
		},
		[]string{"auth_id"},
	)

	// APIRateLimitWaits tracks how often an outbound call waited on the rate limiter.
	APIRateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "apiclient",
			Name:      "rate_limit_waits_total",
			Help:      "Total outbound requests that had to wait for the process-wide rate limiter",
		},
	)

	// Registry metrics

	// RegistryCacheHits tracks registry cache hit/miss outcomes.
	RegistryCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "registry",
			Name:      "cache_lookups_total",
			Help:      "Total registry cache lookups, by hit or miss",
		},
		[]string{"result"}, // hit, miss
	)

	// RegistryActiveUsers tracks the active, has-active-rules registry row count.
	RegistryActiveUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seedwatch",
			Subsystem: "registry",
			Name:      "active_users",
			Help:      "Number of registry rows with status=active and has_active_rules=true",
		},
	)

	// Ops HTTP metrics

	// HTTPRequestsTotal tracks ops HTTP surface requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seedwatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total ops HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks ops HTTP surface request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seedwatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Ops HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// CircuitBreakerState constants, matching gobreaker's state ordering.
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
