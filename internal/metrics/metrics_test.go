package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// === Poller Metrics Tests ===

func TestPollCyclesTotal_Labels(t *testing.T) {
	PollCyclesTotal.WithLabelValues("success").Inc()
	PollCyclesTotal.WithLabelValues("skipped").Inc()
	PollCyclesTotal.WithLabelValues("auth_error").Inc()
	PollCyclesTotal.WithLabelValues("storage_error").Inc()

	counter := PollCyclesTotal.WithLabelValues("success")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestPollCycleDuration_Observe(t *testing.T) {
	durations := []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0}
	for _, d := range durations {
		PollCycleDuration.Observe(d)
	}
}

func TestPollRulesEvaluated_Counter(t *testing.T) {
	PollRulesEvaluated.Add(3)
	desc := PollRulesEvaluated.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

func TestPollActionsDispatched_Labels(t *testing.T) {
	PollActionsDispatched.WithLabelValues("stop_seeding", "succeeded").Inc()
	PollActionsDispatched.WithLabelValues("force_start", "failed").Inc()

	counter := PollActionsDispatched.WithLabelValues("stop_seeding", "succeeded")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestPollNonTerminalItems_Observe(t *testing.T) {
	PollNonTerminalItems.Observe(0)
	PollNonTerminalItems.Observe(12)
	PollNonTerminalItems.Observe(300)
}

// === Scheduler Metrics Tests ===

func TestSchedulerRunningPolls_Gauge(t *testing.T) {
	SchedulerRunningPolls.Set(5)
	SchedulerRunningPolls.Inc()
	SchedulerRunningPolls.Dec()
	SchedulerRunningPolls.Add(2)
	SchedulerRunningPolls.Sub(1)

	desc := SchedulerRunningPolls.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

func TestSchedulerDueUsers_Gauge(t *testing.T) {
	SchedulerDueUsers.Set(42)
	desc := SchedulerDueUsers.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

func TestSchedulerTicksSkipped_Counter(t *testing.T) {
	SchedulerTicksSkipped.Inc()
	desc := SchedulerTicksSkipped.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

func TestSchedulerCapSaturated_Counter(t *testing.T) {
	SchedulerCapSaturated.Inc()
	desc := SchedulerCapSaturated.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

// === API Client Metrics Tests ===

func TestAPIRequestsTotal_Labels(t *testing.T) {
	endpoints := []string{"mylist", "getqueued", "controltorrent", "controlqueued"}
	classes := []string{"2xx", "4xx", "5xx", "error"}

	for _, ep := range endpoints {
		for _, class := range classes {
			APIRequestsTotal.WithLabelValues(ep, class).Inc()
		}
	}

	counter := APIRequestsTotal.WithLabelValues("mylist", "2xx")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestAPIRequestDuration_Observe(t *testing.T) {
	APIRequestDuration.WithLabelValues("mylist").Observe(0.123)
	APIRequestDuration.WithLabelValues("controltorrent").Observe(0.5)
}

func TestAPICircuitBreakerState_Values(t *testing.T) {
	gauge := APICircuitBreakerState.WithLabelValues("auth-1")

	gauge.Set(CircuitBreakerClosed)
	gauge.Set(CircuitBreakerOpen)
	gauge.Set(CircuitBreakerHalfOpen)

	if gauge == nil {
		t.Error("Expected gauge to be non-nil")
	}
}

func TestAPICircuitBreakerTrips_Counter(t *testing.T) {
	APICircuitBreakerTrips.WithLabelValues("auth-1").Inc()

	counter := APICircuitBreakerTrips.WithLabelValues("auth-1")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestAPIRateLimitWaits_Counter(t *testing.T) {
	APIRateLimitWaits.Inc()
	desc := APIRateLimitWaits.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

// === Registry Metrics Tests ===

func TestRegistryCacheHits_Labels(t *testing.T) {
	RegistryCacheHits.WithLabelValues("hit").Inc()
	RegistryCacheHits.WithLabelValues("miss").Inc()

	counter := RegistryCacheHits.WithLabelValues("hit")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestRegistryActiveUsers_Gauge(t *testing.T) {
	RegistryActiveUsers.Set(17)
	desc := RegistryActiveUsers.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

// === Ops HTTP Metrics Tests ===

func TestHTTPRequestsTotal_Labels(t *testing.T) {
	methods := []string{"GET"}
	paths := []string{"/healthz", "/readyz", "/metrics"}
	statuses := []string{"200", "503"}

	for _, method := range methods {
		for _, path := range paths {
			for _, status := range statuses {
				HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
			}
		}
	}

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestHTTPRequestDuration_Observe(t *testing.T) {
	HTTPRequestDuration.WithLabelValues("GET", "/healthz").Observe(0.015)
	HTTPRequestDuration.WithLabelValues("GET", "/metrics").Observe(0.150)
}

// === Circuit Breaker Constants Tests ===

func TestCircuitBreakerConstants(t *testing.T) {
	if CircuitBreakerClosed != 0 {
		t.Errorf("Expected CircuitBreakerClosed=0, got %d", CircuitBreakerClosed)
	}
	if CircuitBreakerOpen != 1 {
		t.Errorf("Expected CircuitBreakerOpen=1, got %d", CircuitBreakerOpen)
	}
	if CircuitBreakerHalfOpen != 2 {
		t.Errorf("Expected CircuitBreakerHalfOpen=2, got %d", CircuitBreakerHalfOpen)
	}
}

// === Standalone Registry Tests (isolated, not the package-level registry) ===

func TestCounterValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})

	reg.MustRegister(counter)
	counter.Add(5)

	if val := testutil.ToFloat64(counter); val != 5 {
		t.Errorf("Expected counter value 5, got %f", val)
	}

	counter.Inc()
	if val := testutil.ToFloat64(counter); val != 6 {
		t.Errorf("Expected counter value 6, got %f", val)
	}
}

func TestGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge",
	})

	reg.MustRegister(gauge)

	gauge.Set(100)
	if val := testutil.ToFloat64(gauge); val != 100 {
		t.Errorf("Expected gauge value 100, got %f", val)
	}

	gauge.Add(50)
	if val := testutil.ToFloat64(gauge); val != 150 {
		t.Errorf("Expected gauge value 150, got %f", val)
	}

	gauge.Sub(30)
	if val := testutil.ToFloat64(gauge); val != 120 {
		t.Errorf("Expected gauge value 120, got %f", val)
	}
}

// === Integration-style Tests ===

func TestPollerMetricsIntegration(t *testing.T) {
	for i := 0; i < 20; i++ {
		outcome := "success"
		if i%10 == 0 {
			outcome = "skipped"
		} else if i%15 == 0 {
			outcome = "auth_error"
		}
		PollCyclesTotal.WithLabelValues(outcome).Inc()
		PollCycleDuration.Observe(float64(i) * 0.01)
	}

	SchedulerRunningPolls.Set(4)
	SchedulerDueUsers.Set(9)
}

func TestAPIClientMetricsIntegration(t *testing.T) {
	target := "auth-integration-test"

	for i := 0; i < 10; i++ {
		class := "2xx"
		if i%5 == 0 {
			class = "5xx"
		}
		APIRequestsTotal.WithLabelValues("mylist", class).Inc()
		APIRequestDuration.WithLabelValues("mylist").Observe(0.05)
	}

	APICircuitBreakerState.WithLabelValues(target).Set(CircuitBreakerClosed)
	APICircuitBreakerState.WithLabelValues(target).Set(CircuitBreakerOpen)
	APICircuitBreakerTrips.WithLabelValues(target).Inc()
	APICircuitBreakerState.WithLabelValues(target).Set(CircuitBreakerHalfOpen)
	APICircuitBreakerState.WithLabelValues(target).Set(CircuitBreakerClosed)
}

// Benchmark for counter operations
func BenchmarkCounterInc(b *testing.B) {
	counter := PollCyclesTotal.WithLabelValues("success")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		counter.Inc()
	}
}

// Benchmark for histogram observations
func BenchmarkHistogramObserve(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		PollCycleDuration.Observe(0.123)
	}
}

// Benchmark for gauge set operations
func BenchmarkGaugeSet(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SchedulerRunningPolls.Set(float64(i))
	}
}
