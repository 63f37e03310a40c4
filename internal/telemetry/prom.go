// Prometheus exposition for the fabric counters. Collectors are registered
// eagerly; if no /metrics endpoint is started the registration is harmless.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_requests_total",
		Help: "Terminal outcomes of dispatched operations",
	}, []string{"capability", "provider", "outcome"})

	promStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_requests_started_total",
		Help: "Operations entering the dispatcher",
	}, []string{"capability"})

	promFailovers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_failover_attempts_total",
		Help: "Candidates skipped in favor of the next provider",
	}, []string{"provider", "reason"})

	promRateDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_rate_denials_total",
		Help: "Local admission denials by reason",
	}, []string{"reason"})

	promUpstreamBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_upstream_blocks_total",
		Help: "Upstream 429 responses that blocked a provider window",
	}, []string{"provider"})

	promBreaker = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"provider", "to"})

	promCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_cache_events_total",
		Help: "Cache hits, misses and evictions by namespace",
	}, []string{"namespace", "event"})

	promProxy = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_proxy_attempts_total",
		Help: "Proxy endpoint attempts by outcome",
	}, []string{"outcome"})

	promLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mdsaad_response_seconds",
		Help:    "End-to-end operation latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"capability"})
)

func init() {
	prometheus.MustRegister(promRequests, promStarted, promFailovers,
		promRateDenials, promUpstreamBlocked, promBreaker, promCache,
		promProxy, promLatency)
}

func promRequestsStarted(capability string) {
	promStarted.WithLabelValues(capability).Inc()
}

func promRequestEnd(capability, provider, outcome string, seconds float64) {
	promRequests.WithLabelValues(capability, provider, outcome).Inc()
	if seconds > 0 {
		promLatency.WithLabelValues(capability).Observe(seconds)
	}
}

func promFailover(provider, reason string) {
	promFailovers.WithLabelValues(provider, reason).Inc()
}

func promRateDenial(reason string) {
	promRateDenials.WithLabelValues(reason).Inc()
}

func promUpstreamBlock(provider string) {
	promUpstreamBlocked.WithLabelValues(provider).Inc()
}

func promBreakerTransition(provider, to string) {
	promBreaker.WithLabelValues(provider, to).Inc()
}

func promCacheEvent(namespace, event string) {
	promCache.WithLabelValues(namespace, event).Inc()
}

func promProxyAttempt(outcome string) {
	promProxy.WithLabelValues(outcome).Inc()
}

// ServeMetrics exposes /metrics on addr in a background goroutine and
// returns the server so the caller can shut it down. Mirrors the opt-in
// standalone endpoint pattern: if you already expose Prometheus elsewhere,
// don't start this one.
func ServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
	return server
}
