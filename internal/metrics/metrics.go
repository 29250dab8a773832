// Package metrics exposes Prometheus collectors for the fetch engine.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadcrawler_fetches_total",
			Help: "Total number of fetch attempts, labeled by host and outcome.",
		},
		[]string{"host", "outcome"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadcrawler_fetch_bytes_total",
			Help: "Total number of bytes fetched, labeled by host.",
		},
		[]string{"host"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadcrawler_fetch_duration_seconds",
			Help:    "Histogram of fetch latencies, labeled by host.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadcrawler_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations, labeled by host.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
		},
		[]string{"host"},
	)

	hostBackoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadcrawler_host_backoffs_total",
			Help: "Backoff windows applied per host, labeled by error class.",
		},
		[]string{"host", "class"},
	)

	breakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadcrawler_breaker_state_changes_total",
			Help: "Circuit breaker state transitions, labeled by breaker and new state.",
		},
		[]string{"breaker", "state"},
	)

	breakerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadcrawler_breaker_rejections_total",
			Help: "Calls rejected while a breaker was open.",
		},
		[]string{"breaker"},
	)

	cacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadcrawler_cache_ops_total",
			Help: "Cache operations, labeled by tier, namespace and result.",
		},
		[]string{"tier", "namespace", "result"},
	)

	cacheCompressionSavings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadcrawler_cache_compression_saved_bytes_total",
			Help: "Bytes saved by compressing cache values before storage.",
		},
	)

	dedupRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadcrawler_dedup_rejections_total",
			Help: "Artifacts rejected by the dedup/validation filter, labeled by reason.",
		},
		[]string{"reason"},
	)

	activeFetches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadcrawler_active_fetches",
			Help: "Number of fetches currently in flight.",
		},
	)
)

// SanitizeHost sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records the outcome of a single fetch attempt. The host
// label is sanitized to keep metric cardinality bounded to hostnames.
func ObserveFetch(host, outcome string, bytesFetched int, duration time.Duration) {
	host = SanitizeHost(host)
	fetchesTotal.WithLabelValues(host, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(SanitizeHost(host)).Observe(duration.Seconds())
}

// ObserveBackoff increments the backoff counter for a host/error class.
func ObserveBackoff(host, class string) {
	hostBackoffsTotal.WithLabelValues(SanitizeHost(host), class).Inc()
}

// ObserveBreakerState records a breaker transition to the given state.
func ObserveBreakerState(name, state string) {
	breakerStateChangesTotal.WithLabelValues(name, state).Inc()
}

// ObserveBreakerRejection counts a call rejected by an open breaker.
func ObserveBreakerRejection(name string) {
	breakerRejectionsTotal.WithLabelValues(name).Inc()
}

// ObserveCacheOp records a cache operation result ("hit", "miss", "error", "set").
func ObserveCacheOp(tier, namespace, result string) {
	cacheOpsTotal.WithLabelValues(tier, namespace, result).Inc()
}

// AddCompressionSavings accumulates bytes saved by cache compression.
func AddCompressionSavings(saved int) {
	if saved > 0 {
		cacheCompressionSavings.Add(float64(saved))
	}
}

// ObserveDedupRejection counts a filter rejection by reason.
func ObserveDedupRejection(reason string) {
	dedupRejectionsTotal.WithLabelValues(reason).Inc()
}

// IncActiveFetches increments the in-flight fetch gauge.
func IncActiveFetches() {
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch gauge.
func DecActiveFetches() {
	activeFetches.Dec()
}
