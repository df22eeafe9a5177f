// Package telemetry is the observability fabric: trace IDs, structured-log
// binding, and the Prometheus collectors the orchestrator exposes.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeTotal           *prometheus.CounterVec
	circuitStateGauge     *prometheus.GaugeVec
	rateDelaySeconds      *prometheus.GaugeVec
	cacheHitsTotal        prometheus.Counter
	evidenceCapturedTotal prometheus.Counter

	scrapeDuration *RingHistogram

	once sync.Once
)

func init() {
	Init()
}

// Init registers every collector exactly once. Safe to call multiple times.
func Init() {
	once.Do(func() {
		scrapeTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_total",
				Help: "Total number of Scrape calls, labeled by terminal status and strategy used.",
			},
			[]string{"status", "strategy"},
		)

		circuitStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_state",
				Help: "Circuit breaker state per domain (0=closed, 1=half_open, 2=open).",
			},
			[]string{"domain"},
		)

		rateDelaySeconds = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rate_delay_seconds",
				Help: "Current adaptive pacing delay per domain.",
			},
			[]string{"domain"},
		)

		cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits",
			Help: "Total number of ResultCache hits.",
		})

		evidenceCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "evidence_captured_total",
			Help: "Total number of evidence records captured on failure.",
		})

		scrapeDuration = NewRingHistogram(
			"scrape_duration_seconds",
			"Distribution of Scrape call durations by strategy used, backed by a bounded ring buffer.",
			[]string{"strategy"},
			1024,
		)
		prometheus.MustRegister(scrapeDuration)
	})
}

// ObserveScrape records a terminal Scrape outcome.
func ObserveScrape(status, strategy string, elapsedSeconds float64) {
	scrapeTotal.WithLabelValues(status, strategy).Inc()
	scrapeDuration.Observe(strategy, elapsedSeconds)
}

// SetCircuitState publishes the current circuit state for a domain.
// Accepted values: closed, half_open, open.
func SetCircuitState(domain, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	circuitStateGauge.WithLabelValues(domain).Set(v)
}

// SetRateDelay publishes the current adaptive delay for a domain.
func SetRateDelay(domain string, seconds float64) {
	rateDelaySeconds.WithLabelValues(domain).Set(seconds)
}

// IncCacheHit increments the cache hit counter.
func IncCacheHit() {
	cacheHitsTotal.Inc()
}

// IncEvidenceCaptured increments the evidence capture counter.
func IncEvidenceCaptured() {
	evidenceCapturedTotal.Inc()
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
