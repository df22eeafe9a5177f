package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RingHistogram implements prometheus.Collector over a fixed-size ring
// buffer of raw observations per label value, giving constant-time inserts
// regardless of scrape frequency. It exports the window's mean and sum and
// the all-time count; the mean is computed from the running sum only when
// Prometheus scrapes, so the hot path (Observe) never sorts.
type RingHistogram struct {
	help     string
	labels   []string
	capacity int

	mu       sync.Mutex
	series   map[string]*ringSeries
	meanDesc *prometheus.Desc
	sumDesc  *prometheus.Desc
	cntDesc  *prometheus.Desc
}

type ringSeries struct {
	values []float64
	next   int
	size   int
	sum    float64
	count  uint64
	labels []string
}

// NewRingHistogram allocates a RingHistogram keyed by a single label value,
// the shape scrape_duration_seconds{strategy} needs.
func NewRingHistogram(name, help string, labelNames []string, capacity int) *RingHistogram {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingHistogram{
		help:     help,
		labels:   labelNames,
		capacity: capacity,
		series:   make(map[string]*ringSeries),
		meanDesc: prometheus.NewDesc(name+"_mean", help+" (mean over the ring window)", labelNames, nil),
		sumDesc:  prometheus.NewDesc(name+"_sum", help+" (sum over the ring window)", labelNames, nil),
		cntDesc:  prometheus.NewDesc(name+"_count", help+" (total observations ever recorded)", labelNames, nil),
	}
}

// Observe records v for the series identified by label, evicting the
// oldest observation once the ring is full.
func (h *RingHistogram) Observe(label string, v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[label]
	if !ok {
		s = &ringSeries{values: make([]float64, h.capacity), labels: []string{label}}
		h.series[label] = s
	}
	if s.size == h.capacity {
		s.sum -= s.values[s.next]
	} else {
		s.size++
	}
	s.values[s.next] = v
	s.sum += v
	s.count++
	s.next = (s.next + 1) % h.capacity
}

// Describe implements prometheus.Collector.
func (h *RingHistogram) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.meanDesc
	ch <- h.sumDesc
	ch <- h.cntDesc
}

// Collect implements prometheus.Collector.
func (h *RingHistogram) Collect(ch chan<- prometheus.Metric) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.series {
		mean := 0.0
		if s.size > 0 {
			mean = s.sum / float64(s.size)
		}
		ch <- prometheus.MustNewConstMetric(h.meanDesc, prometheus.GaugeValue, mean, s.labels...)
		ch <- prometheus.MustNewConstMetric(h.sumDesc, prometheus.GaugeValue, s.sum, s.labels...)
		ch <- prometheus.MustNewConstMetric(h.cntDesc, prometheus.CounterValue, float64(s.count), s.labels...)
	}
}
