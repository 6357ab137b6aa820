// Package metrics exposes Prometheus instrumentation for fetch cycles,
// flip computation and upstream health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "albionflip"

// Registry holds every collector this process exposes. Serve mode hands it
// to the /metrics handler; other modes simply never scrape it.
var Registry = prometheus.NewRegistry()

// Collector handles pipeline metrics.
type Collector struct {
	chunkOutcomes *prometheus.CounterVec
	flipDrops     *prometheus.CounterVec
	quotesFetched prometheus.Counter
	failedChunks  prometheus.Counter
	scanDuration  prometheus.Histogram
	upstreamUp    prometheus.Gauge
}

// NewCollector creates the pipeline metrics collector.
func NewCollector() *Collector {
	return &Collector{
		// Chunk requests by final outcome
		chunkOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunk_outcomes_total",
				Help:      "Fetch chunks by final outcome",
			},
			[]string{"outcome"},
		),

		// Flip pairings rejected by reason
		flipDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flip_drops_total",
				Help:      "Flip pairings rejected by reason",
			},
			[]string{"reason"},
		),

		quotesFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quotes_fetched_total",
				Help:      "Canonical quotes produced by fetch cycles",
			},
		),

		failedChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failed_chunks_total",
				Help:      "Chunks that exhausted every retry",
			},
		),

		scanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Full fetch cycle duration distribution",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		upstreamUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upstream_up",
				Help:      "1 while the upstream is believed reachable",
			},
		),
	}
}

// Register registers all collectors with the package registry.
func (c *Collector) Register() error {
	metrics := []prometheus.Collector{
		c.chunkOutcomes,
		c.flipDrops,
		c.quotesFetched,
		c.failedChunks,
		c.scanDuration,
		c.upstreamUp,
	}
	for _, metric := range metrics {
		if err := Registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// RecordScan records one completed fetch cycle.
func (c *Collector) RecordScan(durationSeconds float64, quotes, failedChunks int) {
	c.scanDuration.Observe(durationSeconds)
	c.quotesFetched.Add(float64(quotes))
	c.failedChunks.Add(float64(failedChunks))
}

// RecordChunkOutcome counts one chunk outcome; a deferred chunk reports a
// second time when the tail pass resolves it.
func (c *Collector) RecordChunkOutcome(outcome string) {
	c.chunkOutcomes.WithLabelValues(outcome).Inc()
}

// RecordFlipDrops counts rejected flip pairings by reason.
func (c *Collector) RecordFlipDrops(reason string, n int) {
	if n > 0 {
		c.flipDrops.WithLabelValues(reason).Add(float64(n))
	}
}

// SetUpstreamUp publishes the health monitor's belief.
func (c *Collector) SetUpstreamUp(up bool) {
	if up {
		c.upstreamUp.Set(1)
	} else {
		c.upstreamUp.Set(0)
	}
}
