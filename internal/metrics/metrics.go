// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the sync components report to.
type Recorder interface {
	RecordFetch(result string, duration time.Duration)
	RecordRefresh(records int, duration time.Duration)
	RecordScheduleInstalled()
	SetScheduleActive(active bool)
}

// Collector records sync metrics in Prometheus.
type Collector struct {
	fetches          *prometheus.CounterVec
	fetchLatency     prometheus.Histogram
	refreshRuns      prometheus.Counter
	refreshRecords   prometheus.Counter
	refreshDuration  prometheus.Histogram
	scheduleInstalls prometheus.Counter
	scheduleActive   prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extension_sync_github_fetches_total",
			Help: "GitHub fetches by result.",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "extension_sync_github_fetch_duration_seconds",
			Help:    "Duration of single repository fetches.",
			Buckets: prometheus.DefBuckets,
		}),
		refreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extension_sync_refresh_runs_total",
			Help: "Completed refresh runs over all tracked repositories.",
		}),
		refreshRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extension_sync_refresh_records_total",
			Help: "Repository records processed by refresh runs.",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "extension_sync_refresh_duration_seconds",
			Help:    "Duration of refresh runs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		scheduleInstalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extension_sync_schedule_installs_total",
			Help: "Times the polling schedule was (re)installed.",
		}),
		scheduleActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "extension_sync_schedule_active",
			Help: "1 while a polling schedule is installed.",
		}),
	}

	reg.MustRegister(
		c.fetches,
		c.fetchLatency,
		c.refreshRuns,
		c.refreshRecords,
		c.refreshDuration,
		c.scheduleInstalls,
		c.scheduleActive,
	)

	return c
}

// RecordFetch records the result and latency of one repository fetch.
func (c *Collector) RecordFetch(result string, duration time.Duration) {
	c.fetches.WithLabelValues(result).Inc()
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordRefresh records a finished refresh run.
func (c *Collector) RecordRefresh(records int, duration time.Duration) {
	c.refreshRuns.Inc()
	c.refreshRecords.Add(float64(records))
	c.refreshDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordScheduleInstalled() {
	c.scheduleInstalls.Inc()
}

func (c *Collector) SetScheduleActive(active bool) {
	if active {
		c.scheduleActive.Set(1)
		return
	}
	c.scheduleActive.Set(0)
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
