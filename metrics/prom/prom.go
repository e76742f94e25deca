// Package prom exports engine metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/legendcache/cache"
	"github.com/IvanBrykalov/legendcache/legend"
)

// Adapter implements legend.Metrics (and with it cache, worker, stability
// and render Metrics). All Prometheus metric types are goroutine-safe.
type Adapter struct {
	// cache
	hits          prometheus.Counter
	misses        prometheus.Counter
	evicts        *prometheus.CounterVec
	invalidations prometheus.Counter
	sizeEnt       prometheus.Gauge
	sizeBytes     prometheus.Gauge

	// worker
	submitted  prometheus.Counter
	completed  prometheus.Counter
	failed     prometheus.Counter
	discarded  prometheus.Counter
	queueDepth prometheus.Gauge
	genSeconds prometheus.Histogram

	// stability
	hibernations prometheus.Counter
	probeFails   prometheus.Counter
	stabilized   *prometheus.CounterVec
	hibSeconds   prometheus.Histogram

	// render
	levelServed *prometheus.CounterVec
	levelFailed *prometheus.CounterVec

	notifyDropped prometheus.Counter
}

// New constructs the adapter and registers its collectors.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns:           Prometheus namespace; subsystems are cache, worker, stability, render, notify
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(sub, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	gauge := func(sub, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(sub, name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		}, []string{label})
	}
	histogram := func(sub, name, help string, buckets []float64) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels, Buckets: buckets,
		})
	}

	a := &Adapter{
		hits:          counter("cache", "hits_total", "Cache hits"),
		misses:        counter("cache", "misses_total", "Cache misses"),
		evicts:        counterVec("cache", "evictions_total", "Cache evictions by reason", "reason"),
		invalidations: counter("cache", "invalidated_entries_total", "Entries removed by invalidation"),
		sizeEnt:       gauge("cache", "size_entries", "Number of resident entries"),
		sizeBytes:     gauge("cache", "size_bytes", "Resident image bytes"),

		submitted:  counter("worker", "submitted_total", "Generation tasks queued"),
		completed:  counter("worker", "completed_total", "Generation tasks stored as ready"),
		failed:     counter("worker", "failed_total", "Generation tasks stored as failed"),
		discarded:  counter("worker", "discarded_total", "Stale generation results discarded"),
		queueDepth: gauge("worker", "queue_depth", "Queued generation tasks"),
		genSeconds: histogram("worker", "generation_seconds", "Time to render one symbol",
			prometheus.ExponentialBuckets(0.0001, 4, 8)),

		hibernations: counter("stability", "hibernations_total", "Owner change notifications"),
		probeFails:   counter("stability", "probe_failures_total", "Failed stability probes"),
		stabilized:   counterVec("stability", "stabilized_total", "Owners returned to stable", "outcome"),
		hibSeconds: histogram("stability", "hibernation_seconds", "Time from change notification to stable",
			prometheus.ExponentialBuckets(0.05, 2, 10)),

		levelServed: counterVec("render", "level_served_total", "Draws served per pipeline level", "level"),
		levelFailed: counterVec("render", "level_failed_total", "Pipeline level failures", "level"),

		notifyDropped: counter("notify", "dropped_total", "Ready notifications dropped on overflow"),
	}
	reg.MustRegister(
		a.hits, a.misses, a.evicts, a.invalidations, a.sizeEnt, a.sizeBytes,
		a.submitted, a.completed, a.failed, a.discarded, a.queueDepth, a.genSeconds,
		a.hibernations, a.probeFails, a.stabilized, a.hibSeconds,
		a.levelServed, a.levelFailed,
		a.notifyDropped,
	)
	return a
}

// ---- cache ----

func (a *Adapter) Hit()  { a.hits.Inc() }
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) { a.evicts.WithLabelValues(r.String()).Inc() }

func (a *Adapter) Invalidate(n int) { a.invalidations.Add(float64(n)) }

// Size updates gauges for the number of entries and resident bytes.
func (a *Adapter) Size(entries int, bytes int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeBytes.Set(float64(bytes))
}

// ---- worker ----

func (a *Adapter) Submitted()                { a.submitted.Inc() }
func (a *Adapter) Completed(d time.Duration) { a.completed.Inc(); a.genSeconds.Observe(d.Seconds()) }
func (a *Adapter) Failed()                   { a.failed.Inc() }
func (a *Adapter) Discarded()                { a.discarded.Inc() }
func (a *Adapter) QueueDepth(n int)          { a.queueDepth.Set(float64(n)) }

// ---- stability ----

func (a *Adapter) Hibernated()  { a.hibernations.Inc() }
func (a *Adapter) ProbeFailed() { a.probeFails.Inc() }

func (a *Adapter) Stabilized(degraded bool, d time.Duration) {
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	a.stabilized.WithLabelValues(outcome).Inc()
	a.hibSeconds.Observe(d.Seconds())
}

// ---- render ----

func (a *Adapter) LevelServed(level string) { a.levelServed.WithLabelValues(level).Inc() }
func (a *Adapter) LevelFailed(level string) { a.levelFailed.WithLabelValues(level).Inc() }

func (a *Adapter) NotifyDropped() { a.notifyDropped.Inc() }

// Compile-time check: ensure Adapter implements legend.Metrics.
var _ legend.Metrics = (*Adapter)(nil)
