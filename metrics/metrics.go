// Package metrics provides the storage node's Counter/Gauge/Histogram
// primitives, backed by github.com/prometheus/client_golang so they are
// scrape-able over /metrics rather than only readable in-process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every metric in this package registers with.
// A dedicated registry (rather than prometheus.DefaultRegisterer) keeps
// test runs from colliding on metric names across packages.
var Registry = prometheus.NewRegistry()

// Handler returns the HTTP handler that serves Registry in Prometheus
// text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name string
	c    prometheus.Counter
}

// NewCounter returns the Counter registered under name, creating it on
// first call. Later calls with the same name (e.g. a second Manager
// opened in the same process) return the already-registered collector
// instead of panicking on a duplicate registration.
func NewCounter(name string) *Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: name})
	if existing := registerOrReuse(c); existing != nil {
		return &Counter{name: name, c: existing.(prometheus.Counter)}
	}
	return &Counter{name: name, c: c}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.c.Inc() }

// Add increments the counter by n. Negative values are silently ignored
// because counters are monotonically increasing.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.c.Add(float64(n))
	}
}

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Gauge is a value that can go up and down.
type Gauge struct {
	name string
	g    prometheus.Gauge
}

// NewGauge returns the Gauge registered under name, creating it on first
// call and reusing it on later calls (see NewCounter).
func NewGauge(name string) *Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: name})
	if existing := registerOrReuse(g); existing != nil {
		return &Gauge{name: name, g: existing.(prometheus.Gauge)}
	}
	return &Gauge{name: name, g: g}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.g.Set(float64(v)) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.g.Inc() }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.g.Dec() }

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// Histogram tracks the distribution of observed values (e.g. proof
// generation latency, KV batch-write latency).
type Histogram struct {
	name string
	h    prometheus.Histogram
}

// NewHistogram returns the Histogram registered under name, using
// Prometheus's default bucket boundaries, creating it on first call and
// reusing it on later calls (see NewCounter).
func NewHistogram(name string) *Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: name})
	if existing := registerOrReuse(h); existing != nil {
		return &Histogram{name: name, h: existing.(prometheus.Histogram)}
	}
	return &Histogram{name: name, h: h}
}

// registerOrReuse registers c with Registry, returning nil on success. If
// a collector with the same fully-qualified name is already registered
// (e.g. a second Manager opened in the same process), it returns that
// existing collector instead of panicking.
func registerOrReuse(c prometheus.Collector) prometheus.Collector {
	if err := Registry.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return nil
}

// Observe records a value.
func (h *Histogram) Observe(v float64) { h.h.Observe(v) }

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Timer is a convenience helper for timing operations. It records the
// elapsed duration, in seconds, into an associated Histogram when Stop
// is called.
type Timer struct {
	start time.Time
	hist  *Histogram
}

// NewTimer starts a new timer that will record into h when stopped.
func NewTimer(h *Histogram) *Timer {
	return &Timer{start: time.Now(), hist: h}
}

// Stop records the elapsed time into the associated histogram and
// returns the duration.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.hist != nil {
		t.hist.Observe(d.Seconds())
	}
	return d
}
