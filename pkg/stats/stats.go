// Package stats implements the counter surface named in spec.md §6
// (upstream_cx_total, membership_healthy, update_empty, ...). Counters
// are safe for any worker goroutine to increment (§5); Sink is a
// trait-like interface with one concrete implementation per storage
// backend, generalizing the teacher's controller/k8s/prometheus.go
// promGauges helper, per Design Notes §9 on replacing multi-inheritance
// stats types with composed interfaces.
package stats

import (
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// sanitize replaces ':' with '_' in a stat name. This mirrors the
// minimum sanitization the source performs; spec.md §9 notes that
// whether this is a complete sanitizer for all reserved characters is
// unclear, so no further characters are handled here.
func sanitize(name string) string {
	return strings.ReplaceAll(name, ":", "_")
}

// Counter is a monotonically increasing, concurrency-safe counter.
type Counter interface {
	Inc()
	Add(delta uint64)
	Value() uint64
}

// atomicCounter is the heap-backed Counter implementation: a plain
// atomic integer, used when no external metrics backend is wired (e.g.
// in unit tests).
type atomicCounter struct {
	v uint64
}

func (c *atomicCounter) Inc()             { atomic.AddUint64(&c.v, 1) }
func (c *atomicCounter) Add(delta uint64) { atomic.AddUint64(&c.v, delta) }
func (c *atomicCounter) Value() uint64    { return atomic.LoadUint64(&c.v) }

// promCounter adapts a prometheus.Counter to the Counter interface,
// additionally keeping a local atomic mirror so Value() can be read
// synchronously without going through the prometheus registry.
type promCounter struct {
	atomicCounter
	pc prometheus.Counter
}

func (c *promCounter) Inc() {
	c.atomicCounter.Inc()
	c.pc.Inc()
}

func (c *promCounter) Add(delta uint64) {
	c.atomicCounter.Add(delta)
	c.pc.Add(float64(delta))
}

// Gauge is a concurrency-safe counter that may also move down, for
// stats like upstream_flush_active and resource-manager occupancy that
// rise and fall rather than only accumulate.
type Gauge interface {
	Inc()
	Dec()
	Set(v int64)
	Value() int64
}

// atomicGauge is the heap-backed Gauge implementation.
type atomicGauge struct {
	v int64
}

func (g *atomicGauge) Inc()        { atomic.AddInt64(&g.v, 1) }
func (g *atomicGauge) Dec()        { atomic.AddInt64(&g.v, -1) }
func (g *atomicGauge) Set(v int64) { atomic.StoreInt64(&g.v, v) }
func (g *atomicGauge) Value() int64 { return atomic.LoadInt64(&g.v) }

// promGauge adapts a prometheus.Gauge to the Gauge interface, mirroring
// promCounter's local-atomic-plus-registry shape.
type promGauge struct {
	atomicGauge
	pg prometheus.Gauge
}

func (g *promGauge) Inc() {
	g.atomicGauge.Inc()
	g.pg.Inc()
}

func (g *promGauge) Dec() {
	g.atomicGauge.Dec()
	g.pg.Dec()
}

func (g *promGauge) Set(v int64) {
	g.atomicGauge.Set(v)
	g.pg.Set(float64(v))
}

// Sink vends named counters and gauges for one cluster. PromSink is
// the prometheus-backed implementation; a heap-only
// implementation for tests is NewHeapSink.
type Sink interface {
	Counter(name string) Counter
	Gauge(name string) Gauge
}

// heapSink is a Sink backed purely by atomic counters, with no external
// registry — used by tests and by components that don't need the
// counters exported.
type heapSink struct {
	prefix   string
	counters map[string]*atomicCounter
	gauges   map[string]*atomicGauge
}

// NewHeapSink returns a Sink whose counters live only in process memory.
func NewHeapSink(prefix string) Sink {
	return &heapSink{
		prefix:   sanitize(prefix),
		counters: make(map[string]*atomicCounter),
		gauges:   make(map[string]*atomicGauge),
	}
}

func (s *heapSink) Counter(name string) Counter {
	key := sanitize(name)
	if c, ok := s.counters[key]; ok {
		return c
	}
	c := &atomicCounter{}
	s.counters[key] = c
	return c
}

func (s *heapSink) Gauge(name string) Gauge {
	key := sanitize(name)
	if g, ok := s.gauges[key]; ok {
		return g
	}
	g := &atomicGauge{}
	s.gauges[key] = g
	return g
}

// PromSink is a Sink backed by a prometheus.Registerer, prefixing every
// metric name with the cluster's stat_prefix (where the teacher's
// promGauges labels every gauge with its informer kind).
type PromSink struct {
	prefix   string
	reg      prometheus.Registerer
	counters map[string]*promCounter
	gauges   map[string]*promGauge
}

// NewPromSink returns a Sink that registers one prometheus.Counter per
// distinct stat name on first use, under reg.
func NewPromSink(reg prometheus.Registerer, prefix string) *PromSink {
	return &PromSink{
		prefix:   sanitize(prefix),
		reg:      reg,
		counters: make(map[string]*promCounter),
		gauges:   make(map[string]*promGauge),
	}
}

func (s *PromSink) Counter(name string) Counter {
	key := sanitize(name)
	if c, ok := s.counters[key]; ok {
		return c
	}
	pc := prometheus.NewCounter(prometheus.CounterOpts{
		Name: s.prefix + "_" + key,
		Help: "dataplane counter " + s.prefix + "." + key,
	})
	s.reg.MustRegister(pc)
	c := &promCounter{pc: pc}
	s.counters[key] = c
	return c
}

func (s *PromSink) Gauge(name string) Gauge {
	key := sanitize(name)
	if g, ok := s.gauges[key]; ok {
		return g
	}
	pg := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: s.prefix + "_" + key,
		Help: "dataplane gauge " + s.prefix + "." + key,
	})
	s.reg.MustRegister(pg)
	g := &promGauge{pg: pg}
	s.gauges[key] = g
	return g
}

// PendingLatch implements the "pending increments" latch-and-reset
// pattern from spec.md §5: increments accumulate atomically, and a
// reader can exchange the accumulator for zero to collect-and-clear it
// in one atomic step.
type PendingLatch struct {
	v uint64
}

// Add records delta pending increments.
func (p *PendingLatch) Add(delta uint64) {
	atomic.AddUint64(&p.v, delta)
}

// LatchAndReset atomically reads the accumulator and resets it to 0,
// returning the value that had accumulated.
func (p *PendingLatch) LatchAndReset() uint64 {
	return atomic.SwapUint64(&p.v, 0)
}
