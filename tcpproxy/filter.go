package tcpproxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relaymesh/dataplane/pkg/stats"
	"github.com/relaymesh/dataplane/upstream"
)

// Filter is one TCP proxy filter instance: it matches a route, picks a
// host, connects with retries, and pumps bytes in both directions
// (spec.md §4.4), mirroring the one-struct-per-connection model of the
// teacher's endpointListener (controller/destination/listener.go) —
// one connCtx per downstream connection, with no state
// shared across connections except the cluster/host/stats lookups
// above, per spec.md §5's "per-connection filter state is confined to
// a single worker" rule (here: to the one goroutine HandleConnection
// runs in, plus its two pump goroutines, which only ever touch this
// connection's own state).
type Filter struct {
	cfg      Config
	clusters ClusterSet
	picker   *HostPicker
	dial     DialFunc

	connectTimeout     time.Duration
	highWatermark      int
	lowWatermark       int
	statsFor           func(cluster string) stats.Sink
	accessLog          AccessLogFormatter
	writeAccessLogLine func(line string)
	now                func() time.Time

	mu        sync.Mutex
	resources map[string]*ResourceManager
}

// NewFilter returns a Filter for cfg, resolving clusters through
// clusters and emitting stats through statsFor (one stats.Sink per
// cluster, matching spec.md §6's "per cluster" stats surface).
func NewFilter(cfg Config, clusters ClusterSet, statsFor func(cluster string) stats.Sink) *Filter {
	f := &Filter{
		cfg:           cfg,
		clusters:      clusters,
		picker:        NewHostPicker(),
		dial:          NetDialFunc(),
		highWatermark: 1 << 20,
		lowWatermark:  1 << 18,
		statsFor:      statsFor,
		accessLog:     NewAccessLogFormatter(""),
		writeAccessLogLine: func(line string) {
			log.WithField("component", "tcpproxy").Info(line)
		},
		now:       time.Now,
		resources: make(map[string]*ResourceManager),
	}
	return f
}

// SetDialFunc overrides the dialer (tests inject a scripted one).
func (f *Filter) SetDialFunc(d DialFunc) { f.dial = d }

// SetConnectTimeout sets the per-attempt connect timer duration; 0
// disables it.
func (f *Filter) SetConnectTimeout(d time.Duration) { f.connectTimeout = d }

// SetWatermarks overrides the flow-control high/low watermarks shared
// by both pump directions.
func (f *Filter) SetWatermarks(high, low int) {
	f.highWatermark = high
	f.lowWatermark = low
}

func (f *Filter) resourceManager(cluster string) *ResourceManager {
	f.mu.Lock()
	defer f.mu.Unlock()
	rm, ok := f.resources[cluster]
	if !ok {
		rm = NewResourceManager(ResourceLimits{})
		f.resources[cluster] = rm
	}
	return rm
}

// SetResourceLimits configures the circuit-breaking limits for one
// cluster's resource manager.
func (f *Filter) SetResourceLimits(cluster string, limits ResourceLimits) {
	f.resourceManager(cluster).SetLimits(limits)
}

func connContextFor(downstream net.Conn) ConnContext {
	var cc ConnContext
	if host, port, err := net.SplitHostPort(downstream.LocalAddr().String()); err == nil {
		cc.DestinationIP = net.ParseIP(host)
		cc.DestinationPort = atoiOrZero(port)
	}
	if host, port, err := net.SplitHostPort(downstream.RemoteAddr().String()); err == nil {
		cc.SourceIP = net.ParseIP(host)
		cc.SourcePort = atoiOrZero(port)
	}
	return cc
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func addrNoPort(a net.Addr) string {
	if a == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}

// HandleConnection runs one downstream connection through the full
// filter lifecycle to completion, closing downstream before returning.
// Call it in its own goroutine per accepted connection, the standard
// Go "one goroutine per connection" server shape — here it plays the
// role of spec.md §5's "one worker executor" for this connection.
func (f *Filter) HandleConnection(downstream net.Conn) {
	start := f.now()
	cc := connContextFor(downstream)

	cluster, ok := f.cfg.SelectCluster(cc)
	if !ok {
		f.globalSink().Counter("downstream_cx_no_route").Inc()
		downstream.Close()
		return
	}

	sink := f.statsFor(cluster)
	sink.Counter("downstream_cx_total").Inc()

	ctx := &connCtx{
		filter:     f,
		downstream: downstream,
		cluster:    cluster,
		sink:       sink,
		start:      start,
		logCtx: LogContext{
			DownstreamRemoteAddressNoPort: addrNoPort(downstream.RemoteAddr()),
			DownstreamLocalAddress:        addrString(downstream.LocalAddr()),
			UpstreamCluster:               cluster,
			StartTime:                     start,
		},
	}
	ctx.run()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// globalSink is used for the handful of stats not scoped to a resolved
// cluster (e.g. downstream_cx_no_route fires before a cluster is
// known).
func (f *Filter) globalSink() stats.Sink {
	return f.statsFor(f.cfg.StatPrefix)
}

// State is the per-connection lifecycle state named in spec.md §3 and
// §4.4's transition table.
type State int

const (
	StateNotStarted State = iota
	StateConnecting
	StateConnected
	StateHalfClosed
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateHalfClosed:
		return "HalfClosed"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// connCtx carries one connection's mutable lifecycle state; it is
// never shared outside HandleConnection's goroutine tree.
type connCtx struct {
	filter     *Filter
	downstream net.Conn
	cluster    string
	sink       stats.Sink
	start      time.Time
	flags      ResponseFlags
	logCtx     LogContext

	mu    sync.Mutex
	state State

	upstream net.Conn
	host     *upstream.Host
}

func (c *connCtx) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the connection's current lifecycle state.
func (c *connCtx) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connCtx) run() {
	defer c.finish()

	rm := c.filter.resourceManager(c.cluster)
	if !rm.TryAcquireConnection() {
		c.sink.Counter("upstream_cx_overflow").Inc()
		c.flags.Overflow = true
		return
	}
	defer rm.ReleaseConnection()

	priorities, ok := c.filter.clusters.PrioritySet(c.cluster)
	if !ok {
		c.sink.Counter("upstream_cx_no_successful_host").Inc()
		c.flags.NoHealthyHost = true
		return
	}

	pickHost := func() (*upstream.Host, bool) { return c.filter.picker.Pick(c.cluster, priorities) }

	c.setState(StateConnecting)
	conn, host, _, err := connectWithRetries(
		context.Background(),
		c.filter.cfg.effectiveMaxConnectAttempts(),
		c.filter.connectTimeout,
		pickHost,
		c.filter.dial,
		func(attempt uint32, host *upstream.Host, outcome OutlierType) {
			c.sink.Counter("upstream_cx_total").Inc()
			if outcome == OutlierTimeout {
				c.sink.Counter("upstream_cx_connect_timeout").Inc()
			}
			if outcome != OutlierSuccess {
				c.sink.Counter("upstream_cx_connect_fail").Inc()
			}
		},
	)
	switch err {
	case nil:
	case ErrConnectAttemptsExceeded:
		c.sink.Counter("upstream_cx_connect_attempts_exceeded").Inc()
		c.flags.UpstreamFailure = true
		return
	case ErrNoHealthyUpstream:
		c.sink.Counter("upstream_cx_no_successful_host").Inc()
		c.flags.NoHealthyHost = true
		return
	default:
		c.sink.Counter("upstream_cx_connect_fail").Inc()
		c.flags.UpstreamFailure = true
		return
	}

	c.upstream = conn
	c.host = host
	c.setState(StateConnected)
	defer c.upstream.Close()

	c.logCtx.UpstreamHost = host.Address.String()
	c.logCtx.UpstreamLocalAddress = addrString(conn.LocalAddr())

	c.pumpBothDirections()
	c.setState(StateClosing)
}

// pumpBothDirections runs the bidirectional copy loop with a shared
// idle timer (spec.md §5: reset on any data event in either direction;
// expiry closes both sides with NoFlush) and independent flow-control
// gates per direction (spec.md §4.4's high/low watermark rule).
func (c *connCtx) pumpBothDirections() {
	var idleMu sync.Mutex
	var idleTimer *time.Timer
	idleExpired := make(chan struct{})

	if c.filter.cfg.IdleTimeout > 0 {
		idleTimer = time.AfterFunc(c.filter.cfg.IdleTimeout, func() {
			close(idleExpired)
		})
	}
	resetIdle := func() {
		if idleTimer == nil {
			return
		}
		idleMu.Lock()
		idleTimer.Reset(c.filter.cfg.IdleTimeout)
		idleMu.Unlock()
	}
	stopIdle := func() {
		if idleTimer == nil {
			return
		}
		idleMu.Lock()
		idleTimer.Stop()
		idleMu.Unlock()
	}
	defer stopIdle()

	downGate := newFlowGate(c.filter.highWatermark, c.filter.lowWatermark)
	upGate := newFlowGate(c.filter.highWatermark, c.filter.lowWatermark)
	defer downGate.Close()
	defer upGate.Close()

	var bytesReceived, bytesSent uint64
	downToUp := newPump(c.downstream, c.upstream, upGate,
		func(n int) { bytesReceived += uint64(n) }, resetIdle)
	upToDown := newPump(c.upstream, c.downstream, downGate,
		func(n int) { bytesSent += uint64(n) }, resetIdle)

	// A clean EOF from downstream is a half-close (spec.md §1, §4.4):
	// the state moves to HalfClosed when the EOF is read, and upstream's
	// write side is shut down once the pump has written every byte read
	// before it, while upstream->downstream keeps running so the response
	// can still arrive.
	downToUp.onReadEOF = func() {
		c.setState(StateHalfClosed)
	}
	downToUp.onFlushStart = func() {
		c.sink.Gauge("upstream_flush_active").Inc()
		c.sink.Counter("upstream_flush_total").Inc()
	}
	downToUp.onFlushEnd = func() {
		c.sink.Gauge("upstream_flush_active").Dec()
	}
	upToDown.onFlushStart = func() {
		c.sink.Gauge("upstream_flush_active").Inc()
		c.sink.Counter("upstream_flush_total").Inc()
	}
	upToDown.onFlushEnd = func() {
		c.sink.Gauge("upstream_flush_active").Dec()
	}

	done := make(chan struct{}, 2)
	go func() {
		if err := downToUp.run(); errors.Is(err, io.EOF) {
			if cw, ok := c.upstream.(interface{ CloseWrite() error }); ok {
				cw.CloseWrite()
			}
		}
		done <- struct{}{}
	}()
	go func() { upToDown.run(); done <- struct{}{} }()

	select {
	case <-done:
		// one direction finished (remote/local close); let the other
		// drain/finish naturally, then fall through.
		<-done
	case <-idleExpired:
		c.sink.Counter("idle_timeout").Inc()
		c.downstream.Close()
		c.upstream.Close()
		<-done
		<-done
	}

	c.logCtx.BytesReceived = bytesReceived
	c.logCtx.BytesSent = bytesSent
}

func (c *connCtx) finish() {
	c.downstream.Close()
	c.setState(StateClosed)
	c.logCtx.ResponseFlags = c.flags
	c.logCtx.Duration = c.filter.now().Sub(c.start)
	if c.logCtx.StartTime.IsZero() {
		c.logCtx.StartTime = c.start
	}
	line := c.filter.accessLog.Format(c.logCtx)
	if c.filter.writeAccessLogLine != nil {
		c.filter.writeAccessLogLine(line)
	}
}
