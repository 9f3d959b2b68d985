// Package admin serves the dataplane's scrapable metrics and liveness
// endpoints, adapted from the teacher's pkg/admin server — same
// /metrics, /ping, /ready surface, but backed by a caller-supplied
// prometheus.Gatherer (each cluster's stats.PromSink registers into it)
// instead of the default global registry, since this module may run
// several per-cluster sinks against one process.
package admin

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type handler struct {
	promHandler http.Handler
	enablePprof bool
	ready       *bool
}

// NewServer returns an initialized *http.Server serving metrics scraped
// from reg, configured to listen on addr.
func NewServer(addr string, reg *prometheus.Registry, enablePprof bool, ready *bool) *http.Server {
	h := &handler{
		promHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		enablePprof: enablePprof,
		ready:       ready,
	}

	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	debugPathPrefix := "/debug/pprof/"
	if h.enablePprof && strings.HasPrefix(req.URL.Path, debugPathPrefix) {
		switch req.URL.Path {
		case fmt.Sprintf("%scmdline", debugPathPrefix):
			pprof.Cmdline(w, req)
		case fmt.Sprintf("%sprofile", debugPathPrefix):
			pprof.Profile(w, req)
		case fmt.Sprintf("%strace", debugPathPrefix):
			pprof.Trace(w, req)
		case fmt.Sprintf("%ssymbol", debugPathPrefix):
			pprof.Symbol(w, req)
		default:
			pprof.Index(w, req)
		}
		return
	}
	switch req.URL.Path {
	case "/metrics":
		h.promHandler.ServeHTTP(w, req)
	case "/ping":
		w.Write([]byte("pong\n"))
	case "/ready":
		h.serveReady(w)
	default:
		http.NotFound(w, req)
	}
}

func (h *handler) serveReady(w http.ResponseWriter) {
	if h.ready != nil && !*h.ready {
		http.Error(w, "not ready\n", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok\n"))
}
