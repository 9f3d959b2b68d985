// cmd/dataplane is the TCP proxy process entrypoint: it seeds one
// cluster's membership from a static endpoint list, then accepts
// downstream connections and forwards them through a tcpproxy.Filter.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/relaymesh/dataplane/membership"
	"github.com/relaymesh/dataplane/pkg/addr"
	"github.com/relaymesh/dataplane/pkg/admin"
	"github.com/relaymesh/dataplane/pkg/flags"
	"github.com/relaymesh/dataplane/pkg/stats"
	"github.com/relaymesh/dataplane/tcpproxy"
	"github.com/relaymesh/dataplane/upstream"
)

func main() {
	listenAddr := flag.String("addr", ":15001", "address the TCP proxy listens on")
	metricsAddr := flag.String("metrics-addr", ":9901", "address to serve /metrics, /ping and /ready on")
	clusterName := flag.String("cluster", "backend", "name of the upstream cluster this proxy forwards to")
	upstreamList := flag.String("upstream", "127.0.0.1:8080", "comma-separated host:port list of upstream endpoints")
	idleTimeout := flag.Duration("idle-timeout", 5*time.Minute, "connection idle timeout; 0 disables")
	maxConnectAttempts := flag.Uint("max-connect-attempts", 3, "max upstream connect attempts per downstream connection")
	enablePprof := flag.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")

	flags.ConfigureAndParse()

	ready := false
	reg := prometheus.NewRegistry()
	adminServer := admin.NewServer(*metricsAddr, reg, *enablePprof, &ready)
	go func() {
		log.Infof("starting admin server on %s", *metricsAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server error (%s): %s", *metricsAddr, err)
		}
	}()

	priorities := upstream.NewPrioritySet()
	clusterSink := stats.NewPromSink(reg, "cluster."+*clusterName)

	endpoints, err := parseUpstreamList(*upstreamList)
	if err != nil {
		log.Fatalf("invalid -upstream list: %s", err)
	}

	engine := membership.NewEngine(membership.Config{ClusterName: *clusterName, IsLocal: true}, priorities, clusterSink)
	if err := engine.Apply(membership.ClusterLoadAssignment{
		ClusterName: *clusterName,
		Endpoints: []membership.LocalityLbEndpoints{{
			Priority:  0,
			Endpoints: endpoints,
		}},
	}); err != nil {
		log.Fatalf("failed to seed initial membership for cluster %q: %s", *clusterName, err)
	}

	clusters := clusterSetFunc(func(cluster string) (*upstream.PrioritySet, bool) {
		if cluster != *clusterName {
			return nil, false
		}
		return priorities, true
	})

	cfg := tcpproxy.Config{
		StatPrefix:         *clusterName,
		Cluster:            *clusterName,
		MaxConnectAttempts: uint32(*maxConnectAttempts),
		IdleTimeout:        *idleTimeout,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid tcp proxy config: %s", err)
	}

	filter := tcpproxy.NewFilter(cfg, clusters, func(cluster string) stats.Sink {
		return clusterSink
	})

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %s", *listenAddr, err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Infof("tcp proxy listening on %s, forwarding to cluster %q (%d endpoints)", *listenAddr, *clusterName, len(endpoints))
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-stop:
					return
				default:
				}
				log.Errorf("accept error: %s", err)
				continue
			}
			go filter.HandleConnection(conn)
		}
	}()

	ready = true
	<-stop

	log.Info("shutting down")
	ln.Close()
	adminServer.Shutdown(context.Background())
}

// clusterSetFunc adapts a plain function to tcpproxy.ClusterSet.
type clusterSetFunc func(cluster string) (*upstream.PrioritySet, bool)

func (f clusterSetFunc) PrioritySet(cluster string) (*upstream.PrioritySet, bool) { return f(cluster) }

func parseUpstreamList(s string) ([]membership.Endpoint, error) {
	var endpoints []membership.Endpoint
	for _, hostport := range strings.Split(s, ",") {
		hostport = strings.TrimSpace(hostport)
		if hostport == "" {
			continue
		}
		a, err := addr.ParseTCPAddress(hostport)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, membership.Endpoint{Address: a, Healthy: true})
	}
	return endpoints, nil
}
