// Package tcpproxy implements the TCP Proxy Filter (spec.md §4.4): the
// per-downstream-connection state machine, connect retries, deferred
// flush, route matching, resource-manager circuit breaking, and access
// logging.
package tcpproxy

import (
	"fmt"
	"net"
	"time"

	"github.com/relaymesh/dataplane/pkg/util"
)

// Route matches a downstream connection by destination/source IP and
// port, field-for-field with the generated Envoy TcpProxy protobuf
// struct's route_config.routes[] shape (grounded on the cilium-vendored
// tcp_proxy.proto Go struct). An empty list on any of the four
// criteria means "match any" for that criterion.
type Route struct {
	DestinationIPList []*net.IPNet
	DestinationPorts  util.PortRanges
	SourceIPList      []*net.IPNet
	SourcePorts       util.PortRanges
	Cluster           string
}

// ConnContext is the addressing information a route matches against:
// the downstream connection's original destination (its own local
// address, since this is a transparent TCP proxy) and the client's
// remote address.
type ConnContext struct {
	DestinationIP   net.IP
	DestinationPort int
	SourceIP        net.IP
	SourcePort      int
}

func ipListMatches(list []*net.IPNet, ip net.IP) bool {
	if len(list) == 0 {
		return true
	}
	for _, n := range list {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func portsMatch(ranges util.PortRanges, port int) bool {
	if len(ranges) == 0 {
		return true
	}
	return ranges.Contains(port)
}

// Matches reports whether cc satisfies every criterion on r.
func (r Route) Matches(cc ConnContext) bool {
	return ipListMatches(r.DestinationIPList, cc.DestinationIP) &&
		portsMatch(r.DestinationPorts, cc.DestinationPort) &&
		ipListMatches(r.SourceIPList, cc.SourceIP) &&
		portsMatch(r.SourcePorts, cc.SourcePort)
}

// RouteConfig is an ordered list of routes; declaration order is the
// match priority (spec.md §4.4: "first match wins").
type RouteConfig struct {
	Routes []Route
}

// SelectCluster returns the cluster named by the first matching route,
// or ok=false if none match (the filter's StopIteration-and-close
// case).
func (rc RouteConfig) SelectCluster(cc ConnContext) (cluster string, ok bool) {
	for _, r := range rc.Routes {
		if r.Matches(cc) {
			return r.Cluster, true
		}
	}
	return "", false
}

// Config is one TCP proxy filter instance's logical configuration
// (spec.md §6). Either Cluster names a single fixed cluster, or
// RouteConfig dispatches per-connection; Cluster takes precedence when
// both are set, matching the oneof the generated protobuf struct
// encodes as ClusterSpecifier vs. leaving it unset.
type Config struct {
	StatPrefix         string
	Cluster            string
	RouteConfig        RouteConfig
	MaxConnectAttempts uint32
	IdleTimeout        time.Duration
	MetadataMatch      map[string]string
}

// Validate checks the fields Config must have set before a Filter can
// be built from it.
func (c Config) Validate() error {
	if c.StatPrefix == "" {
		return fmt.Errorf("tcpproxy: stat_prefix is required")
	}
	if c.Cluster == "" && len(c.RouteConfig.Routes) == 0 {
		return fmt.Errorf("tcpproxy: either cluster or route_config.routes is required")
	}
	return nil
}

// effectiveMaxConnectAttempts returns MaxConnectAttempts with the
// spec.md §6 default of 1 applied.
func (c Config) effectiveMaxConnectAttempts() uint32 {
	if c.MaxConnectAttempts == 0 {
		return 1
	}
	return c.MaxConnectAttempts
}

// SelectCluster resolves the cluster for one downstream connection,
// preferring the fixed Cluster field over route matching.
func (c Config) SelectCluster(cc ConnContext) (cluster string, ok bool) {
	if c.Cluster != "" {
		return c.Cluster, true
	}
	return c.RouteConfig.SelectCluster(cc)
}
