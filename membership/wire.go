// Package membership implements the Cluster/Endpoint Membership Engine
// (spec.md §4.1, §4.3): it consumes a stream of endpoint-assignment
// updates for one cluster and drives an upstream.PrioritySet via delta
// computation.
//
// The structural shape of ClusterLoadAssignment/LocalityLbEndpoints
// below is grounded on how other_examples' projectcontour-contour
// endpointtranslator.go (RecalculateEndpoints) and incubusfree-consul's
// agent/xds/endpoints.go build LocalityLbEndpoints-shaped structures
// from a flat endpoint list; spec.md §6 names the same fields.
package membership

import (
	"github.com/relaymesh/dataplane/pkg/addr"
	"github.com/relaymesh/dataplane/upstream"
)

// Endpoint is one upstream address within a locality group.
type Endpoint struct {
	Address  addr.TCPAddress
	Hostname string
	Metadata map[string]string
	// Healthy is the EDS-reported health status; false sets
	// upstream.FailedEDSHealth on a Host created for this endpoint. A
	// Host kept from an earlier update (same address) keeps its existing
	// health flags; this field does not change them.
	Healthy bool
}

// LocalityLbEndpoints is one locality group within an update, carrying
// its priority tier and optional locality weight.
type LocalityLbEndpoints struct {
	Locality upstream.Locality
	Priority uint32
	// Weight is the locality's load_balancing_weight. The engine records
	// a nil weight as 0, the same as a specified 0, which excludes the
	// locality from locality-weighted selection (spec.md §3); when every
	// locality of a priority has weight 0, host picking falls back to
	// flat round robin over that priority's healthy hosts.
	Weight    *uint32
	Endpoints []Endpoint
}

// ClusterLoadAssignment is one endpoint-discovery update for a single
// cluster (spec.md §6).
type ClusterLoadAssignment struct {
	ClusterName string
	Endpoints   []LocalityLbEndpoints
}
