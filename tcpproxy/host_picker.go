package tcpproxy

import (
	"fmt"
	"sync"

	"github.com/relaymesh/dataplane/upstream"
)

// ClusterSet resolves a cluster name to its PrioritySet, standing in
// for whatever cluster manager owns one membership.Engine (and
// upstream.PrioritySet) per configured cluster. This is the only
// integration point tcpproxy needs from the rest of the module, kept
// as a narrow interface the way the teacher's updateListener is the
// narrow interface between endpoints_watcher and its callers.
type ClusterSet interface {
	PrioritySet(cluster string) (*upstream.PrioritySet, bool)
}

// HostPicker selects an upstream Host for a new connection attempt,
// walking priorities in ascending order (failover: a higher, i.e.
// numerically lower, priority is exhausted before a lower one is
// tried) and falling back to flat (non-locality-weighted) selection
// over the priority's healthy hosts when its locality scheduler
// reports no selectable locality — spec.md §4.1's explicit "caller
// falls back to flat host selection" case.
type HostPicker struct {
	mu sync.Mutex
	rr map[string]int // round-robin cursor, keyed by cluster+priority+locality bucket
}

// NewHostPicker returns an empty HostPicker.
func NewHostPicker() *HostPicker {
	return &HostPicker{rr: make(map[string]int)}
}

// Pick returns the next Host to attempt for cluster, or ok=false if no
// priority currently has any healthy host (the "no healthy upstream"
// case, spec.md §6's upstream_cx_no_successful_host counter).
func (p *HostPicker) Pick(cluster string, priorities *upstream.PrioritySet) (*upstream.Host, bool) {
	for priority := uint32(0); priority < uint32(priorities.HostSetCount()); priority++ {
		if h, ok := p.pickAtPriority(cluster, priority, priorities); ok {
			return h, true
		}
	}
	// HostSetCount may be 0 before any update has arrived; still try
	// priority 0 once so GetOrCreate-on-demand clusters aren't starved.
	if priorities.HostSetCount() == 0 {
		return p.pickAtPriority(cluster, 0, priorities)
	}
	return nil, false
}

func (p *HostPicker) pickAtPriority(cluster string, priority uint32, priorities *upstream.PrioritySet) (*upstream.Host, bool) {
	hostSet := priorities.GetOrCreate(priority)

	if idx, ok := priorities.ChooseLocality(priority); ok {
		buckets := hostSet.HealthyHostsPerLocality()
		if idx < len(buckets) && len(buckets[idx].Hosts) > 0 {
			key := bucketKey(cluster, priority, idx)
			return p.roundRobin(key, buckets[idx].Hosts), true
		}
	}

	healthy := hostSet.HealthyHosts()
	if len(healthy) == 0 {
		return nil, false
	}
	return p.roundRobin(bucketKey(cluster, priority, -1), healthy), true
}

func (p *HostPicker) roundRobin(key string, hosts []*upstream.Host) *upstream.Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.rr[key] % len(hosts)
	p.rr[key] = i + 1
	return hosts[i]
}

func bucketKey(cluster string, priority uint32, locality int) string {
	return fmt.Sprintf("%s|%d|%d", cluster, priority, locality)
}
