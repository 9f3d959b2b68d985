package membership

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/relaymesh/dataplane/pkg/stats"
	"github.com/relaymesh/dataplane/upstream"
)

// Config configures one cluster's Membership Engine.
type Config struct {
	ClusterName string
	// IsLocal marks the cluster as this proxy's own locality cluster;
	// priority > 0 is rejected for it (spec.md §4.1).
	IsLocal bool
	// DrainOnRemoval, if set, drops removed hosts immediately. If unset,
	// removed hosts are parked in the draining set instead of being
	// forgotten, standing in for the active-health-check deferral this
	// module doesn't otherwise model (out of scope per spec.md §1).
	DrainOnRemoval bool
}

// Engine consumes an endpoint-discovery stream for one cluster and
// drives a PrioritySet via delta computation (spec.md §4.1).
type Engine struct {
	cfg        Config
	priorities *upstream.PrioritySet
	stats      stats.Sink

	mu              sync.Mutex
	localityWeights map[uint32]map[upstream.Locality]uint32
	draining        map[uint32][]*upstream.Host
	initialized     bool
}

// NewEngine returns an Engine driving priorities for the named cluster.
func NewEngine(cfg Config, priorities *upstream.PrioritySet, sink stats.Sink) *Engine {
	return &Engine{
		cfg:             cfg,
		priorities:      priorities,
		stats:           sink,
		localityWeights: make(map[uint32]map[upstream.Locality]uint32),
		draining:        make(map[uint32][]*upstream.Host),
	}
}

// Initialized reports whether the engine has completed its first
// update (successful or not — subscription errors complete
// initialization too, per spec.md §4.1).
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Draining returns the hosts removed from priority p while
// DrainOnRemoval was unset, still parked pending an active health-check
// subsystem this module doesn't implement.
func (e *Engine) Draining(priority uint32) []*upstream.Host {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining[priority]
}

// OnSubscriptionError handles a failed update fetch: per spec.md §7,
// subscription errors never clear membership; they only complete
// initialization so the containing system can make progress.
func (e *Engine) OnSubscriptionError(err error) {
	log.WithField("cluster", e.cfg.ClusterName).Warnf("endpoint subscription error, membership unchanged: %v", err)
	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
}

// stagingPriority accumulates one priority's hosts and locality
// bookkeeping across however many LocalityLbEndpoints entries in the
// update name that priority — spec.md §9 leaves the handling of a
// repeated priority unspecified beyond "observed behavior merges them",
// which is what this does.
type stagingPriority struct {
	localityOrder []upstream.Locality
	bucketIndex   map[upstream.Locality]int
	hosts         [][]*upstream.Host // parallel to localityOrder
	weights       map[upstream.Locality]uint32
}

func newStagingPriority() *stagingPriority {
	return &stagingPriority{
		bucketIndex: make(map[upstream.Locality]int),
		weights:     make(map[upstream.Locality]uint32),
	}
}

func (sp *stagingPriority) addEndpoints(locality upstream.Locality, weight *uint32, endpoints []Endpoint) {
	idx, ok := sp.bucketIndex[locality]
	if !ok {
		idx = len(sp.localityOrder)
		sp.bucketIndex[locality] = idx
		sp.localityOrder = append(sp.localityOrder, locality)
		sp.hosts = append(sp.hosts, nil)
	}
	for _, ep := range endpoints {
		h := upstream.NewHost(ep.Address, ep.Hostname, locality, ep.Metadata, 1)
		if !ep.Healthy {
			h.SetHealthFlag(upstream.FailedEDSHealth)
		}
		sp.hosts[idx] = append(sp.hosts[idx], h)
	}
	if weight != nil {
		sp.weights[locality] = *weight
	}
}

func (sp *stagingPriority) flatHosts() []*upstream.Host {
	var out []*upstream.Host
	for _, bucket := range sp.hosts {
		out = append(out, bucket...)
	}
	return out
}

// validate checks an update for malformed content before anything is
// mutated, so that a validation failure leaves membership completely
// unchanged (spec.md §4.1, §7).
func (e *Engine) validate(update ClusterLoadAssignment) error {
	if update.ClusterName != e.cfg.ClusterName {
		return fmt.Errorf("unexpected cluster name %q, subscribed to %q", update.ClusterName, e.cfg.ClusterName)
	}
	for _, group := range update.Endpoints {
		if group.Priority > 127 {
			return fmt.Errorf("priority %d out of range [0,127]", group.Priority)
		}
		if e.cfg.IsLocal && group.Priority > 0 {
			return fmt.Errorf("priority %d rejected: local cluster may only use priority 0", group.Priority)
		}
	}
	return nil
}

// Apply consumes one endpoint-assignment update, reconciling every
// priority it names (or empties) against the PrioritySet, and notifying
// observers in ascending priority order (spec.md §4.1, §4.2).
func (e *Engine) Apply(update ClusterLoadAssignment) error {
	if err := e.validate(update); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(update.Endpoints) == 0 {
		e.stats.Counter("update_empty").Inc()
		e.initialized = true
		return nil
	}

	staging := make(map[uint32]*stagingPriority)
	for _, group := range update.Endpoints {
		sp, ok := staging[group.Priority]
		if !ok {
			sp = newStagingPriority()
			staging[group.Priority] = sp
		}
		sp.addEndpoints(group.Locality, group.Weight, group.Endpoints)
	}

	priorities := make([]uint32, 0, len(staging))
	for p := range staging {
		priorities = append(priorities, p)
	}
	// A priority present in current state but absent from this update is
	// emptied; include every previously-known priority so it gets
	// reconciled against an empty new-host list.
	for p := range e.localityWeights {
		if _, ok := staging[p]; !ok {
			priorities = append(priorities, p)
		}
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	for _, p := range priorities {
		e.applyPriority(p, staging[p])
	}

	e.initialized = true
	return nil
}

func (e *Engine) applyPriority(priority uint32, sp *stagingPriority) {
	hostSet := e.priorities.GetOrCreate(priority)
	currentHosts := hostSet.Hosts()

	var newHosts []*upstream.Host
	var localityOrder []upstream.Locality
	newWeights := make(map[upstream.Locality]uint32)
	if sp != nil {
		newHosts = sp.flatHosts()
		localityOrder = sp.localityOrder
		newWeights = sp.weights
	}

	added, removed, merged := reconcileHosts(newHosts, currentHosts)

	weightsChanged := !weightsEqual(e.localityWeights[priority], newWeights)
	changed := len(added) > 0 || len(removed) > 0 || weightsChanged

	if !changed {
		e.stats.Counter("update_no_rebuild").Inc()
		return
	}

	if e.cfg.DrainOnRemoval {
		// dropped immediately: nothing further to track.
	} else {
		e.draining[priority] = append(e.draining[priority], removed...)
	}

	hostsPerLocality, healthyPerLocality, localityWeights := rebuildLocalityView(merged, localityOrder, newWeights)
	healthy := healthySubset(merged)

	e.localityWeights[priority] = newWeights
	e.priorities.Update(priority, merged, healthy, hostsPerLocality, healthyPerLocality, localityWeights, added, removed)

	if len(merged) > 0 {
		e.stats.Counter("membership_healthy").Add(uint64(len(healthy)))
	}
}

// rebuildLocalityView partitions the merged (post-reconciliation) host
// list back into per-locality buckets, using localityOrder from the
// staging view so that any Host objects moved during
// reconciliation (same address, reused pointer) still land in the
// bucket their *new* locality assignment implies.
func rebuildLocalityView(merged []*upstream.Host, localityOrder []upstream.Locality, weights map[upstream.Locality]uint32) ([]upstream.LocalityBucket, []upstream.LocalityBucket, []uint32) {
	if len(localityOrder) == 0 {
		return nil, nil, nil
	}

	byLocality := make(map[upstream.Locality][]*upstream.Host, len(localityOrder))
	for _, h := range merged {
		byLocality[h.Locality()] = append(byLocality[h.Locality()], h)
	}

	hostsPerLocality := make([]upstream.LocalityBucket, len(localityOrder))
	healthyPerLocality := make([]upstream.LocalityBucket, len(localityOrder))
	localityWeights := make([]uint32, len(localityOrder))
	for i, loc := range localityOrder {
		bucket := byLocality[loc]
		hostsPerLocality[i] = upstream.LocalityBucket{Locality: loc, Hosts: bucket}
		healthyPerLocality[i] = upstream.LocalityBucket{Locality: loc, Hosts: healthySubset(bucket)}
		localityWeights[i] = weights[loc]
	}
	return hostsPerLocality, healthyPerLocality, localityWeights
}

func healthySubset(hosts []*upstream.Host) []*upstream.Host {
	var out []*upstream.Host
	for _, h := range hosts {
		if h.Healthy() {
			out = append(out, h)
		}
	}
	return out
}

func weightsEqual(a, b map[upstream.Locality]uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
