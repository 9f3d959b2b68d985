package upstream

import "sync"

// LocalityBucket groups the hosts that share one locality. Bucket order
// follows the order localities first appeared in an update; if a
// "local" locality was identified, it occupies bucket 0 (spec.md §4.1).
type LocalityBucket struct {
	Locality Locality
	Hosts    []*Host
}

// HostSet holds every host at one priority tier, plus the derived
// healthy subset and locality partitions (spec.md §3). All five
// parallel structures (hosts, healthy hosts, per-locality buckets,
// locality weights) are swapped atomically by Update so that readers
// never observe a partially-applied update.
type HostSet struct {
	mu sync.RWMutex

	hosts              []*Host
	healthyHosts       []*Host
	hostsPerLocality   []LocalityBucket
	healthyPerLocality []LocalityBucket
	localityWeights    []uint32

	scheduler *localityScheduler
}

// NewHostSet returns an empty HostSet.
func NewHostSet() *HostSet {
	return &HostSet{}
}

// Hosts returns the full host list for this priority.
func (hs *HostSet) Hosts() []*Host {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.hosts
}

// HealthyHosts returns the subset of Hosts with no health flags set.
func (hs *HostSet) HealthyHosts() []*Host {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.healthyHosts
}

// HostsPerLocality returns the locality partition of the full host list.
func (hs *HostSet) HostsPerLocality() []LocalityBucket {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.hostsPerLocality
}

// HealthyHostsPerLocality returns the locality partition of the healthy
// subset.
func (hs *HostSet) HealthyHostsPerLocality() []LocalityBucket {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.healthyPerLocality
}

// Update atomically replaces every derived structure. hostsPerLocality
// and healthyPerLocality must have one bucket per entry in
// localityWeights, in the same order; the locality scheduler is rebuilt
// from effective weight = localityWeight * healthyCount/totalCount for
// each locality.
func (hs *HostSet) Update(hosts, healthyHosts []*Host, hostsPerLocality, healthyPerLocality []LocalityBucket, localityWeights []uint32) {
	effective := make([]float64, len(localityWeights))
	for i, w := range localityWeights {
		total := 0
		if i < len(hostsPerLocality) {
			total = len(hostsPerLocality[i].Hosts)
		}
		healthy := 0
		if i < len(healthyPerLocality) {
			healthy = len(healthyPerLocality[i].Hosts)
		}
		if total == 0 || w == 0 {
			effective[i] = 0
			continue
		}
		effective[i] = float64(w) * float64(healthy) / float64(total)
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.hosts = hosts
	hs.healthyHosts = healthyHosts
	hs.hostsPerLocality = hostsPerLocality
	hs.healthyPerLocality = healthyPerLocality
	hs.localityWeights = localityWeights
	hs.scheduler = newLocalityScheduler(effective)
}

// ChooseLocality returns the index of a locality bucket chosen by the
// weighted scheduler, or ok=false if every locality has zero effective
// weight (spec.md §4.2's choose_locality contract).
func (hs *HostSet) ChooseLocality() (index int, ok bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.scheduler.pick()
}
