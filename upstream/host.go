// Package upstream implements the cluster/endpoint membership data
// model: Host, HostSet, and PrioritySet (spec.md §3-§4.2). Host's
// address-equality dedup and weight-clamping rules are the foundation
// the membership engine's reconciliation algorithm builds on.
package upstream

import (
	"sync"

	"github.com/relaymesh/dataplane/pkg/addr"
)

// HealthFlag is a bit in a Host's health bitset. A Host is healthy iff
// no flag is set.
type HealthFlag uint32

const (
	// FailedActiveHC marks a host that failed active health checking.
	FailedActiveHC HealthFlag = 1 << iota
	// FailedOutlierCheck marks a host ejected by outlier detection.
	FailedOutlierCheck
	// FailedEDSHealth marks a host reported unhealthy by the endpoint
	// discovery source itself.
	FailedEDSHealth
)

// Locality is a region/zone/sub-zone triple describing a host's
// topology.
type Locality struct {
	Region  string
	Zone    string
	SubZone string
}

const (
	minWeight = 1
	maxWeight = 128
)

// Host is a single upstream endpoint. Address is immutable for the
// lifetime of a Host; weight, metadata, and locality are mutated in
// place across membership updates that reconcile it, as described in
// spec.md §4.3. Health flags change only through SetHealthFlag and
// ClearHealthFlag; reconciliation keeps a reused Host's flags as they
// are.
type Host struct {
	Address  addr.TCPAddress
	Hostname string

	mu       sync.RWMutex
	locality Locality
	metadata map[string]string
	weight   uint32
	health   uint32 // atomic-free; guarded by mu alongside the other mutable fields
	used     bool
}

// NewHost constructs a Host with clamped weight and the given locality
// and metadata. New hosts are marked used.
func NewHost(address addr.TCPAddress, hostname string, locality Locality, metadata map[string]string, weight uint32) *Host {
	return &Host{
		Address:  address,
		Hostname: hostname,
		locality: locality,
		metadata: metadata,
		weight:   clampWeight(weight),
		used:     true,
	}
}

func clampWeight(w uint32) uint32 {
	if w < minWeight {
		return minWeight
	}
	if w > maxWeight {
		return maxWeight
	}
	return w
}

// Equal reports whether h and other are the same endpoint, by address
// equality only, per spec.md §3's dedup invariant.
func (h *Host) Equal(other *Host) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.Address.Equal(other.Address)
}

// Weight returns the host's current load-balancing weight.
func (h *Host) Weight() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.weight
}

// SetWeight clamps and stores a new weight.
func (h *Host) SetWeight(w uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.weight = clampWeight(w)
}

// Locality returns the host's current locality.
func (h *Host) Locality() Locality {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.locality
}

// SetLocality updates the host's locality in place.
func (h *Host) SetLocality(l Locality) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.locality = l
}

// Metadata returns the host's current metadata map reference.
func (h *Host) Metadata() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metadata
}

// SetMetadata whole-replaces the metadata reference.
func (h *Host) SetMetadata(m map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata = m
}

// Healthy reports whether the host currently has no health flags set.
func (h *Host) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health == 0
}

// SetHealthFlag sets a health flag.
func (h *Host) SetHealthFlag(f HealthFlag) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.health |= uint32(f)
}

// ClearHealthFlag clears a health flag.
func (h *Host) ClearHealthFlag(f HealthFlag) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.health &^= uint32(f)
}

// Used reports the host's used flag. NewHost sets it to true; after
// that it changes only through SetUsed, which the membership
// reconciliation does not call, so a reused Host keeps its flag.
func (h *Host) Used() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.used
}

// SetUsed updates the used flag.
func (h *Host) SetUsed(used bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.used = used
}
