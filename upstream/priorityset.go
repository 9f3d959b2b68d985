package upstream

import "sync"

// MembershipObserver is notified after a priority's HostSet has been
// atomically updated. Observers are invoked synchronously, once per
// priority, in ascending priority order within a single update
// (spec.md §4.2).
type MembershipObserver interface {
	OnMembershipChange(priority uint32, added, removed []*Host)
}

// PrioritySet is the ordered vector of HostSets for one cluster. It
// grows monotonically — priorities are never removed — so observers
// that cached a *HostSet pointer never see it invalidated (spec.md §3).
type PrioritySet struct {
	mu        sync.RWMutex
	hostSets  []*HostSet
	observers []MembershipObserver
}

// NewPrioritySet returns an empty PrioritySet.
func NewPrioritySet() *PrioritySet {
	return &PrioritySet{}
}

// AddObserver appends an observer. The observer list is append-only
// within a run.
func (ps *PrioritySet) AddObserver(o MembershipObserver) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.observers = append(ps.observers, o)
}

// GetOrCreate returns the HostSet at priority, growing the vector if
// needed. Growth alone never triggers an observer callback.
func (ps *PrioritySet) GetOrCreate(priority uint32) *HostSet {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for uint32(len(ps.hostSets)) <= priority {
		ps.hostSets = append(ps.hostSets, NewHostSet())
	}
	return ps.hostSets[priority]
}

// HostSetCount returns the number of priorities currently allocated.
func (ps *PrioritySet) HostSetCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.hostSets)
}

// Update atomically swaps the HostSet contents at priority and then
// invokes every observer with the add/remove delta, in observer
// registration order.
func (ps *PrioritySet) Update(priority uint32, hosts, healthyHosts []*Host, hostsPerLocality, healthyPerLocality []LocalityBucket, localityWeights []uint32, added, removed []*Host) {
	hostSet := ps.GetOrCreate(priority)
	hostSet.Update(hosts, healthyHosts, hostsPerLocality, healthyPerLocality, localityWeights)

	ps.mu.RLock()
	observers := ps.observers
	ps.mu.RUnlock()

	for _, o := range observers {
		o.OnMembershipChange(priority, added, removed)
	}
}

// ChooseLocality picks a locality for the given priority via its
// HostSet's weighted scheduler.
func (ps *PrioritySet) ChooseLocality(priority uint32) (index int, ok bool) {
	hostSet := ps.GetOrCreate(priority)
	return hostSet.ChooseLocality()
}
