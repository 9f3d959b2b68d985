package tcpproxy

import "sync/atomic"

// ResourceLimits are the runtime-overridable maxima for one cluster's
// per-priority resource manager (spec.md §5: "max values read from a
// runtime-overridable config"). Zero means unlimited for that counter.
type ResourceLimits struct {
	MaxConnections uint64
	MaxPending     uint64
	MaxRequests    uint64
	MaxRetries     uint64
}

// ResourceManager tracks one cluster's live connection/pending/request/
// retry counts with atomic counters, circuit-breaking new upstream
// connections once a limit is reached (spec.md §4.4's "connection-pool
// overflow" case and §5's per-cluster per-priority resource manager).
// Not grounded in any pack example — no example repo models connection
// admission control — so this is a direct, minimal rendering of the
// atomic-counter structure spec.md §5 names explicitly.
type ResourceManager struct {
	limits atomic.Pointer[ResourceLimits]

	connections uint64
	pending     uint64
	requests    uint64
	retries     uint64
}

// NewResourceManager returns a ResourceManager enforcing limits.
func NewResourceManager(limits ResourceLimits) *ResourceManager {
	rm := &ResourceManager{}
	rm.limits.Store(&limits)
	return rm
}

// SetLimits atomically swaps the enforced limits, supporting runtime
// overrides without reconstructing the manager.
func (rm *ResourceManager) SetLimits(limits ResourceLimits) {
	rm.limits.Store(&limits)
}

// TryAcquireConnection attempts to admit one new upstream connection,
// returning false (without mutating the counter) if doing so would
// exceed MaxConnections. The caller must call ReleaseConnection when
// the connection closes.
func (rm *ResourceManager) TryAcquireConnection() bool {
	return tryAcquire(&rm.connections, rm.limits.Load().MaxConnections)
}

// ReleaseConnection returns one previously-acquired connection slot.
func (rm *ResourceManager) ReleaseConnection() {
	release(&rm.connections)
}

// Connections returns the current live connection count.
func (rm *ResourceManager) Connections() uint64 { return atomic.LoadUint64(&rm.connections) }

func tryAcquire(counter *uint64, max uint64) bool {
	if max == 0 {
		atomic.AddUint64(counter, 1)
		return true
	}
	for {
		cur := atomic.LoadUint64(counter)
		if cur >= max {
			return false
		}
		if atomic.CompareAndSwapUint64(counter, cur, cur+1) {
			return true
		}
	}
}

func release(counter *uint64) {
	for {
		cur := atomic.LoadUint64(counter)
		if cur == 0 {
			return
		}
		if atomic.CompareAndSwapUint64(counter, cur, cur-1) {
			return
		}
	}
}
