package upstream

import "container/heap"

// localityScheduler picks a locality index with probability proportional
// to its effective weight, using an earliest-deadline-first virtual
// scheduler (Design Notes §9): each pick pops the entry with the
// smallest next-virtual-finish-time and reinserts it with
// vft += 1/weight. Over many picks this converges to the weighted
// distribution the same way weighted-random selection would, without
// needing a random source.
type localityScheduler struct {
	entries schedHeap
}

type schedEntry struct {
	index  int
	weight float64
	vft    float64
}

type schedHeap []*schedEntry

func (h schedHeap) Len() int            { return len(h) }
func (h schedHeap) Less(i, j int) bool  { return h[i].vft < h[j].vft }
func (h schedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *schedHeap) Push(x interface{}) { *h = append(*h, x.(*schedEntry)) }
func (h *schedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// newLocalityScheduler builds a scheduler from effective weights, one
// per locality index in order. Localities with weight <= 0 are excluded
// entirely, per spec.md §3's invariant that a zero-weight locality is
// never selected.
func newLocalityScheduler(weights []float64) *localityScheduler {
	s := &localityScheduler{}
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		heap.Push(&s.entries, &schedEntry{index: i, weight: w, vft: 1 / w})
	}
	return s
}

// empty reports whether the scheduler has no selectable locality, i.e.
// every effective weight was zero.
func (s *localityScheduler) empty() bool {
	return s == nil || s.entries.Len() == 0
}

// pick returns the next locality index chosen by the EDF scheduler. ok
// is false iff the scheduler is empty.
func (s *localityScheduler) pick() (index int, ok bool) {
	if s.empty() {
		return 0, false
	}
	e := s.entries[0]
	index = e.index
	e.vft += 1 / e.weight
	heap.Fix(&s.entries, 0)
	return index, true
}
