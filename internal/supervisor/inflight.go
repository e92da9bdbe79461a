package supervisor

import (
	"container/heap"
	"time"

	"github.com/technosupport/ts-hikbridge/internal/catalog"
)

// inflightSet tracks currently-active events with their expiry deadlines.
// A min-heap on deadline gives O(log n) refresh and O(1) next-deadline.
type inflightSet struct {
	byKey map[catalog.Entry]*inflightEntry
	heap  expiryHeap
}

type inflightEntry struct {
	key      catalog.Entry
	deadline time.Time
	index    int
}

func newInflightSet() *inflightSet {
	return &inflightSet{byKey: make(map[catalog.Entry]*inflightEntry)}
}

// Refresh records an active notification. Returns true when the entry was
// not in flight (an ON edge); otherwise only the deadline moves.
func (s *inflightSet) Refresh(key catalog.Entry, deadline time.Time) bool {
	if e, ok := s.byKey[key]; ok {
		e.deadline = deadline
		heap.Fix(&s.heap, e.index)
		return false
	}
	e := &inflightEntry{key: key, deadline: deadline}
	s.byKey[key] = e
	heap.Push(&s.heap, e)
	return true
}

// Remove closes an entry explicitly. Returns false when it was not in
// flight (no OFF edge to emit).
func (s *inflightSet) Remove(key catalog.Entry) bool {
	e, ok := s.byKey[key]
	if !ok {
		return false
	}
	delete(s.byKey, key)
	heap.Remove(&s.heap, e.index)
	return true
}

// NextDeadline returns the earliest expiry, if any entry is in flight.
func (s *inflightSet) NextDeadline() (time.Time, bool) {
	if len(s.heap) == 0 {
		return time.Time{}, false
	}
	return s.heap[0].deadline, true
}

// Expired pops every entry whose deadline has passed, earliest first.
func (s *inflightSet) Expired(now time.Time) []catalog.Entry {
	var out []catalog.Entry
	for len(s.heap) > 0 && !s.heap[0].deadline.After(now) {
		e := heap.Pop(&s.heap).(*inflightEntry)
		delete(s.byKey, e.key)
		out = append(out, e.key)
	}
	return out
}

// Drain pops every entry, earliest deadline first. Used on stream teardown
// to force-close everything before the offline edge.
func (s *inflightSet) Drain() []catalog.Entry {
	out := make([]catalog.Entry, 0, len(s.heap))
	for len(s.heap) > 0 {
		e := heap.Pop(&s.heap).(*inflightEntry)
		delete(s.byKey, e.key)
		out = append(out, e.key)
	}
	return out
}

func (s *inflightSet) Len() int { return len(s.byKey) }

type expiryHeap []*inflightEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*inflightEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
