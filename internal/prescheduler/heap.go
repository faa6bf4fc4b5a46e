// Package prescheduler implements the single-threaded priority-queue
// worker described in spec.md §4.6: bundles classified as FarFuture wait
// here, keyed by release time, until they're due for the ring.
package prescheduler

import "container/heap"

type sessionTagKey struct {
	sessionID uint32
	runTag    uint32
}

// entry is one queued record. index is maintained by heap.Interface's
// Swap so Cancel* can call heap.Remove in O(log n) instead of scanning.
type entry struct {
	bytes      []byte
	sourceID   uint32
	releaseNTP float64
	arrivalSeq uint64
	sessionID  uint32
	runTag     uint32
	direct     bool // DirectDispatch: not tracked in the cancellation indices
	index      int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].releaseNTP != h[j].releaseNTP {
		return h[i].releaseNTP < h[j].releaseNTP
	}
	return h[i].arrivalSeq < h[j].arrivalSeq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// index is the queue's in-memory state: the heap plus the secondary
// cancellation lookups spec.md §4.6 requires for O(k) cancel_session_tag
// / cancel_session / cancel_tag.
type index struct {
	heap        entryHeap
	bySessionTag map[sessionTagKey]map[*entry]struct{}
	bySession    map[uint32]map[*entry]struct{}
	byTag        map[uint32]map[*entry]struct{}
}

func newIndex() *index {
	return &index{
		bySessionTag: make(map[sessionTagKey]map[*entry]struct{}),
		bySession:    make(map[uint32]map[*entry]struct{}),
		byTag:        make(map[uint32]map[*entry]struct{}),
	}
}

func (ix *index) insert(e *entry) {
	heap.Push(&ix.heap, e)
	if e.direct {
		return
	}
	addTo(ix.bySessionTag, sessionTagKey{e.sessionID, e.runTag}, e)
	addTo(ix.bySession, e.sessionID, e)
	addTo(ix.byTag, e.runTag, e)
}

func addTo[K comparable](m map[K]map[*entry]struct{}, key K, e *entry) {
	set, ok := m[key]
	if !ok {
		set = make(map[*entry]struct{})
		m[key] = set
	}
	set[e] = struct{}{}
}

// removeFromIndices drops e from every secondary lookup without
// touching the heap (used once e has already been popped).
func (ix *index) removeFromIndices(e *entry) {
	if e.direct {
		return
	}
	delete(ix.bySessionTag[sessionTagKey{e.sessionID, e.runTag}], e)
	delete(ix.bySession[e.sessionID], e)
	delete(ix.byTag[e.runTag], e)
}

// removeHeapEntry removes e from the heap by its current index and
// drops it from the secondary lookups.
func (ix *index) removeHeapEntry(e *entry) {
	if e.index >= 0 && e.index < len(ix.heap) && ix.heap[e.index] == e {
		heap.Remove(&ix.heap, e.index)
	}
	ix.removeFromIndices(e)
}

func (ix *index) cancelSessionTag(sessionID, runTag uint32) int {
	set := ix.bySessionTag[sessionTagKey{sessionID, runTag}]
	return ix.cancelSet(set)
}

func (ix *index) cancelSession(sessionID uint32) int {
	set := ix.bySession[sessionID]
	return ix.cancelSet(set)
}

func (ix *index) cancelTag(runTag uint32) int {
	set := ix.byTag[runTag]
	return ix.cancelSet(set)
}

func (ix *index) cancelSet(set map[*entry]struct{}) int {
	if len(set) == 0 {
		return 0
	}
	matched := make([]*entry, 0, len(set))
	for e := range set {
		matched = append(matched, e)
	}
	for _, e := range matched {
		ix.removeHeapEntry(e)
	}
	return len(matched)
}

func (ix *index) cancelAll() int {
	n := ix.heap.Len()
	ix.heap = nil
	ix.bySessionTag = make(map[sessionTagKey]map[*entry]struct{})
	ix.bySession = make(map[uint32]map[*entry]struct{})
	ix.byTag = make(map[uint32]map[*entry]struct{})
	return n
}

func (ix *index) len() int { return ix.heap.Len() }

func (ix *index) peekReleaseNTP() (float64, bool) {
	if len(ix.heap) == 0 {
		return 0, false
	}
	return ix.heap[0].releaseNTP, true
}

// popDue pops every entry whose releaseNTP is at or before threshold, in
// release order, and removes it from the secondary indices.
func (ix *index) popDue(threshold float64) []*entry {
	var due []*entry
	for len(ix.heap) > 0 && ix.heap[0].releaseNTP <= threshold {
		e := heap.Pop(&ix.heap).(*entry)
		ix.removeFromIndices(e)
		due = append(due, e)
	}
	return due
}
