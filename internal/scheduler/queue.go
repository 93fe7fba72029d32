package scheduler

import (
	"container/heap"
	"sort"
)

// Queue orders entries by descending priority, then by insertion order.
// Each ID may appear at most once.
type Queue[V any] struct {
	items entryHeap[V]
	index map[string]*entry[V]
	seq   uint64
}

type entry[V any] struct {
	id       string
	priority int
	seq      uint64
	value    V
	pos      int
}

// NewQueue returns an empty queue.
func NewQueue[V any]() *Queue[V] {
	return &Queue[V]{index: make(map[string]*entry[V])}
}

// Push adds id with the given priority. It returns false when id is already queued.
func (q *Queue[V]) Push(id string, priority int, value V) bool {
	if _, exists := q.index[id]; exists {
		return false
	}
	q.seq++
	e := &entry[V]{id: id, priority: priority, seq: q.seq, value: value}
	heap.Push(&q.items, e)
	q.index[id] = e
	return true
}

// Pop removes the highest-priority, oldest entry.
func (q *Queue[V]) Pop() (string, V, bool) {
	if len(q.items) == 0 {
		var zero V
		return "", zero, false
	}
	e := heap.Pop(&q.items).(*entry[V])
	delete(q.index, e.id)
	return e.id, e.value, true
}

// Remove drops id if present.
func (q *Queue[V]) Remove(id string) bool {
	e, ok := q.index[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, e.pos)
	delete(q.index, id)
	return true
}

// Contains reports whether id is queued.
func (q *Queue[V]) Contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

// Len reports the number of queued entries.
func (q *Queue[V]) Len() int { return len(q.items) }

// IDs returns queued IDs in dispatch order.
func (q *Queue[V]) IDs() []string {
	ordered := make([]*entry[V], len(q.items))
	copy(ordered, q.items)
	sort.Slice(ordered, func(i, j int) bool { return less(ordered[i], ordered[j]) })
	ids := make([]string, len(ordered))
	for i, e := range ordered {
		ids[i] = e.id
	}
	return ids
}

// Positions maps each queued ID to its dense 1-based rank.
func (q *Queue[V]) Positions() map[string]int {
	ids := q.IDs()
	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = i + 1
	}
	return out
}

// Clear empties the queue and returns the dropped IDs in dispatch order.
func (q *Queue[V]) Clear() []string {
	ids := q.IDs()
	q.items = nil
	q.index = make(map[string]*entry[V])
	return ids
}

func less[V any](a, b *entry[V]) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

type entryHeap[V any] []*entry[V]

func (h entryHeap[V]) Len() int           { return len(h) }
func (h entryHeap[V]) Less(i, j int) bool { return less(h[i], h[j]) }
func (h entryHeap[V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *entryHeap[V]) Push(x any) {
	e := x.(*entry[V])
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[V]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.pos = -1
	*h = old[:n-1]
	return e
}
