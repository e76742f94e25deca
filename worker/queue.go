package worker

import (
	"container/heap"

	"github.com/IvanBrykalov/legendcache/snapshot"
	"github.com/IvanBrykalov/legendcache/symbol"
)

// Task is one generation request.
type Task struct {
	Key      symbol.Key
	Snap     *snapshot.Snapshot
	Epoch    uint64
	Priority int // higher runs first

	seq   uint64
	index int
}

// taskHeap orders by priority, then submission order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// queue is a keyed priority queue. Not safe for concurrent use.
type queue struct {
	h     taskHeap
	byKey map[symbol.Key]*Task
	seq   uint64
}

func newQueue() *queue {
	return &queue{byKey: make(map[symbol.Key]*Task)}
}

// push queues t, or refreshes the queued task for the same key. It reports
// whether a new slot was used.
func (q *queue) push(t *Task) bool {
	if old, ok := q.byKey[t.Key]; ok {
		old.Snap, old.Epoch = t.Snap, t.Epoch
		if t.Priority > old.Priority {
			old.Priority = t.Priority
			heap.Fix(&q.h, old.index)
		}
		return false
	}
	q.seq++
	t.seq = q.seq
	q.byKey[t.Key] = t
	heap.Push(&q.h, t)
	return true
}

func (q *queue) pop() *Task {
	if len(q.h) == 0 {
		return nil
	}
	t := heap.Pop(&q.h).(*Task)
	delete(q.byKey, t.Key)
	return t
}

func (q *queue) len() int { return len(q.h) }
