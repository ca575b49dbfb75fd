package sched

import (
	"container/heap"

	"qservworker/internal/task"
)

// taskHeap is a container/heap.Interface over tasks ordered by
// task.ScanInfo.Compare: the slowest scan sorts to the top, so a chunk's
// scheduler can always hand out the heaviest remaining table scan first.
type taskHeap []*task.Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].ScanInfoOf().Compare(h[j].ScanInfoOf()) < 0
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*task.Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// SlowTableHeap orders a chunk's queued tasks by scan slowness, always
// surfacing the slowest-scanning task next. It is not safe for concurrent
// use; callers (ChunkTasks) hold their own lock.
type SlowTableHeap struct {
	h taskHeap
}

// NewSlowTableHeap returns an empty heap ready for use.
func NewSlowTableHeap() *SlowTableHeap {
	return &SlowTableHeap{}
}

// Push inserts t, maintaining heap order.
func (s *SlowTableHeap) Push(t *task.Task) {
	heap.Push(&s.h, t)
}

// Pop removes and returns the slowest-scanning task. Panics if the heap is
// empty; callers must check Empty first.
func (s *SlowTableHeap) Pop() *task.Task {
	return heap.Pop(&s.h).(*task.Task)
}

// Top returns the slowest-scanning task without removing it, or nil if
// the heap is empty.
func (s *SlowTableHeap) Top() *task.Task {
	if len(s.h) == 0 {
		return nil
	}
	return s.h[0]
}

// Size returns the number of queued tasks.
func (s *SlowTableHeap) Size() int { return len(s.h) }

// Empty reports whether the heap holds no tasks.
func (s *SlowTableHeap) Empty() bool { return len(s.h) == 0 }

// Remove deletes the task with the given id, if present, preserving heap
// order. Returns true if a task was removed.
func (s *SlowTableHeap) Remove(id string) bool {
	for i, t := range s.h {
		if t.ID() == id {
			heap.Remove(&s.h, i)
			return true
		}
	}
	return false
}
