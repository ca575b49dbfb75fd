package sched

import (
	"context"

	"qservworker/internal/memman"
	"qservworker/internal/task"
)

// ReadyState reports whether a chunk can currently hand out a task.
type ReadyState int

const (
	// NotReady means the chunk's active heap holds no task to reserve;
	// tasks on the pending list or already in flight do not count.
	NotReady ReadyState = iota
	// Ready means GetTask will return a task immediately.
	Ready
	// NoResources means the chunk has work but MemMan could not grant a
	// reservation for it; the caller must not skip past this chunk to
	// try another (see the queue's readiness sweep).
	NoResources
)

func (s ReadyState) String() string {
	switch s {
	case NotReady:
		return "NotReady"
	case Ready:
		return "Ready"
	case NoResources:
		return "NoResources"
	default:
		return "Unknown"
	}
}

// ChunkTasks holds every task queued or in flight for a single chunk id
// and decides, via MemMan, whether the chunk is ready to hand one out.
// Grounded on the original ChunkTasks class: a slow-table heap of
// not-yet-started tasks, a pending buffer for tasks queued while the
// chunk is "active", and a set of tasks currently executing.
//
// ChunkTasks is not safe for concurrent use by itself; ChunkTasksQueue
// guards every call with its own mutex, matching the single-lock
// concurrency model the rest of the scheduler uses.
type ChunkTasks struct {
	chunkID int64
	active  bool
	starved bool
	memMan  memman.MemMan

	readyTask    *task.Task
	readyRes     memman.Reservation
	activeHeap   *SlowTableHeap
	pending      []*task.Task
	inFlight     map[string]*task.Task
	reservations map[string]memman.Reservation
}

// NewChunkTasks constructs an empty ChunkTasks for chunkID.
func NewChunkTasks(chunkID int64, mm memman.MemMan) *ChunkTasks {
	return &ChunkTasks{
		chunkID:      chunkID,
		memMan:       mm,
		activeHeap:   NewSlowTableHeap(),
		inFlight:     make(map[string]*task.Task),
		reservations: make(map[string]memman.Reservation),
	}
}

// ChunkID returns the chunk this instance tracks.
func (c *ChunkTasks) ChunkID() int64 { return c.chunkID }

// Empty reports whether the chunk has no queued, ready, or in-flight work.
func (c *ChunkTasks) Empty() bool {
	return c.activeHeap.Empty() && len(c.pending) == 0 && c.readyTask == nil && len(c.inFlight) == 0
}

// Size returns the total number of tasks this chunk is holding, across
// every internal bucket.
func (c *ChunkTasks) Size() int {
	n := c.activeHeap.Size() + len(c.pending) + len(c.inFlight)
	if c.readyTask != nil {
		n++
	}
	return n
}

// Enqueue adds t to the chunk's work. While the chunk is active, newly
// arriving tasks accumulate in a pending buffer instead of joining the
// active heap, so a late arrival can't jump ahead of or disrupt an
// in-progress slowest-first scan; once the chunk goes inactive again,
// MovePendingToActive folds pending back into the heap.
func (c *ChunkTasks) Enqueue(t *task.Task) {
	if c.active {
		c.pending = append(c.pending, t)
		return
	}
	c.activeHeap.Push(t)
}

// MovePendingToActive drains the pending buffer into the active heap and
// re-heapifies, regardless of the chunk's active flag.
func (c *ChunkTasks) MovePendingToActive() {
	for _, t := range c.pending {
		c.activeHeap.Push(t)
	}
	c.pending = nil
}

// SetActive marks the chunk active or inactive.
func (c *ChunkTasks) SetActive(active bool) { c.active = active }

// IsActive reports the chunk's active flag.
func (c *ChunkTasks) IsActive() bool { return c.active }

// SetResourceStarved records whether the last Ready check failed with
// NoResources, so the queue can report it without recomputing.
func (c *ChunkTasks) SetResourceStarved(starved bool) { c.starved = starved }

// ResourceStarved reports the last-recorded starvation state.
func (c *ChunkTasks) ResourceStarved() bool { return c.starved }

// Ready decides whether the chunk can hand out a task right now. If a
// task is already reserved (from a prior Ready call that hasn't been
// claimed by GetTask), it returns Ready immediately without touching
// MemMan again — Ready is idempotent until GetTask consumes the result.
func (c *ChunkTasks) Ready(ctx context.Context, flexible bool) ReadyState {
	if c.readyTask != nil {
		return Ready
	}
	if c.activeHeap.Empty() {
		c.SetResourceStarved(false)
		return NotReady
	}
	candidate := c.activeHeap.Top()
	refs := toTableRefs(c.chunkID, candidate.ScanInfoOf())
	res, err := c.memMan.Reserve(ctx, refs, flexible)
	if err != nil {
		c.SetResourceStarved(true)
		return NoResources
	}
	c.activeHeap.Pop()
	candidate.MarkReserved(true)
	c.readyTask = candidate
	c.readyRes = res
	c.SetResourceStarved(false)
	return Ready
}

// GetTask returns the task reserved by the most recent Ready call that
// returned Ready, moving it into the in-flight set. It returns nil if
// Ready has not been called or did not succeed.
func (c *ChunkTasks) GetTask(ctx context.Context, flexible bool) *task.Task {
	if c.readyTask == nil {
		return nil
	}
	t := c.readyTask
	c.readyTask = nil
	c.inFlight[t.ID()] = t
	c.reservations[t.ID()] = c.readyRes
	c.readyRes = memman.Reservation{}
	return t
}

// TaskComplete releases t's MemMan reservation and removes it from the
// in-flight set. It is a no-op if t was not in flight.
func (c *ChunkTasks) TaskComplete(t *task.Task) {
	id := t.ID()
	if _, ok := c.inFlight[id]; !ok {
		return
	}
	if res, ok := c.reservations[id]; ok {
		c.memMan.Release(res)
		delete(c.reservations, id)
	}
	t.MarkReserved(false)
	delete(c.inFlight, id)
}

// RemoveTask removes a not-yet-started task (pending, active-heap, or
// reserved-but-unclaimed) by id. It cannot remove an in-flight task;
// callers must wait for TaskComplete. Returns true if a task was removed.
func (c *ChunkTasks) RemoveTask(id string) bool {
	if c.readyTask != nil && c.readyTask.ID() == id {
		c.memMan.Release(c.readyRes)
		c.readyTask.MarkReserved(false)
		c.readyTask = nil
		c.readyRes = memman.Reservation{}
		return true
	}
	if c.activeHeap.Remove(id) {
		return true
	}
	for i, t := range c.pending {
		if t.ID() == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// ReadyToAdvance reports whether the queue's active-chunk cursor may move
// past this chunk: true only once the active heap, pending list, and
// in-flight set are all empty and no task is reserved-but-unclaimed. The
// cursor must not advance while a task is still executing, even if
// nothing is left to start.
func (c *ChunkTasks) ReadyToAdvance() bool {
	return c.activeHeap.Empty() && len(c.pending) == 0 && c.readyTask == nil && len(c.inFlight) == 0
}

func toTableRefs(chunkID int64, info task.ScanInfo) []memman.TableRef {
	refs := make([]memman.TableRef, len(info.Tables))
	for i, t := range info.Tables {
		refs[i] = memman.TableRef{DB: t.DB, Table: t.Table, Chunk: chunkID}
	}
	return refs
}
