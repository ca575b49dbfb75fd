// Package sched implements the shared-scan task scheduler: a queue of
// per-chunk task sets that decides, chunk by chunk, which task should run
// next so that tasks touching the same chunk share its table pages in
// memory instead of each task paying to fault them in again.
package sched

import (
	"context"
	"sort"
	"sync"

	"qservworker/internal/memman"
	"qservworker/internal/task"
)

// ActiveChunkPolicy lets the queue enforce a ceiling on how many distinct
// chunks may be active at once without holding a reference back to
// whatever component owns that policy (the executor pool). Implementing
// this as a narrow, passive interface avoids a sched<->executor import
// cycle; the queue only ever calls it while already holding its own lock,
// so implementations must not call back into the queue.
type ActiveChunkPolicy interface {
	// ActiveChunkCount returns how many chunks are currently active.
	ActiveChunkCount() int
	// MaxActiveChunks returns the configured ceiling.
	MaxActiveChunks() int
	// ChunkAlreadyActive reports whether chunkID is one of the chunks
	// already counted in ActiveChunkCount, exempting it from the ceiling.
	ChunkAlreadyActive(chunkID int64) bool
}

// unlimitedPolicy is used when no ActiveChunkPolicy is supplied: every
// chunk may become active.
type unlimitedPolicy struct{}

func (unlimitedPolicy) ActiveChunkCount() int         { return 0 }
func (unlimitedPolicy) MaxActiveChunks() int          { return -1 }
func (unlimitedPolicy) ChunkAlreadyActive(int64) bool { return true }

// ChunkTasksQueue holds one ChunkTasks per chunk id with outstanding work
// and decides which chunk is "active" (the one new reservations favor) at
// any moment. It emulates the ordered map the original scheduler walks by
// keeping a sorted slice of chunk ids alongside the map, and tracks its
// cursor by chunk id rather than by map iterator or slice index — a
// slice index would need renumbering on every insert/erase ahead of it,
// and an id is stable across both.
//
// All exported methods take the queue's single mutex; this is the same
// single-lock-per-subsystem model the rest of the scheduler uses; nothing
// here ever blocks on I/O while holding it.
type ChunkTasksQueue struct {
	mu sync.Mutex

	ids    []int64
	chunks map[int64]*ChunkTasks

	hasActive bool
	activeID  int64

	hasReady bool
	readyID  int64

	memMan          memman.MemMan
	policy          ActiveChunkPolicy
	taskCount       int
	resourceStarved bool
}

// NewChunkTasksQueue constructs an empty queue. policy may be nil, in
// which case the active-chunk ceiling is disabled.
func NewChunkTasksQueue(mm memman.MemMan, policy ActiveChunkPolicy) *ChunkTasksQueue {
	if policy == nil {
		policy = unlimitedPolicy{}
	}
	return &ChunkTasksQueue{
		chunks: make(map[int64]*ChunkTasks),
		memMan: mm,
		policy: policy,
	}
}

// SetActiveChunkPolicy replaces the queue's policy. Constructing the
// executor pool that will police this queue requires the queue to already
// exist (it is the pool's ActiveChunkPolicy's receiver, not the other way
// around), so callers build the queue with a nil policy first and wire the
// real one in once the pool exists.
func (q *ChunkTasksQueue) SetActiveChunkPolicy(policy ActiveChunkPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if policy == nil {
		policy = unlimitedPolicy{}
	}
	q.policy = policy
}

// QueueTask adds t to its chunk's ChunkTasks, creating one if this is the
// first task seen for that chunk.
func (q *ChunkTasksQueue) QueueTask(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	chunkID := t.ChunkID()
	ct, ok := q.chunks[chunkID]
	if !ok {
		ct = NewChunkTasks(chunkID, q.memMan)
		q.chunks[chunkID] = ct
		q.ids = insertSorted(q.ids, chunkID)
	}
	q.taskCount++
	ct.Enqueue(t)
}

// Ready reports whether GetTask would currently return a task.
func (q *ChunkTasksQueue) Ready(ctx context.Context, flexible bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readyLocked(ctx, flexible)
}

// readyLocked implements the active-chunk sweep: it starts at the current
// active chunk, tries to advance past it once its queued work is drained,
// and then walks forward (wrapping around) until it finds a chunk that is
// READY, hits one that reports NoResources (in which case it stops dead
// rather than skip it — letting the scheduler skip past a
// resource-starved chunk would starve it indefinitely once a quieter
// chunk repeatedly wins the race), or has walked the whole ring without
// finding either.
func (q *ChunkTasksQueue) readyLocked(ctx context.Context, flexible bool) bool {
	if q.hasReady {
		return true
	}
	if len(q.ids) == 0 {
		return false
	}

	if !q.hasActive {
		q.activeID = q.ids[0]
		q.hasActive = true
		q.chunks[q.activeID].SetActive(true)
		q.chunks[q.activeID].MovePendingToActive()
	}

	active := q.chunks[q.activeID]
	if active.Ready(ctx, flexible) == Ready {
		q.resourceStarved = false
		q.readyID = q.activeID
		q.hasReady = true
		return true
	}

	if active.ReadyToAdvance() {
		next := q.nextID(q.activeID)
		wasOnlyChunk := next == q.activeID
		active.SetActive(false)
		if active.Empty() {
			q.removeChunk(q.activeID)
			if wasOnlyChunk {
				q.hasActive = false
			}
		}
		if len(q.ids) == 0 {
			return false
		}
		q.activeID = next
		newActive := q.chunks[q.activeID]
		newActive.MovePendingToActive()
		newActive.SetActive(true)
	}

	iterID := q.activeID
	iter := q.chunks[iterID]
	state := iter.Ready(ctx, flexible)
	for state != Ready && state != NoResources {
		iterID = q.nextID(iterID)
		if iterID == q.activeID {
			return false
		}
		if q.policy.MaxActiveChunks() >= 0 && q.policy.ActiveChunkCount() >= q.policy.MaxActiveChunks() {
			if !q.policy.ChunkAlreadyActive(iterID) {
				return false
			}
		}
		iter = q.chunks[iterID]
		state = iter.Ready(ctx, flexible)
	}
	if state == NoResources {
		q.resourceStarved = true
		return false
	}
	q.resourceStarved = false
	q.readyID = iterID
	q.hasReady = true
	return true
}

// GetTask returns the next task to run, or nil if none is ready.
func (q *ChunkTasksQueue) GetTask(ctx context.Context, flexible bool) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.readyLocked(ctx, flexible)
	if !q.hasReady {
		return nil
	}
	ct := q.chunks[q.readyID]
	t := ct.GetTask(ctx, flexible)
	q.hasReady = false
	if t != nil {
		q.taskCount--
	}
	return t
}

// NextTaskDifferentChunkID reports whether the active chunk will change
// by the time GetTask next returns a task — callers use this as a safe
// point to re-evaluate scheduling priority without disturbing an
// in-progress shared scan.
func (q *ChunkTasksQueue) NextTaskDifferentChunkID() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.hasActive {
		return true
	}
	return q.chunks[q.activeID].ReadyToAdvance()
}

// TaskComplete releases t's reservation and marks it no longer in flight.
func (q *ChunkTasksQueue) TaskComplete(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ct, ok := q.chunks[t.ChunkID()]; ok {
		ct.TaskComplete(t)
	}
}

// SetResourceStarved records the queue-wide starvation flag and returns
// its previous value.
func (q *ChunkTasksQueue) SetResourceStarved(starved bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev := q.resourceStarved
	q.resourceStarved = starved
	return prev
}

// ResourceStarved reports the queue-wide starvation flag: set when a
// readiness sweep stops at a NoResources chunk, cleared when a sweep finds
// a ready task, and overridable via SetResourceStarved.
func (q *ChunkTasksQueue) ResourceStarved() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resourceStarved
}

// GetActiveChunkID returns the active chunk's id, or -1 if there is none.
func (q *ChunkTasksQueue) GetActiveChunkID() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.hasActive {
		return -1
	}
	return q.activeID
}

// RemoveTask removes a not-yet-started task by id from its chunk. Returns
// true if a task was removed.
func (q *ChunkTasksQueue) RemoveTask(chunkID int64, taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ct, ok := q.chunks[chunkID]
	if !ok {
		return false
	}
	if ct.RemoveTask(taskID) {
		q.taskCount--
		return true
	}
	return false
}

// Empty reports whether the queue holds no chunks at all.
func (q *ChunkTasksQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids) == 0
}

// Size returns the total number of tasks across every chunk.
func (q *ChunkTasksQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.taskCount
}

// nextID returns the smallest id strictly greater than id, wrapping
// around to the smallest id in the ring if id is the largest. Precondition:
// len(q.ids) > 0 and id is present in q.ids (or was, just before removal).
func (q *ChunkTasksQueue) nextID(id int64) int64 {
	i := sort.Search(len(q.ids), func(i int) bool { return q.ids[i] > id })
	if i == len(q.ids) {
		return q.ids[0]
	}
	return q.ids[i]
}

func (q *ChunkTasksQueue) removeChunk(id int64) {
	delete(q.chunks, id)
	q.ids = removeSorted(q.ids, id)
}

func insertSorted(ids []int64, id int64) []int64 {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeSorted(ids []int64, id int64) []int64 {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i == len(ids) || ids[i] != id {
		return ids
	}
	return append(ids[:i], ids[i+1:]...)
}
