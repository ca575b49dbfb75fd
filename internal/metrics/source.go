package metrics

import (
	"qservworker/internal/executor"
	"qservworker/internal/sched"
)

// QueuePoolSource adapts a queue and its executor pool to StatsSource.
// Queue-size and starvation come from the queue; in-flight chunk count
// comes from the pool, since the queue's own "active chunk" cursor and
// the pool's in-flight execution count are deliberately separate things.
type QueuePoolSource struct {
	Queue *sched.ChunkTasksQueue
	Pool  *executor.Pool
}

func (s QueuePoolSource) Size() int            { return s.Queue.Size() }
func (s QueuePoolSource) ResourceStarved() bool { return s.Queue.ResourceStarved() }
func (s QueuePoolSource) ActiveChunkCount() int { return s.Pool.ActiveChunkCount() }
