package executor

import (
	"github.com/vmihailenco/msgpack/v5"

	"qservworker/internal/task"
	"qservworker/internal/transport"
)

// StatusReport is the msgpack-encoded payload a STATUS request receives.
type StatusReport struct {
	ActiveChunkID   int64 `msgpack:"active_chunk_id"`
	HasActiveChunk  bool  `msgpack:"has_active_chunk"`
	QueueSize       int   `msgpack:"queue_size"`
	ActiveChunks    int   `msgpack:"active_chunks"`
	ResourceStarved bool  `msgpack:"resource_starved"`
}

func parsePriority(s string) task.Priority {
	switch s {
	case "MEDIUM":
		return task.PriorityMedium
	case "HIGH":
		return task.PriorityHigh
	case "CRITICAL":
		return task.PriorityCritical
	default:
		return task.PriorityLow
	}
}

func scanInfoFrom(db string, tables []transport.TableScan) task.ScanInfo {
	out := make([]task.TableScan, len(tables))
	for i, ts := range tables {
		tableDB := ts.DB
		if tableDB == "" {
			tableDB = db
		}
		out[i] = task.TableScan{DB: tableDB, Table: ts.Table, Slowness: ts.Slowness}
	}
	return task.ScanInfo{Tables: out}
}

// HandleQuery implements transport.RequestHandler. It constructs a Task
// and hands it to the queue; execution happens asynchronously on a worker
// goroutine, which drives sink to completion. A non-nil return means the
// request never became schedulable (e.g. a malformed body) and the
// session reports it as an error without involving a worker.
func (p *Pool) HandleQuery(id string, res transport.Resource, body transport.QueryBody, sink task.ReplySink) error {
	t, err := task.New(id, int64(body.Chunk), body.Fragments, scanInfoFrom(body.DB, body.ScanInfo), parsePriority(body.Priority), sink)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.pendingChunk[id] = t.ChunkID()
	p.mu.Unlock()

	p.queue.QueueTask(t)
	p.wake()
	return nil
}

// HandleReplicate implements transport.RequestHandler. The replication
// controller that originally consumed this request type is an external
// collaborator out of scope here; the scheduler only needs to acknowledge
// the request, which it does without touching the task queue.
func (p *Pool) HandleReplicate(id string, body transport.ReplicateBody) error {
	p.logger.Debug("replicate request acknowledged", "id", id, "database", body.Database, "chunk", body.Chunk)
	return nil
}

// HandleStop implements transport.RequestHandler. It cancels a task that
// has not yet been picked up by a worker by removing it from the queue
// outright, or sets the cooperative cancellation flag on one already
// running.
func (p *Pool) HandleStop(id string, body transport.ControlBody) error {
	p.mu.Lock()
	chunkID, pending := p.pendingChunk[id]
	running, isRunning := p.inFlight[id]
	p.mu.Unlock()

	if pending {
		if p.queue.RemoveTask(chunkID, id) {
			p.mu.Lock()
			delete(p.pendingChunk, id)
			p.mu.Unlock()
			return nil
		}
	}
	if isRunning {
		running.Cancel()
		return nil
	}
	return task.NewError(task.ErrorKindBadRequest, "no task with id %q is queued or running", id)
}

// HandleStatus implements transport.RequestHandler, reporting the
// scheduler's current queue depth and active-chunk state.
func (p *Pool) HandleStatus(id string, body transport.ControlBody, sink task.ReplySink) error {
	p.mu.Lock()
	activeChunks := len(p.activeChunks)
	p.mu.Unlock()

	report := StatusReport{
		QueueSize:       p.queue.Size(),
		ActiveChunks:    activeChunks,
		ResourceStarved: p.queue.ResourceStarved(),
	}
	if chunkID := p.queue.GetActiveChunkID(); chunkID >= 0 {
		report.ActiveChunkID = chunkID
		report.HasActiveChunk = true
	}

	encoded, err := msgpack.Marshal(report)
	if err != nil {
		return err
	}
	sink.Send(encoded)
	return nil
}
