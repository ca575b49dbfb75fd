package task

import "sync/atomic"

// Priority is the wire-level priority tier. The scheduler orders only by
// slow-table rank; priority is advisory: it is stored on the Task and not
// consulted by the scheduler or included in STATUS reports.
type Priority int32

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// ReplySink is the handle through which an executor streams a task's
// response back to the coordinator. Modeled as a plain interface (no
// language-specific async primitives) per the design notes: production
// code implements it over the framed transport, tests implement it over an
// in-memory buffer.
//
// Exactly one terminal call — SendError, SendStream(last=true), or a
// successful Send/SendFile — is made per inbound request.
type ReplySink interface {
	// Send writes an opportunistic single-shot reply. Returns false on
	// transport error.
	Send(b []byte) bool
	// SendError writes an error frame; terminal for the request.
	SendError(message string, code int32)
	// SendFile sends a local file's contents. On failure it must degrade
	// to SendError without leaving the transport half-written.
	SendFile(fd uintptr, size int64) bool
	// SendStream writes one chunk of a streamed reply. last=true completes
	// the response and releases the session for its next request.
	SendStream(b []byte, last bool) bool
}

// Task is the immutable descriptor of one unit of scheduling work. Once
// constructed it is never mutated except for the cooperative cancellation
// flag, which any component currently holding the Task may observe.
type Task struct {
	id         string
	chunkID    int64
	fragments  []string
	scanInfo   ScanInfo
	priority   Priority
	sink       ReplySink
	cancelled  atomic.Bool
	reserved   atomic.Bool // true while a MemMan reservation is attached
}

// New validates and constructs a Task. Construction fails with
// ErrorKindBadRequest if chunkID is negative or fragments is empty; such a
// task must never enter any queue.
func New(id string, chunkID int64, fragments []string, scanInfo ScanInfo, priority Priority, sink ReplySink) (*Task, error) {
	if chunkID < 0 {
		return nil, NewError(ErrorKindBadRequest, "chunk id %d is negative", chunkID)
	}
	if len(fragments) == 0 {
		return nil, NewError(ErrorKindBadRequest, "task has no SQL fragments")
	}
	if sink == nil {
		return nil, NewError(ErrorKindBadRequest, "task has no reply sink")
	}
	frags := make([]string, len(fragments))
	copy(frags, fragments)
	return &Task{
		id:        id,
		chunkID:   chunkID,
		fragments: frags,
		scanInfo:  scanInfo,
		priority:  priority,
		sink:      sink,
	}, nil
}

// ID returns the request id this task was constructed from.
func (t *Task) ID() string { return t.id }

// ChunkID returns the chunk this task targets.
func (t *Task) ChunkID() int64 { return t.chunkID }

// DB returns the database this task's fragments run against, taken from
// the first table in its scan manifest. Empty if the manifest is empty.
func (t *Task) DB() string {
	if len(t.scanInfo.Tables) == 0 {
		return ""
	}
	return t.scanInfo.Tables[0].DB
}

// ScanInfoOf returns the table-level slowness manifest used for ordering.
func (t *Task) ScanInfoOf() ScanInfo { return t.scanInfo }

// Fragments returns the ordered SQL fragments; each is executed in order,
// and the executor is free to stream results between fragments.
func (t *Task) Fragments() []string { return t.fragments }

// Priority returns the advisory priority tier.
func (t *Task) Priority() Priority { return t.priority }

// Sink returns the reply sink bound to this task.
func (t *Task) Sink() ReplySink { return t.sink }

// Cancel sets the cooperative cancellation flag.
func (t *Task) Cancel() { t.cancelled.Store(true) }

// IsCancelled reports whether Cancel has been called.
func (t *Task) IsCancelled() bool { return t.cancelled.Load() }

// MarkReserved records whether a MemMan reservation is attached to this
// task.
func (t *Task) MarkReserved(v bool) { t.reserved.Store(v) }

// IsReserved reports whether a MemMan reservation is currently attached.
func (t *Task) IsReserved() bool { return t.reserved.Load() }
