package executor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"qservworker/internal/memman"
	"qservworker/internal/sched"
	"qservworker/internal/task"
	"qservworker/internal/transport"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeExecutor) ExecuteFragment(_ context.Context, db string, chunk int64, fragment string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fragment)
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("boom")
	}
	return []byte(fragment + ";"), nil
}

type capturingSink struct {
	mu       sync.Mutex
	streamed [][]byte
	last     bool
	errCode  int32
	errMsg   string
	sent     []byte
	done     chan struct{}
}

func newCapturingSink() *capturingSink {
	return &capturingSink{done: make(chan struct{})}
}

func (s *capturingSink) Send(b []byte) bool {
	s.mu.Lock()
	s.sent = b
	s.mu.Unlock()
	close(s.done)
	return true
}

func (s *capturingSink) SendError(message string, code int32) {
	s.mu.Lock()
	s.errMsg = message
	s.errCode = code
	s.mu.Unlock()
	close(s.done)
}

func (s *capturingSink) SendFile(fd uintptr, size int64) bool {
	close(s.done)
	return true
}

func (s *capturingSink) SendStream(b []byte, last bool) bool {
	s.mu.Lock()
	s.streamed = append(s.streamed, b)
	if last {
		s.last = true
	}
	s.mu.Unlock()
	if last {
		close(s.done)
	}
	return true
}

func (s *capturingSink) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal reply")
	}
}

func newTestPool(exec SQLExecutor, cfg PoolConfig) (*Pool, *sched.ChunkTasksQueue) {
	mm := memman.NewBudgetMemMan(memman.BudgetConfig{BudgetBytes: 1 << 30})
	queue := sched.NewChunkTasksQueue(mm, nil)
	pool := NewPool(queue, exec, cfg)
	queue.SetActiveChunkPolicy(pool)
	return pool, queue
}

func TestHandleQueryExecutesAndStreamsReply(t *testing.T) {
	exec := &fakeExecutor{}
	pool, queue := newTestPool(exec, PoolConfig{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	sink := newCapturingSink()
	body := transport.QueryBody{DB: "LSST", Chunk: 7, Fragments: []string{"SELECT 1", "SELECT 2"}}
	if err := pool.HandleQuery("r1", transport.Resource{}, body, sink); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	sink.waitDone(t)

	if !sink.last {
		t.Fatal("expected terminal stream frame")
	}
	got := bytes.Join(sink.streamed, nil)
	if string(got) != "SELECT 1;SELECT 2;" {
		t.Fatalf("unexpected streamed result: %q", got)
	}
	if queue.Size() != 0 {
		t.Fatalf("queue size = %d, want 0 after completion", queue.Size())
	}
}

func TestHandleQueryFragmentFailureSendsError(t *testing.T) {
	exec := &fakeExecutor{fail: true}
	pool, _ := newTestPool(exec, PoolConfig{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	sink := newCapturingSink()
	body := transport.QueryBody{DB: "LSST", Chunk: 1, Fragments: []string{"SELECT 1"}}
	if err := pool.HandleQuery("r1", transport.Resource{}, body, sink); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	sink.waitDone(t)

	if sink.errCode != task.ErrorKindResource.Code() {
		t.Fatalf("errCode = %d, want %d", sink.errCode, task.ErrorKindResource.Code())
	}
}

func TestHandleStopRemovesPendingTask(t *testing.T) {
	exec := &fakeExecutor{}
	// No workers running: the task stays pending, letting us exercise the
	// queue-removal path deterministically.
	pool, queue := newTestPool(exec, PoolConfig{Workers: 1})

	sink := newCapturingSink()
	body := transport.QueryBody{DB: "LSST", Chunk: 1, Fragments: []string{"SELECT 1"}}
	if err := pool.HandleQuery("r1", transport.Resource{}, body, sink); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if err := pool.HandleStop("r1", transport.ControlBody{ID: "r1"}); err != nil {
		t.Fatalf("HandleStop: %v", err)
	}
	if queue.Size() != 0 {
		t.Fatalf("queue size = %d, want 0 after stop", queue.Size())
	}
}

func TestHandleStopUnknownIDReturnsError(t *testing.T) {
	pool, _ := newTestPool(&fakeExecutor{}, PoolConfig{Workers: 1})
	if err := pool.HandleStop("missing", transport.ControlBody{ID: "missing"}); err == nil {
		t.Fatal("expected error for unknown task id")
	}
}

func TestHandleStatusReportsQueueState(t *testing.T) {
	pool, _ := newTestPool(&fakeExecutor{}, PoolConfig{Workers: 0})

	sink := newCapturingSink()
	if err := pool.HandleStatus("r1", transport.ControlBody{ID: "r1"}, sink); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	<-sink.done

	var report StatusReport
	if err := msgpack.Unmarshal(sink.sent, &report); err != nil {
		t.Fatalf("unmarshal status report: %v", err)
	}
	if report.QueueSize != 0 || report.HasActiveChunk {
		t.Fatalf("unexpected report on empty queue: %+v", report)
	}
}

func TestPoolReportsConfiguredActiveChunkCeiling(t *testing.T) {
	pool, _ := newTestPool(&fakeExecutor{}, PoolConfig{MaxActiveChunks: 1})
	if pool.MaxActiveChunks() != 1 {
		t.Fatalf("MaxActiveChunks() = %d, want 1", pool.MaxActiveChunks())
	}
	if pool.ChunkAlreadyActive(5) {
		t.Fatal("chunk 5 should not be active before any task runs")
	}
}

// blockingExecutor holds every fragment execution until release is closed,
// letting a test observe a task while it is in flight.
type blockingExecutor struct {
	release chan struct{}
}

func (b *blockingExecutor) ExecuteFragment(ctx context.Context, db string, chunk int64, fragment string) ([]byte, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return []byte("ok"), nil
}

// TestActiveChunkCountTracksInFlightExecution verifies the policy surface
// the queue consults: while a worker is executing a chunk's task,
// ActiveChunkCount/ChunkAlreadyActive report it, and both drop back to
// empty once the task's reply has been sent.
func TestActiveChunkCountTracksInFlightExecution(t *testing.T) {
	exec := &blockingExecutor{release: make(chan struct{})}
	pool, _ := newTestPool(exec, PoolConfig{Workers: 1, MaxActiveChunks: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	sink := newCapturingSink()
	if err := pool.HandleQuery("a", transport.Resource{}, transport.QueryBody{DB: "LSST", Chunk: 9, Fragments: []string{"SELECT 1"}}, sink); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.ActiveChunkCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pool.ActiveChunkCount() != 1 || !pool.ChunkAlreadyActive(9) {
		t.Fatalf("expected chunk 9 to be reported active while in flight, count=%d", pool.ActiveChunkCount())
	}

	close(exec.release)
	sink.waitDone(t)

	deadline = time.Now().Add(2 * time.Second)
	for pool.ActiveChunkCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pool.ActiveChunkCount() != 0 {
		t.Fatal("expected chunk to no longer be reported active after completion")
	}
}
