package executor

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"qservworker/internal/config"
	"qservworker/internal/logging"
	"qservworker/internal/sched"
	"qservworker/internal/task"
	"qservworker/internal/transport"
)

// pollInterval bounds how long a worker waits for a wake signal before
// re-checking the queue on its own; it is a backstop against a missed
// notify, not the primary wakeup path.
const pollInterval = 50 * time.Millisecond

// PoolConfig configures a Pool's worker count and scheduling policy.
type PoolConfig struct {
	// Workers is how many goroutines pull tasks from Queue concurrently.
	Workers int
	// MaxActiveChunks caps how many distinct chunks may be in flight at
	// once; -1 or 0 disables the cap.
	MaxActiveChunks int
	// FlexibleLockByDefault is passed to every GetTask/Ready call. Ignored
	// once Watcher is set; Watcher.Live() takes over instead.
	FlexibleLockByDefault bool
	// Watcher, when set, supersedes MaxActiveChunks and
	// FlexibleLockByDefault above with a hot-reloadable source.
	Watcher *config.Watcher
	// SpillDir is where oversized results are written as seekable-zstd
	// scratch files before being handed to SendFile.
	SpillDir string
	// SpillThreshold is the result size, in bytes, above which a result is
	// spilled to disk instead of sent inline.
	SpillThreshold int
	Logger         *slog.Logger
}

// Pool is the worker-thread-pool side of the scheduler contract: it
// implements sched.ActiveChunkPolicy (so the queue can enforce
// MaxActiveChunks without importing this package) and
// transport.RequestHandler (so a Dispatcher can hand it decoded requests
// directly), and runs the goroutines that actually execute fragments.
type Pool struct {
	queue  *sched.ChunkTasksQueue
	exec   SQLExecutor
	cfg    PoolConfig
	logger *slog.Logger

	mu           sync.Mutex
	pendingChunk map[string]int64
	inFlight     map[string]*task.Task
	activeChunks map[int64]int

	notify chan struct{}
}

// NewPool builds a Pool that pulls from queue and executes fragments via
// exec. Callers should follow up with queue.SetActiveChunkPolicy(pool) so
// the queue enforces this Pool's MaxActiveChunks ceiling; the queue must
// exist before the pool that will police it, so that wiring cannot happen
// at queue construction time.
func NewPool(queue *sched.ChunkTasksQueue, exec SQLExecutor, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pool{
		queue:        queue,
		exec:         exec,
		cfg:          cfg,
		logger:       logging.Default(cfg.Logger).With("component", "executor.pool"),
		pendingChunk: make(map[string]int64),
		inFlight:     make(map[string]*task.Task),
		activeChunks: make(map[int64]int),
		notify:       make(chan struct{}, 1),
	}
}

// ActiveChunkCount implements sched.ActiveChunkPolicy.
func (p *Pool) ActiveChunkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.activeChunks)
}

// MaxActiveChunks implements sched.ActiveChunkPolicy.
func (p *Pool) MaxActiveChunks() int {
	max := p.cfg.MaxActiveChunks
	if p.cfg.Watcher != nil {
		max = p.cfg.Watcher.Live().MaxActiveChunks
	}
	if max <= 0 {
		return -1
	}
	return max
}

// flexibleLockByDefault returns the current flexible-lock default,
// consulting cfg.Watcher when one is configured.
func (p *Pool) flexibleLockByDefault() bool {
	if p.cfg.Watcher != nil {
		return p.cfg.Watcher.Live().FlexibleLockByDefault
	}
	return p.cfg.FlexibleLockByDefault
}

// ChunkAlreadyActive implements sched.ActiveChunkPolicy.
func (p *Pool) ChunkAlreadyActive(chunkID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.activeChunks[chunkID]
	return ok
}

func (p *Pool) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run starts cfg.Workers goroutines pulling and executing tasks until ctx
// is cancelled or a worker returns a non-nil error.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			return p.workerLoop(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		t := p.queue.GetTask(ctx, p.flexibleLockByDefault())
		if t == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-p.notify:
			case <-ticker.C:
			}
			continue
		}

		p.beginTask(t)
		p.runTask(ctx, t)
		p.endTask(t)
	}
}

func (p *Pool) beginTask(t *task.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pendingChunk, t.ID())
	p.inFlight[t.ID()] = t
	p.activeChunks[t.ChunkID()]++
}

func (p *Pool) endTask(t *task.Task) {
	p.mu.Lock()
	delete(p.inFlight, t.ID())
	if n := p.activeChunks[t.ChunkID()] - 1; n <= 0 {
		delete(p.activeChunks, t.ChunkID())
	} else {
		p.activeChunks[t.ChunkID()] = n
	}
	p.mu.Unlock()

	p.queue.TaskComplete(t)
}

// runTask executes every fragment of t in order, checking cancellation
// between them, and drives t's reply sink to a terminal call. It never
// returns an error: failures are reported through the sink, matching the
// "the scheduler never raises task errors to its caller" rule the queue
// itself follows.
func (p *Pool) runTask(ctx context.Context, t *task.Task) {
	var buf bytes.Buffer
	for _, fragment := range t.Fragments() {
		if t.IsCancelled() {
			t.Sink().SendError("task cancelled", task.ErrorKindInternal.Code())
			return
		}
		rows, err := p.exec.ExecuteFragment(ctx, t.DB(), t.ChunkID(), fragment)
		if err != nil {
			p.logger.Warn("fragment execution failed", "task", t.ID(), "chunk", t.ChunkID(), "err", err)
			t.Sink().SendError(err.Error(), task.ErrorKindResource.Code())
			return
		}
		buf.Write(rows)
	}

	if p.cfg.SpillThreshold > 0 && buf.Len() > p.cfg.SpillThreshold {
		p.sendSpilled(t, buf.Bytes())
		return
	}
	t.Sink().SendStream(buf.Bytes(), true)
}

func (p *Pool) sendSpilled(t *task.Task, data []byte) {
	path, err := transport.SpillResultToFile(p.cfg.SpillDir, data)
	if err != nil {
		p.logger.Warn("spilling oversized result failed", "task", t.ID(), "err", err)
		t.Sink().SendError("failed to spill oversized result", task.ErrorKindInternal.Code())
		return
	}
	f, err := os.Open(path)
	if err != nil {
		p.logger.Warn("reopening spill file failed", "task", t.ID(), "path", path, "err", err)
		t.Sink().SendError("failed to reopen spilled result", task.ErrorKindInternal.Code())
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		p.logger.Warn("stat on spill file failed", "task", t.ID(), "path", path, "err", err)
		t.Sink().SendError("failed to stat spilled result", task.ErrorKindInternal.Code())
		return
	}
	t.Sink().SendFile(f.Fd(), fi.Size())
}
