// Package metrics runs the worker's periodic stats sweep: it samples
// scheduler state on a fixed interval (including the queue's
// resource-starvation flag), logs it, and optionally publishes a
// heartbeat over MQTT for external monitoring.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"qservworker/internal/logging"
)

// StatsSource provides the scheduler state a sweep samples. Satisfied by
// QueuePoolSource, which combines a *sched.ChunkTasksQueue and an
// *executor.Pool without either package importing this one.
type StatsSource interface {
	Size() int
	ResourceStarved() bool
	ActiveChunkCount() int
}

// Snapshot is one sweep's sample, and also the payload published as an
// MQTT heartbeat.
type Snapshot struct {
	Time            time.Time `json:"time"`
	QueueSize       int       `json:"queue_size"`
	ActiveChunks    int       `json:"active_chunks"`
	ResourceStarved bool      `json:"resource_starved"`
}

// Publisher sends a heartbeat snapshot somewhere external. A nil
// Publisher on Config disables heartbeat publishing entirely.
type Publisher interface {
	Publish(Snapshot) error
}

// Config configures the sweep's interval and optional heartbeat.
type Config struct {
	Interval  time.Duration
	Publisher Publisher
	Logger    *slog.Logger
}

// Sweeper runs the periodic stats sweep via a single gocron.Scheduler,
// grounded on the orchestrator's cron-rotation manager's
// one-scheduler-one-job-per-concern shape.
type Sweeper struct {
	src       StatsSource
	scheduler gocron.Scheduler
	cfg       Config
	logger    *slog.Logger
}

const defaultInterval = 30 * time.Second

// NewSweeper builds a Sweeper sampling src every cfg.Interval
// (defaultInterval if unset).
func NewSweeper(src StatsSource, cfg Config) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create stats sweep scheduler: %w", err)
	}
	return &Sweeper{
		src:       src,
		scheduler: s,
		cfg:       cfg,
		logger:    logging.Default(cfg.Logger).With("component", "metrics.sweeper"),
	}, nil
}

// Start registers the sweep job and begins running it. Call once.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(s.sweep, ctx),
		gocron.WithName("stats-sweep"),
	)
	if err != nil {
		return fmt.Errorf("create stats sweep job: %w", err)
	}
	s.scheduler.Start()
	s.logger.Info("stats sweep started", "interval", s.cfg.Interval)
	return nil
}

// Stop shuts down the sweep scheduler, waiting for an in-flight sweep.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep(ctx context.Context) {
	snap := Snapshot{
		Time:            time.Now(),
		QueueSize:       s.src.Size(),
		ActiveChunks:    s.src.ActiveChunkCount(),
		ResourceStarved: s.src.ResourceStarved(),
	}

	s.logger.Info("stats sweep",
		"queue_size", snap.QueueSize,
		"active_chunks", snap.ActiveChunks,
		"resource_starved", snap.ResourceStarved,
	)

	if s.cfg.Publisher == nil {
		return
	}
	if err := s.cfg.Publisher.Publish(snap); err != nil {
		s.logger.Warn("heartbeat publish failed", "err", err)
	}
}
