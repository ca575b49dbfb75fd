package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"qservworker/internal/auth"
	"qservworker/internal/config"
	"qservworker/internal/dispatch/kafka"
	"qservworker/internal/executor"
	"qservworker/internal/logging"
	"qservworker/internal/memman"
	"qservworker/internal/metrics"
	"qservworker/internal/sched"
	"qservworker/internal/sqlexec"
	"qservworker/internal/transport"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker's dispatch listener and executor pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			kafkaTopic, _ := cmd.Flags().GetString("kafka-topic")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return runServe(ctx, logger, configPath, kafkaTopic)
		},
	}
	cmd.Flags().String("config", "", "path to a JSON config file (default config if unset)")
	cmd.Flags().String("kafka-topic", "", "if set, also consume QUERY envelopes from this Kafka topic")
	return cmd
}

func runServe(ctx context.Context, logger *slog.Logger, configPath, kafkaTopic string) error {
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	watcher := config.NewWatcher(configPath, cfg, logger)
	defer watcher.Close()

	mm := buildMemMan(cfg, logger)
	queue := sched.NewChunkTasksQueue(mm, nil)

	pool := executor.NewPool(queue, sqlexec.Noop{}, executor.PoolConfig{
		MaxActiveChunks:       cfg.MaxActiveChunks,
		FlexibleLockByDefault: cfg.FlexibleLockByDefault,
		Watcher:               watcher,
		SpillDir:              os.TempDir(),
		SpillThreshold:        int(cfg.MaxFrameBytes),
		Logger:                logger,
	})
	queue.SetActiveChunkPolicy(pool)

	var authenticator transport.Authenticator
	if cfg.AuthSecret != "" {
		ttl := cfg.AuthTokenTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		tokens := auth.NewTokenService([]byte(cfg.AuthSecret), ttl)
		authenticator = auth.NewSessionAuthenticator(tokens)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	dispatcher := transport.NewDispatcher(ln, pool, transport.DispatcherConfig{
		MaxSessions:   cfg.MaxSessions,
		MaxFrame:      cfg.MaxFrameBytes,
		Authenticator: authenticator,
		Logger:        logger,
	})

	sweeper, err := metrics.NewSweeper(metrics.QueuePoolSource{Queue: queue, Pool: pool}, metrics.Config{
		Publisher: buildHeartbeatPublisher(cfg, logger),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build stats sweeper: %w", err)
	}

	runners := []func() error{
		func() error { return pool.Run(ctx) },
		func() error { return dispatcher.Serve(ctx) },
		func() error { return sweeper.Start(ctx) },
	}
	if kafkaTopic != "" {
		kafkaDispatcher := kafka.NewDispatcher(pool, kafka.Config{
			Brokers: []string{"localhost:9092"},
			Topic:   kafkaTopic,
			Group:   "qservworker",
			Logger:  logger,
		})
		runners = append(runners, func() error { return kafkaDispatcher.Serve(ctx) })
	}

	errCh := make(chan error, len(runners))
	for _, run := range runners {
		go func(run func() error) { errCh <- run() }(run)
	}

	logger.Info("worker started", "listen_addr", cfg.ListenAddr)
	<-ctx.Done()
	logger.Info("shutting down")
	dispatcher.Shutdown(ctx)
	_ = sweeper.Stop()
	return nil
}

func loadConfigFile(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.Load(data)
}

func buildMemMan(cfg *config.Config, logger *slog.Logger) memman.MemMan {
	budget := cfg.MemBudgetBytes
	if cfg.MemManager == config.MemManagerNoop || budget <= 0 {
		budget = math.MaxInt64
	}
	return memman.NewBudgetMemMan(memman.BudgetConfig{
		BudgetBytes: budget,
		Logger:      logger,
	})
}

func buildHeartbeatPublisher(cfg *config.Config, logger *slog.Logger) metrics.Publisher {
	if cfg.HeartbeatMQTTAddr == "" {
		return nil
	}
	hb, err := metrics.NewMQTTHeartbeat(cfg.HeartbeatMQTTAddr, "qservworker", "qserv/worker/heartbeat", logger)
	if err != nil {
		logger.Warn("mqtt heartbeat disabled: connect failed", "addr", cfg.HeartbeatMQTTAddr, "err", err)
		return nil
	}
	return hb
}
