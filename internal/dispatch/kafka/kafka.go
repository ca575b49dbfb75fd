// Package kafka provides an alternate Dispatcher that consumes QUERY
// envelopes from a Kafka topic instead of a TCP listener, for offline or
// backfill dispatch batches where no coordinator connection is held open
// waiting on a reply. It feeds the same ChunkTasksQueue a transport.
// Dispatcher would, via the same RequestHandler it would call.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"github.com/vmihailenco/msgpack/v5"

	"qservworker/internal/logging"
	"qservworker/internal/task"
	"qservworker/internal/transport"
)

// SASLConfig holds SASL authentication parameters for the consumer.
type SASLConfig struct {
	Mechanism string // "plain", "scram-sha-256", "scram-sha-512"
	User      string
	Password  string //nolint:gosec // G117: config field, not a hardcoded credential
}

// Config holds the Kafka dispatcher's configuration.
type Config struct {
	Brokers []string
	Topic   string
	Group   string
	TLS     bool
	SASL    *SASLConfig
	// ResultsTopic, if set, receives one message per completed task
	// carrying its final status; unset drops results after logging them.
	ResultsTopic string
	Logger       *slog.Logger
}

// Envelope is the msgpack-encoded Kafka record value a QUERY producer
// writes: a QueryBody plus the task ID a transport.Dispatcher would
// otherwise have read off the wire Header frame.
type Envelope struct {
	ID   string              `msgpack:"id"`
	Body transport.QueryBody `msgpack:"body"`
}

// Dispatcher consumes Envelopes from a Kafka topic and hands each one to
// a transport.RequestHandler as a QUERY request.
type Dispatcher struct {
	cfg     Config
	handler transport.RequestHandler
	logger  *slog.Logger
}

// NewDispatcher builds a Dispatcher that feeds handler with decoded
// envelopes from cfg.Topic.
func NewDispatcher(handler transport.RequestHandler, cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		handler: handler,
		logger:  logging.Default(cfg.Logger).With("component", "dispatch.kafka"),
	}
}

// Serve connects to Kafka and consumes until ctx is cancelled.
func (d *Dispatcher) Serve(ctx context.Context) error {
	opts := []kgo.Opt{
		kgo.SeedBrokers(d.cfg.Brokers...),
		kgo.ConsumeTopics(d.cfg.Topic),
		kgo.ConsumerGroup(d.cfg.Group),
	}
	if d.cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if d.cfg.SASL != nil {
		mech, err := buildSASLMechanism(d.cfg.SASL)
		if err != nil {
			return err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	defer client.Close()

	d.logger.Info("kafka dispatcher started", "brokers", d.cfg.Brokers, "topic", d.cfg.Topic, "group", d.cfg.Group)

	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			d.logger.Info("kafka dispatcher stopping")
			_ = client.CommitUncommittedOffsets(context.Background())
			return nil
		}

		for _, e := range fetches.Errors() {
			d.logger.Warn("kafka fetch error", "topic", e.Topic, "partition", e.Partition, "err", e.Err)
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			d.handleRecord(client, rec)
		})
	}
}

func (d *Dispatcher) handleRecord(client *kgo.Client, rec *kgo.Record) {
	var env Envelope
	if err := msgpack.Unmarshal(rec.Value, &env); err != nil {
		d.logger.Warn("malformed query envelope", "topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "err", err)
		return
	}

	sink := newResultSink(client, d.cfg.ResultsTopic, env.ID, d.logger)
	resource := transport.Resource{Kind: transport.ResourceChunk, DB: env.Body.DB, ChunkID: int64(env.Body.Chunk)}
	if err := d.handler.HandleQuery(env.ID, resource, env.Body, sink); err != nil {
		d.logger.Warn("query dispatch failed", "id", env.ID, "err", err)
	}
}

func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "plain":
		return plain.Auth{User: cfg.User, Pass: cfg.Password}.AsMechanism(), nil
	case "scram-sha-256":
		return scram.Auth{User: cfg.User, Pass: cfg.Password}.AsSha256Mechanism(), nil
	case "scram-sha-512":
		return scram.Auth{User: cfg.User, Pass: cfg.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %q", cfg.Mechanism)
	}
}

var _ task.ReplySink = (*resultSink)(nil)
