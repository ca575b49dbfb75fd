package kafka

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/vmihailenco/msgpack/v5"
)

// resultStatus mirrors transport.ErrorReply's status strings without
// importing transport, since this file's concern is the results topic's
// wire shape, not the session protocol.
type resultStatus string

const (
	resultOK     resultStatus = "OK"
	resultFailed resultStatus = "FAILED"
)

// resultMessage is the msgpack-encoded value published to ResultsTopic.
type resultMessage struct {
	ID      string       `msgpack:"id"`
	Status  resultStatus `msgpack:"status"`
	Message string       `msgpack:"message,omitempty"`
	Code    int32        `msgpack:"code,omitempty"`
	Rows    []byte       `msgpack:"rows,omitempty"`
}

// resultSink implements task.ReplySink by publishing the task's outcome
// to an optional results topic instead of writing back to a held-open
// connection; there is none to write back to in the offline/backfill
// dispatch path this package serves.
type resultSink struct {
	client *kgo.Client
	topic  string
	id     string
	logger *slog.Logger
	buf    []byte
}

func newResultSink(client *kgo.Client, topic, id string, logger *slog.Logger) *resultSink {
	return &resultSink{client: client, topic: topic, id: id, logger: logger}
}

func (s *resultSink) Send(b []byte) bool {
	s.publish(resultMessage{ID: s.id, Status: resultOK, Rows: b})
	return true
}

func (s *resultSink) SendError(message string, code int32) {
	s.publish(resultMessage{ID: s.id, Status: resultFailed, Message: message, Code: code})
}

func (s *resultSink) SendFile(fd uintptr, size int64) bool {
	s.logger.Warn("kafka results sink cannot forward a spilled file, failing task", "id", s.id, "size", size)
	s.SendError("spilled results are not supported over the kafka dispatch path", 500)
	return false
}

func (s *resultSink) SendStream(b []byte, last bool) bool {
	s.buf = append(s.buf, b...)
	if !last {
		return true
	}
	s.publish(resultMessage{ID: s.id, Status: resultOK, Rows: s.buf})
	return true
}

func (s *resultSink) publish(msg resultMessage) {
	if s.topic == "" {
		s.logger.Debug("task complete", "id", msg.ID, "status", msg.Status, "message", msg.Message)
		return
	}
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		s.logger.Warn("marshal result message failed", "id", msg.ID, "err", err)
		return
	}
	s.client.Produce(context.Background(), &kgo.Record{Topic: s.topic, Value: payload}, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.Warn("publish result message failed", "id", msg.ID, "err", err)
		}
	})
}
