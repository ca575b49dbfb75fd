package transport

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"qservworker/internal/logging"
	"qservworker/internal/task"
)

// SessionState is the session's position in the framing state machine.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateReadHeader
	StateReadBody
	StateDispatching
	StateWriting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReadHeader:
		return "READ_HEADER"
	case StateReadBody:
		return "READ_BODY"
	case StateDispatching:
		return "DISPATCHING"
	case StateWriting:
		return "WRITING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// RequestHandler is invoked by a Session once a request frame pair has
// been fully decoded. Implementations construct and enqueue Tasks (for
// QUERY) or carry out control operations (REPLICATE/STOP/STATUS); they
// must eventually call exactly one terminal method on sink for QUERY and
// STATUS requests, per the reply sink contract.
type RequestHandler interface {
	HandleQuery(id string, res Resource, body QueryBody, sink task.ReplySink) error
	HandleReplicate(id string, body ReplicateBody) error
	HandleStop(id string, body ControlBody) error
	HandleStatus(id string, body ControlBody, sink task.ReplySink) error
}

// Session owns one provisioned connection: it reads request frame pairs,
// dispatches them to a RequestHandler, and writes the reply. Grounded on
// the original SsiSession's provision/process/unprovision lifecycle,
// re-expressed as an explicit state machine driven by a single goroutine
// per connection rather than callbacks into a shared session object.
type Session struct {
	conn     net.Conn
	resource Resource
	handler  RequestHandler
	maxFrame uint32
	logger   *slog.Logger

	mu    sync.Mutex
	state SessionState
}

// NewSession constructs a session bound to conn and provisioned against
// resource. handler receives every decoded request.
func NewSession(conn net.Conn, resource Resource, handler RequestHandler, maxFrame uint32, logger *slog.Logger) *Session {
	return &Session{
		conn:     conn,
		resource: resource,
		handler:  handler,
		maxFrame: maxFrame,
		logger:   logging.Default(logger).With("component", "transport.session", "resource", resource.String()),
		state:    StateIdle,
	}
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Serve runs the READ_HEADER/READ_BODY/DISPATCH/WRITE_REPLY loop until
// the connection closes or a fatal framing error occurs.
func (s *Session) Serve() {
	defer s.Unprovision()

	fr := NewFrameReader(s.conn, s.maxFrame)
	fw := NewFrameWriter(s.conn)

	for {
		s.setState(StateReadHeader)
		var header Header
		if err := fr.ReadInto(&header); err != nil {
			if err != io.EOF {
				s.logger.Debug("closing on header read error", "err", err)
			}
			return
		}

		s.setState(StateReadBody)
		if !s.dispatch(fr, fw, header) {
			return
		}
		s.setState(StateIdle)
	}
}

// dispatch reads the body frame for header and routes it to the handler.
// It returns false if the session must close (malformed frame, transport
// error); a RouteMismatch or handler error is reported over the wire and
// the session stays open, per the failure-behavior rules.
func (s *Session) dispatch(fr *FrameReader, fw *FrameWriter, header Header) bool {
	switch header.Type {
	case MessageQuery:
		var body QueryBody
		if err := fr.ReadInto(&body); err != nil {
			s.logger.Debug("closing on query body read error", "err", err)
			return false
		}
		if !s.resource.MatchesQuery(body.DB, int64(body.Chunk)) {
			s.writeError(fw, "request resource does not match provisioned resource", task.ErrorKindRouteMismatch.Code())
			return true
		}
		s.setState(StateDispatching)
		sink := NewSessionSink(fw, s.logger, func() { s.setState(StateWriting) })
		if err := s.handler.HandleQuery(header.ID, s.resource, body, sink); err != nil {
			code := task.ErrorKindInternal.Code()
			var terr *task.Error
			if errors.As(err, &terr) {
				code = terr.Kind.Code()
			}
			sink.SendError(err.Error(), code)
		}
		return true

	case MessageReplicate:
		var body ReplicateBody
		if err := fr.ReadInto(&body); err != nil {
			s.logger.Debug("closing on replicate body read error", "err", err)
			return false
		}
		s.setState(StateDispatching)
		if err := s.handler.HandleReplicate(header.ID, body); err != nil {
			s.writeError(fw, err.Error(), task.ErrorKindInternal.Code())
			return true
		}
		s.writeOK(fw)
		return true

	case MessageStop:
		var body ControlBody
		if err := fr.ReadInto(&body); err != nil {
			s.logger.Debug("closing on stop body read error", "err", err)
			return false
		}
		s.setState(StateDispatching)
		if err := s.handler.HandleStop(header.ID, body); err != nil {
			s.writeError(fw, err.Error(), task.ErrorKindInternal.Code())
			return true
		}
		s.writeOK(fw)
		return true

	case MessageStatus:
		var body ControlBody
		if err := fr.ReadInto(&body); err != nil {
			s.logger.Debug("closing on status body read error", "err", err)
			return false
		}
		s.setState(StateDispatching)
		sink := NewSessionSink(fw, s.logger, func() { s.setState(StateWriting) })
		if err := s.handler.HandleStatus(header.ID, body, sink); err != nil {
			sink.SendError(err.Error(), task.ErrorKindInternal.Code())
		}
		return true

	default:
		s.writeError(fw, "unrecognized request type", task.ErrorKindBadRequest.Code())
		return true
	}
}

func (s *Session) writeError(fw *FrameWriter, message string, code int32) {
	if err := fw.WriteValue(ErrorReply{Status: QueryReplyFailed, Message: message, Code: code}); err != nil {
		s.logger.Warn("writing error reply failed", "err", err)
	}
}

func (s *Session) writeOK(fw *FrameWriter) {
	if err := fw.WriteValue(ErrorReply{Status: QueryReplyOK}); err != nil {
		s.logger.Warn("writing ok reply failed", "err", err)
	}
}

// Unprovision closes the underlying connection, transitioning to CLOSED
// exactly once. It does not cancel a task this session has already handed
// to the handler; that task runs on and its reply write fails.
func (s *Session) Unprovision() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	_ = s.conn.Close()
}
