package transport

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go/pkg"
	"github.com/klauspost/compress/zstd"

	"qservworker/internal/logging"
)

// spillFrameSize is the uncompressed frame size used when a result is
// spilled to a seekable-zstd scratch file, matching the frame granularity
// the chunk store uses for its own on-disk compression.
const spillFrameSize = 256 << 10

// sinkEncoder is a package-level zstd encoder: stateless and safe for
// concurrent use across sessions, avoiding a per-SendFile allocation.
var sinkEncoder *zstd.Encoder

func init() {
	var err error
	sinkEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic("transport: init zstd encoder: " + err.Error())
	}
}

// SessionSink implements task.ReplySink over a session's frame writer. It
// enforces the "exactly one terminal call" contract with an atomic flag:
// Send, SendError, SendFile, and SendStream(last=true) all set it, and
// any call once it is set is rejected.
type SessionSink struct {
	fw       *FrameWriter
	logger   *slog.Logger
	terminal atomic.Bool
	onClosed func()
}

// NewSessionSink builds a sink writing frames to fw. onClosed, if non-nil,
// is invoked once a terminal reply has been written; the owning Session
// uses it to move to WRITING.
func NewSessionSink(fw *FrameWriter, logger *slog.Logger, onClosed func()) *SessionSink {
	return &SessionSink{fw: fw, logger: logging.Default(logger), onClosed: onClosed}
}

func (s *SessionSink) finish() {
	if s.onClosed != nil {
		s.onClosed()
	}
}

// Send writes a single opportunistic reply frame and finishes the request.
func (s *SessionSink) Send(b []byte) bool {
	if !s.terminal.CompareAndSwap(false, true) {
		return false
	}
	defer s.finish()
	if err := s.fw.WriteFrame(b); err != nil {
		s.logger.Warn("send failed", "err", err)
		return false
	}
	return true
}

// SendError writes the terminal error frame.
func (s *SessionSink) SendError(message string, code int32) {
	if !s.terminal.CompareAndSwap(false, true) {
		return
	}
	defer s.finish()
	if err := s.fw.WriteValue(ErrorReply{Status: QueryReplyFailed, Message: message, Code: code}); err != nil {
		s.logger.Warn("send error frame failed", "err", err)
	}
}

// SendFile streams a local file's contents as a single reply frame. On
// any failure it degrades to SendError rather than leaving a
// half-written frame on the wire.
func (s *SessionSink) SendFile(fd uintptr, size int64) bool {
	if !s.terminal.CompareAndSwap(false, true) {
		return false
	}
	defer s.finish()

	f := os.NewFile(fd, "reply-file")
	if f == nil {
		s.sendErrorLocked("invalid file descriptor", int32(0))
		return false
	}
	defer f.Close()

	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		s.sendErrorLocked(fmt.Sprintf("reading reply file: %v", err), 0)
		return false
	}
	if err := s.fw.WriteFrame(data); err != nil {
		s.logger.Warn("send file failed", "err", err)
		return false
	}
	return true
}

// sendErrorLocked writes an error frame without the terminal CAS guard,
// for use by callers (SendFile) that have already claimed the terminal
// slot themselves.
func (s *SessionSink) sendErrorLocked(message string, code int32) {
	if err := s.fw.WriteValue(ErrorReply{Status: QueryReplyFailed, Message: message, Code: code}); err != nil {
		s.logger.Warn("send error frame failed", "err", err)
	}
}

// SendStream writes one frame of a streamed reply. Only last=true claims
// the terminal slot; intermediate frames may be written any number of
// times.
func (s *SessionSink) SendStream(b []byte, last bool) bool {
	if last {
		if !s.terminal.CompareAndSwap(false, true) {
			return false
		}
		defer s.finish()
	} else if s.terminal.Load() {
		return false
	}
	if err := s.fw.WriteValue(QueryReplyFrame{Rows: b, Last: last}); err != nil {
		s.logger.Warn("send stream frame failed", "err", err)
		return false
	}
	return true
}

// SpillResultToFile writes data to a fresh seekable-zstd compressed
// scratch file under dir and returns its path, for results too large to
// buffer as a single reply frame. Grounded on the chunk store's own
// compressFile: independent fixed-size frames give the eventual reader
// random access without decompressing the whole spill.
func SpillResultToFile(dir string, data []byte) (path string, err error) {
	tmp, err := os.CreateTemp(dir, "qservworker-spill-*.zst")
	if err != nil {
		return "", err
	}
	path = tmp.Name()
	defer func() {
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	sw, err := seekable.NewWriter(tmp, sinkEncoder)
	if err != nil {
		return "", err
	}
	for off := 0; off < len(data); off += spillFrameSize {
		end := min(off+spillFrameSize, len(data))
		if _, werr := sw.Write(data[off:end]); werr != nil {
			return "", werr
		}
	}
	if cerr := sw.Close(); cerr != nil {
		return "", cerr
	}
	return path, nil
}
