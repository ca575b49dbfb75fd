package transport

import (
	"encoding/binary"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"qservworker/internal/task"
)

// DefaultMaxFrameBytes bounds a single frame's payload when no explicit
// max_frame_bytes configuration is supplied.
const DefaultMaxFrameBytes = 64 << 20

// FrameReader reads length-prefixed frames off r, enforcing maxFrame.
type FrameReader struct {
	r        io.Reader
	maxFrame uint32
	lenBuf   [4]byte
}

// NewFrameReader wraps r. maxFrame <= 0 selects DefaultMaxFrameBytes.
func NewFrameReader(r io.Reader, maxFrame uint32) *FrameReader {
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &FrameReader{r: r, maxFrame: maxFrame}
}

// ReadFrame reads one length-prefixed frame's raw bytes. A zero or
// oversized length is a fatal framing error per the wire protocol's
// READ_HEADER step; callers must close the session on this error.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(fr.lenBuf[:])
	if length == 0 || length > fr.maxFrame {
		return nil, task.NewError(task.ErrorKindFraming, "invalid frame length %d (max %d)", length, fr.maxFrame)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInto reads one frame and msgpack-decodes it into v.
func (fr *FrameReader) ReadInto(v any) error {
	buf, err := fr.ReadFrame()
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(buf, v)
}

// FrameWriter writes length-prefixed frames to w.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one length-prefixed frame containing payload.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := fw.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}

// WriteValue msgpack-encodes v and writes it as one frame.
func (fw *FrameWriter) WriteValue(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return fw.WriteFrame(payload)
}
