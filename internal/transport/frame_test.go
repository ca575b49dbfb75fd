package transport

import (
	"bytes"
	"testing"

	"qservworker/internal/task"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	want := Header{Type: MessageQuery, ID: "r1"}
	if err := fw.WriteValue(want); err != nil {
		t.Fatalf("write: %v", err)
	}

	fr := NewFrameReader(&buf, 0)
	var got Header
	if err := fr.ReadInto(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFrameRejectsZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	fr := NewFrameReader(buf, 0)
	_, err := fr.ReadFrame()
	if err == nil {
		t.Fatal("expected error for zero-length frame")
	}
	terr, ok := err.(*task.Error)
	if !ok || terr.Kind != task.ErrorKindFraming {
		t.Fatalf("expected ErrorKindFraming, got %v", err)
	}
}

func TestFrameRejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 10})
	fr := NewFrameReader(buf, 4)
	_, err := fr.ReadFrame()
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
	terr, ok := err.(*task.Error)
	if !ok || terr.Kind != task.ErrorKindFraming {
		t.Fatalf("expected ErrorKindFraming, got %v", err)
	}
}

func TestFrameMultipleFramesSequentially(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	bodies := []QueryBody{
		{DB: "LSST", Chunk: 1, Fragments: []string{"SELECT 1"}},
		{DB: "LSST", Chunk: 2, Fragments: []string{"SELECT 2"}},
	}
	for _, b := range bodies {
		if err := fw.WriteValue(b); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	fr := NewFrameReader(&buf, 0)
	for _, want := range bodies {
		var got QueryBody
		if err := fr.ReadInto(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Chunk != want.Chunk || got.DB != want.DB {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
}
