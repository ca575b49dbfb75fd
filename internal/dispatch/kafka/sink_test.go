package kafka

import (
	"log/slog"
	"testing"
)

func TestResultSinkWithoutTopicDoesNotPanic(t *testing.T) {
	sink := newResultSink(nil, "", "task-1", slog.Default())

	if ok := sink.SendStream([]byte("partial"), false); !ok {
		t.Fatal("SendStream(last=false) should return true")
	}
	if ok := sink.SendStream([]byte("-rest"), true); !ok {
		t.Fatal("SendStream(last=true) should return true")
	}
	if string(sink.buf) != "partial-rest" {
		t.Fatalf("buf = %q, want %q", sink.buf, "partial-rest")
	}
}

func TestResultSinkSendFileFailsWithoutForwarding(t *testing.T) {
	sink := newResultSink(nil, "", "task-1", slog.Default())
	if ok := sink.SendFile(0, 1024); ok {
		t.Fatal("SendFile should report failure: kafka results sink cannot forward a file")
	}
}

func TestResultSinkSendErrorDoesNotPanicWithoutTopic(t *testing.T) {
	sink := newResultSink(nil, "", "task-1", slog.Default())
	sink.SendError("boom", 500)
}
