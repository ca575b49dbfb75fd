package task

import "testing"

type fakeSink struct {
	sent   [][]byte
	errMsg string
	errCd  int32
}

func (f *fakeSink) Send(b []byte) bool { f.sent = append(f.sent, b); return true }
func (f *fakeSink) SendError(message string, code int32) { f.errMsg, f.errCd = message, code }
func (f *fakeSink) SendFile(fd uintptr, size int64) bool { return true }
func (f *fakeSink) SendStream(b []byte, last bool) bool  { f.sent = append(f.sent, b); return true }

func TestNewRejectsNegativeChunkID(t *testing.T) {
	_, err := New("r1", -1, []string{"SELECT 1"}, ScanInfo{}, PriorityLow, &fakeSink{})
	if err == nil {
		t.Fatal("expected error for negative chunk id")
	}
	terr, ok := err.(*Error)
	if !ok || terr.Kind != ErrorKindBadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestNewRejectsEmptyFragments(t *testing.T) {
	_, err := New("r1", 0, nil, ScanInfo{}, PriorityLow, &fakeSink{})
	if err == nil {
		t.Fatal("expected error for empty fragments")
	}
}

func TestNewRejectsNilSink(t *testing.T) {
	_, err := New("r1", 0, []string{"SELECT 1"}, ScanInfo{}, PriorityLow, nil)
	if err == nil {
		t.Fatal("expected error for nil sink")
	}
}

func TestNewOK(t *testing.T) {
	tk, err := New("r1", 42, []string{"SELECT 1", "SELECT 2"}, ScanInfo{}, PriorityHigh, &fakeSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.ChunkID() != 42 {
		t.Fatalf("chunk id = %d, want 42", tk.ChunkID())
	}
	if len(tk.Fragments()) != 2 {
		t.Fatalf("fragments = %d, want 2", len(tk.Fragments()))
	}
}

func TestCancelIsObservable(t *testing.T) {
	tk, _ := New("r1", 0, []string{"SELECT 1"}, ScanInfo{}, PriorityLow, &fakeSink{})
	if tk.IsCancelled() {
		t.Fatal("task should not start cancelled")
	}
	tk.Cancel()
	if !tk.IsCancelled() {
		t.Fatal("task should be cancelled after Cancel()")
	}
}

func TestFragmentsAreCopiedNotAliased(t *testing.T) {
	frags := []string{"SELECT 1"}
	tk, _ := New("r1", 0, frags, ScanInfo{}, PriorityLow, &fakeSink{})
	frags[0] = "DROP TABLE x"
	if tk.Fragments()[0] != "SELECT 1" {
		t.Fatal("task fragments should not alias caller's slice")
	}
}
