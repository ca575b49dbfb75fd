package metrics

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	size    int
	starved bool
	active  int
}

func (f *fakeSource) Size() int            { return f.size }
func (f *fakeSource) ResourceStarved() bool { return f.starved }
func (f *fakeSource) ActiveChunkCount() int { return f.active }

type fakePublisher struct {
	mu   sync.Mutex
	got  []Snapshot
	done chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{done: make(chan struct{}, 1)}
}

func (p *fakePublisher) Publish(snap Snapshot) error {
	p.mu.Lock()
	p.got = append(p.got, snap)
	p.mu.Unlock()
	select {
	case p.done <- struct{}{}:
	default:
	}
	return nil
}

func (p *fakePublisher) snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Snapshot(nil), p.got...)
}

func TestSweeperPublishesSnapshot(t *testing.T) {
	src := &fakeSource{size: 3, starved: true, active: 2}
	pub := newFakePublisher()

	sweeper, err := NewSweeper(src, Config{Interval: 20 * time.Millisecond, Publisher: pub})
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sweeper.Stop()

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a published snapshot")
	}

	snaps := pub.snapshots()
	if len(snaps) == 0 {
		t.Fatal("expected at least one snapshot")
	}
	got := snaps[0]
	if got.QueueSize != 3 || !got.ResourceStarved || got.ActiveChunks != 2 {
		t.Fatalf("snapshot = %+v, want QueueSize=3 ResourceStarved=true ActiveChunks=2", got)
	}
}

func TestSweeperWithoutPublisherDoesNotPanic(t *testing.T) {
	src := &fakeSource{size: 1}
	sweeper, err := NewSweeper(src, Config{Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	sweeper.Stop()
}
