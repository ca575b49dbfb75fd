package sched

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"qservworker/internal/memman"
)

type fakeMemMan struct {
	denyAll  bool
	released []memman.Reservation
	n        int
}

func (f *fakeMemMan) Reserve(_ context.Context, tables []memman.TableRef, flexible bool) (memman.Reservation, error) {
	if f.denyAll {
		return memman.Reservation{}, errors.New("denied")
	}
	f.n++
	return memman.Reservation{Token: fmt.Sprintf("tok-%d", f.n), Resident: tables, Flexible: flexible}, nil
}

func (f *fakeMemMan) Release(r memman.Reservation) {
	f.released = append(f.released, r)
}

func TestChunkTasksReadyAndGetTask(t *testing.T) {
	mm := &fakeMemMan{}
	ct := NewChunkTasks(7, mm)
	tk := mustTask(t, "a", 10)
	ct.Enqueue(tk)
	ct.SetActive(true)
	ct.MovePendingToActive()

	if state := ct.Ready(context.Background(), false); state != Ready {
		t.Fatalf("Ready = %v, want Ready", state)
	}
	got := ct.GetTask(context.Background(), false)
	if got == nil || got.ID() != "a" {
		t.Fatalf("GetTask returned %v, want task a", got)
	}
	if ct.Empty() {
		t.Fatal("chunk should stay non-empty while its task is in flight")
	}
}

func TestChunkTasksNotReadyWhenEmpty(t *testing.T) {
	ct := NewChunkTasks(1, &fakeMemMan{})
	if state := ct.Ready(context.Background(), false); state != NotReady {
		t.Fatalf("Ready on empty chunk = %v, want NotReady", state)
	}
}

func TestChunkTasksNoResourcesDoesNotConsumeTask(t *testing.T) {
	mm := &fakeMemMan{denyAll: true}
	ct := NewChunkTasks(1, mm)
	ct.Enqueue(mustTask(t, "a", 5))
	ct.SetActive(true)
	ct.MovePendingToActive()

	if state := ct.Ready(context.Background(), false); state != NoResources {
		t.Fatalf("Ready = %v, want NoResources", state)
	}
	if ct.Empty() {
		t.Fatal("a NoResources chunk must keep its task queued, not drop it")
	}
	if ct.ResourceStarved() != true {
		t.Fatal("expected ResourceStarved to be recorded")
	}
}

// TestChunkTasksEnqueueWhileActiveGoesToPending exercises scenario S4: a
// task arriving for a chunk that is already active (e.g. it has an
// in-flight task) must not join the active heap mid-scan; it sits on
// pending until the chunk is re-promoted, at which point
// MovePendingToActive folds it in.
func TestChunkTasksEnqueueWhileActiveGoesToPending(t *testing.T) {
	ct := NewChunkTasks(42, &fakeMemMan{})
	ct.SetActive(true)

	ct.Enqueue(mustTask(t, "t", 5))
	if state := ct.Ready(context.Background(), false); state != NotReady {
		t.Fatalf("Ready while T sits on pending = %v, want NotReady", state)
	}

	ct.SetActive(false)
	ct.MovePendingToActive()
	if state := ct.Ready(context.Background(), false); state != Ready {
		t.Fatalf("Ready after MovePendingToActive = %v, want Ready (T promoted to the active heap)", state)
	}
}

// TestChunkTasksEnqueueWhileInactiveGoesToHeap covers the complementary
// case: a chunk that has never been promoted enqueues straight into the
// active heap, since there is no in-progress scan order to protect yet.
func TestChunkTasksEnqueueWhileInactiveGoesToHeap(t *testing.T) {
	ct := NewChunkTasks(1, &fakeMemMan{})
	ct.Enqueue(mustTask(t, "a", 5))
	if state := ct.Ready(context.Background(), false); state != Ready {
		t.Fatalf("Ready = %v, want Ready (task went straight to the active heap)", state)
	}
}

func TestChunkTasksTaskCompleteReleasesReservation(t *testing.T) {
	mm := &fakeMemMan{}
	ct := NewChunkTasks(1, mm)
	ct.Enqueue(mustTask(t, "a", 5))
	ct.SetActive(true)
	ct.MovePendingToActive()
	ct.Ready(context.Background(), false)
	tk := ct.GetTask(context.Background(), false)

	ct.TaskComplete(tk)
	if len(mm.released) != 1 {
		t.Fatalf("expected 1 release, got %d", len(mm.released))
	}
	if !ct.Empty() {
		t.Fatal("chunk should be empty after its only task completes")
	}
}

func TestChunkTasksRemoveTaskFromActiveHeap(t *testing.T) {
	ct := NewChunkTasks(1, &fakeMemMan{})
	ct.Enqueue(mustTask(t, "a", 5))
	if !ct.RemoveTask("a") {
		t.Fatal("expected to remove queued task")
	}
	if !ct.Empty() {
		t.Fatal("chunk should be empty after removing its only task")
	}
}

func TestChunkTasksRemoveTaskFromPending(t *testing.T) {
	ct := NewChunkTasks(1, &fakeMemMan{})
	ct.SetActive(true)
	ct.Enqueue(mustTask(t, "a", 5))
	if !ct.RemoveTask("a") {
		t.Fatal("expected to remove pending task")
	}
	if !ct.Empty() {
		t.Fatal("chunk should be empty after removing its only pending task")
	}
}

func TestChunkTasksReadyToAdvance(t *testing.T) {
	ct := NewChunkTasks(1, &fakeMemMan{})
	if !ct.ReadyToAdvance() {
		t.Fatal("an empty chunk should always be ready to advance")
	}
	ct.SetActive(true)
	ct.Enqueue(mustTask(t, "a", 5))
	if ct.ReadyToAdvance() {
		t.Fatal("a chunk with queued work should not be ready to advance")
	}
}

// TestChunkTasksNotReadyToAdvanceWhileInFlight covers the case where a
// chunk has drained its queued work but still has a task executing: the
// cursor must not move past it until TaskComplete releases that task.
func TestChunkTasksNotReadyToAdvanceWhileInFlight(t *testing.T) {
	mm := &fakeMemMan{}
	ct := NewChunkTasks(1, mm)
	ct.Enqueue(mustTask(t, "a", 5))
	ct.Ready(context.Background(), false)
	tk := ct.GetTask(context.Background(), false)

	if ct.ReadyToAdvance() {
		t.Fatal("a chunk with an in-flight task should not be ready to advance")
	}

	ct.TaskComplete(tk)
	if !ct.ReadyToAdvance() {
		t.Fatal("chunk should be ready to advance once its in-flight task completes")
	}
}
