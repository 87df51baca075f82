package jobs

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateQueued(t *testing.T) {
	store := NewStore()
	job := store.Create("key-a", Task{Description: "build a parser"})
	if job.ID == "" {
		t.Fatalf("expected non-empty id")
	}
	if job.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}
	if job.Result != nil || job.Error != "" {
		t.Fatalf("fresh job must carry no result or error")
	}

	other := store.Create("key-a", Task{Description: "another"})
	if other.ID == job.ID {
		t.Fatalf("ids must not collide")
	}
}

func TestLifecycleCompleted(t *testing.T) {
	store := NewStore()
	job := store.Create("key-a", Task{Description: "task"})

	if err := store.MarkRunning(job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	got, _ := store.Snapshot(job.ID)
	if got.Status != StatusRunning || got.StartedAt == nil {
		t.Fatalf("unexpected running snapshot: %+v", got)
	}

	if err := store.Complete(job.ID, Result{Code: "print('hi')", Reviewed: true}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = store.Snapshot(job.ID)
	if got.Status != StatusCompleted || got.Result == nil || got.CompletedAt == nil {
		t.Fatalf("unexpected completed snapshot: %+v", got)
	}
	if got.Error != "" {
		t.Fatalf("completed job must carry no error message")
	}
}

func TestLifecycleFailed(t *testing.T) {
	store := NewStore()
	job := store.Create("key-a", Task{Description: "task"})

	if err := store.MarkRunning(job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.Fail(job.ID, "executor exploded"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := store.Snapshot(job.ID)
	if got.Status != StatusFailed || got.Error != "executor exploded" {
		t.Fatalf("unexpected failed snapshot: %+v", got)
	}
	if got.Result != nil {
		t.Fatalf("failed job must carry no result")
	}
}

func TestQueuedCannotFailDirectly(t *testing.T) {
	store := NewStore()
	job := store.Create("key-a", Task{Description: "task"})

	err := store.Fail(job.ID, "dispatch blew up")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	err = store.Complete(job.ID, Result{Code: "x"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestSecondTerminalTransitionReported(t *testing.T) {
	store := NewStore()
	job := store.Create("key-a", Task{Description: "task"})
	if err := store.MarkRunning(job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.Complete(job.ID, Result{Code: "x"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := store.Complete(job.ID, Result{Code: "y"}); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal, got %v", err)
	}
	if err := store.Fail(job.ID, "late failure"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal, got %v", err)
	}

	got, _ := store.Snapshot(job.ID)
	if got.Status != StatusCompleted || got.Result == nil || got.Result.Code != "x" {
		t.Fatalf("second transition must not be applied: %+v", got)
	}
}

func TestMarkRunningTwice(t *testing.T) {
	store := NewStore()
	job := store.Create("key-a", Task{Description: "task"})
	if err := store.MarkRunning(job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.MarkRunning(job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	store := NewStore()
	job := store.Create("key-a", Task{Description: "secret"})

	if _, err := store.Get(job.ID, "key-b"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if _, err := store.Get("no-such-id", "key-b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	got, err := store.Get(job.ID, "key-a")
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if got.Task.Description != "secret" {
		t.Fatalf("unexpected task: %+v", got.Task)
	}
}

func TestListByOwnerNewestFirst(t *testing.T) {
	store := NewStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	i := 0
	store.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	}

	first := store.Create("key-a", Task{Description: "first"})
	second := store.Create("key-a", Task{Description: "second"})
	store.Create("key-b", Task{Description: "other owner"})

	list := store.ListByOwner("key-a")
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("unexpected order: %s then %s", list[0].ID, list[1].ID)
	}
}

func TestCounts(t *testing.T) {
	store := NewStore()
	a := store.Create("key-a", Task{Description: "a"})
	store.Create("key-a", Task{Description: "b"})
	if err := store.MarkRunning(a.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.Complete(a.ID, Result{Code: "x"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	created, completed, active := store.Counts()
	if created != 2 || completed != 1 || active != 1 {
		t.Fatalf("unexpected counts: created=%d completed=%d active=%d", created, completed, active)
	}
}

func TestConcurrentReadersSeeConsistentStates(t *testing.T) {
	store := NewStore()
	job := store.Create("key-a", Task{Description: "task"})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			got, ok := store.Snapshot(job.ID)
			if !ok {
				t.Errorf("job disappeared")
				return
			}
			switch got.Status {
			case StatusQueued, StatusRunning, StatusCompleted:
			default:
				t.Errorf("observed unexpected status %s", got.Status)
				return
			}
			if got.Status == StatusCompleted && got.Result == nil {
				t.Errorf("terminal snapshot missing result")
				return
			}
		}
	}()

	if err := store.MarkRunning(job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.Complete(job.ID, Result{Code: "x"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	close(done)
	wg.Wait()
}
