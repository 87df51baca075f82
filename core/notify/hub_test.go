package notify

import (
	"testing"
	"time"

	"github.com/forgeq/forgeq/core/infra/metrics"
	"github.com/forgeq/forgeq/core/jobs"
)

func newTestHub(t *testing.T) (*Hub, *jobs.Store) {
	t.Helper()
	store := jobs.NewStore()
	return NewHub(store, 10*time.Millisecond, metrics.Noop{}), store
}

func recvUpdate(t *testing.T, sub *Subscription) (Update, bool) {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		return u, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}, false
	}
}

func TestWatchUnknownJob(t *testing.T) {
	hub, _ := newTestHub(t)

	sub := hub.Watch("no-such-job")
	defer sub.Close()

	u, ok := recvUpdate(t, sub)
	if !ok {
		t.Fatal("channel closed before not-found delivery")
	}
	if !u.NotFound {
		t.Fatalf("expected not-found update, got %+v", u)
	}
	if _, ok := recvUpdate(t, sub); ok {
		t.Fatal("channel must close after not-found")
	}
}

func TestWatchImmediateSnapshot(t *testing.T) {
	hub, store := newTestHub(t)
	job := store.Create("alice", jobs.Task{Description: "sort a slice"})

	sub := hub.Watch(job.ID)
	defer sub.Close()

	u, ok := recvUpdate(t, sub)
	if !ok {
		t.Fatal("channel closed before first snapshot")
	}
	if u.Job.ID != job.ID || u.Job.Status != jobs.StatusQueued {
		t.Fatalf("unexpected first snapshot %+v", u.Job)
	}
}

func TestWatchFollowsJobToTerminal(t *testing.T) {
	hub, store := newTestHub(t)
	job := store.Create("alice", jobs.Task{Description: "parse csv"})

	sub := hub.Watch(job.ID)
	defer sub.Close()

	if err := store.MarkRunning(job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.Complete(job.ID, jobs.Result{Code: "ok", Language: "go"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	var last Update
	for {
		u, ok := recvUpdate(t, sub)
		if !ok {
			break
		}
		last = u
	}
	if last.Job.Status != jobs.StatusCompleted {
		t.Fatalf("expected final update completed, got %+v", last)
	}
	if last.Job.Result == nil || last.Job.Result.Code != "ok" {
		t.Fatalf("terminal update must carry the result, got %+v", last.Job)
	}
}

func TestWatchLateSubscriberSeesTerminalOnce(t *testing.T) {
	hub, store := newTestHub(t)
	job := store.Create("alice", jobs.Task{Description: "late"})
	if err := store.MarkRunning(job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.Fail(job.ID, "executor blew up"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	sub := hub.Watch(job.ID)
	defer sub.Close()

	u, ok := recvUpdate(t, sub)
	if !ok {
		t.Fatal("expected one terminal snapshot")
	}
	if u.Job.Status != jobs.StatusFailed || u.Job.Error == "" {
		t.Fatalf("unexpected terminal snapshot %+v", u.Job)
	}
	if _, ok := recvUpdate(t, sub); ok {
		t.Fatal("channel must close after the terminal snapshot")
	}
}

func TestSubscriptionClose(t *testing.T) {
	hub, store := newTestHub(t)
	job := store.Create("alice", jobs.Task{Description: "long poll"})

	sub := hub.Watch(job.ID)
	if _, ok := recvUpdate(t, sub); !ok {
		t.Fatal("expected first snapshot before close")
	}
	sub.Close()
	sub.Close() // idempotent

	select {
	case _, ok := <-sub.Updates():
		if ok {
			// a poll may have raced the close; the channel still closes next
			if _, ok := recvUpdate(t, sub); ok {
				t.Fatal("channel must close after Close")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after Close")
	}
}
