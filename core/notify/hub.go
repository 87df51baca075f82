package notify

import (
	"sync"
	"time"

	"github.com/forgeq/forgeq/core/infra/metrics"
	"github.com/forgeq/forgeq/core/jobs"
)

// SnapshotSource yields the current state of a job without ownership
// checks. The hub trusts callers to have authorized the watch already.
type SnapshotSource interface {
	Snapshot(id string) (jobs.Job, bool)
}

// Update is one observation delivered to a watcher. NotFound is terminal:
// the subscription is closed right after it is delivered.
type Update struct {
	Job      jobs.Job
	NotFound bool
}

// Hub fans job state out to watchers by polling the snapshot source.
// Each subscription gets its own poll loop; watchers are expected to be
// few and short-lived (they close once the job reaches a terminal state).
type Hub struct {
	source   SnapshotSource
	interval time.Duration
	metrics  metrics.Metrics
}

func NewHub(source SnapshotSource, interval time.Duration, m metrics.Metrics) *Hub {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Hub{source: source, interval: interval, metrics: m}
}

// Subscription is a single watcher's view of one job. Updates is closed
// when the job reaches a terminal state, the job does not exist, or the
// watcher calls Close.
type Subscription struct {
	updates chan Update
	done    chan struct{}
	once    sync.Once
}

func (s *Subscription) Updates() <-chan Update { return s.updates }

// Close detaches the watcher. Safe to call more than once and
// concurrently with delivery.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

// Watch starts a poll loop for jobID. The first observation is delivered
// immediately; subsequent ones follow the hub's poll interval and are
// coalesced so a slow reader only ever sees the latest state.
func (h *Hub) Watch(jobID string) *Subscription {
	sub := &Subscription{
		updates: make(chan Update, 1),
		done:    make(chan struct{}),
	}
	h.metrics.IncWatchSubscribed()
	go h.poll(jobID, sub)
	return sub
}

func (h *Hub) poll(jobID string, sub *Subscription) {
	defer h.metrics.DecWatchSubscribed()
	defer close(sub.updates)

	var lastStatus jobs.Status
	sent := false

	observe := func() (stop bool) {
		job, ok := h.source.Snapshot(jobID)
		if !ok {
			sub.push(Update{NotFound: true})
			return true
		}
		if !sent || job.Status != lastStatus {
			sub.push(Update{Job: job})
			sent = true
			lastStatus = job.Status
		}
		return job.Status.Terminal()
	}

	if observe() {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			if observe() {
				return
			}
		}
	}
}

// push delivers latest-wins: if the watcher has not drained the previous
// update it is discarded in favor of this one.
func (s *Subscription) push(u Update) {
	for {
		select {
		case <-s.done:
			return
		case s.updates <- u:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
