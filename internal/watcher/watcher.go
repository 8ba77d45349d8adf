package watcher

import (
	"context"
	"sync/atomic"

	"github.com/memorypilot/watchagent/pkg/models"
)

// Watcher is the interface for background sources with a lifecycle
type Watcher interface {
	Start() error
	Stop()
}

// PollSource answers a single, time-bounded query for the current state.
// A nil event with a nil error means there is nothing to report.
type PollSource interface {
	Poll(ctx context.Context) (*models.Event, error)
}

// PushSource delivers wake signals. A wake carries no data; it only asks the
// loop to run a fresh poll.
type PushSource interface {
	Wakes() <-chan struct{}
}

// DefaultQueueSize is the capacity of a wake queue
const DefaultQueueSize = 100

// Queue is a bounded, best-effort wake queue. When full, new wakes are
// dropped: a pending wake already guarantees a fresh poll.
type Queue struct {
	ch      chan struct{}
	dropped atomic.Uint64
}

// NewQueue creates a queue; capacity <= 0 means DefaultQueueSize
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{ch: make(chan struct{}, capacity)}
}

// Notify enqueues a wake without blocking and reports whether it was kept
func (q *Queue) Notify() bool {
	select {
	case q.ch <- struct{}{}:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Wakes implements PushSource
func (q *Queue) Wakes() <-chan struct{} {
	return q.ch
}

// Dropped counts wakes discarded because the queue was full
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
