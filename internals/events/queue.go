package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout reports that Get waited its full idle window without an
// event arriving. Observers treat it as a cue to send a keepalive.
var ErrTimeout = errors.New("no event within timeout")

// Queue is an unbounded FIFO of task events. Put never blocks; Get
// blocks until an event, the timeout, or ctx cancellation.
type Queue struct {
	mu      sync.Mutex
	pending []TaskEvent
	signal  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

func (q *Queue) Put(event TaskEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, event)
	q.signalLocked()
	q.mu.Unlock()
}

// signalLocked nudges a single waiting Get without blocking the
// publisher. Callers must hold mu.
func (q *Queue) signalLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Get pops the oldest pending event. It returns ErrTimeout after the
// idle window and ctx.Err() if the context is cancelled first.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (TaskEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			event := q.pending[0]
			q.pending = q.pending[1:]
			if len(q.pending) > 0 {
				q.signalLocked()
			}
			q.mu.Unlock()
			return event, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-timer.C:
			return TaskEvent{}, ErrTimeout
		case <-ctx.Done():
			return TaskEvent{}, ctx.Err()
		}
	}
}

// Len reports the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
