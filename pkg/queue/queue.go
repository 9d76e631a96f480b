// Package queue runs capture work over a fixed set of workers.
//
// URLs go into a TaskQueue, workers pull them and call a capture function,
// and every processed URL ends up as exactly one Result in a ResultChannel
// that the caller drains at its own pace.
package queue

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Dequeue when nothing arrived in time.
	ErrTimeout = errors.New("dequeue timed out")

	// ErrStopSignal is returned by Dequeue when the worker should exit.
	ErrStopSignal = errors.New("stop signal received")
)

// task is either a URL or a stop marker. A stop marker can not be built
// from any URL string.
type task struct {
	url  string
	stop bool
}

// TaskQueue is an unbounded FIFO of pending URLs. It is safe for concurrent
// use; enqueueing never blocks.
type TaskQueue struct {
	mu    sync.Mutex
	items []task
	stops int
	ready chan struct{}
}

// NewTaskQueue returns an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		ready: make(chan struct{}, 1),
	}
}

// EnqueueMany appends urls in order and returns how many were added.
func (q *TaskQueue) EnqueueMany(urls ...string) int {
	if len(urls) == 0 {
		return 0
	}
	q.mu.Lock()
	for _, u := range urls {
		q.items = append(q.items, task{url: u})
	}
	q.mu.Unlock()
	q.notify()
	return len(urls)
}

func (q *TaskQueue) pushStop() {
	q.mu.Lock()
	q.items = append(q.items, task{stop: true})
	q.stops++
	q.mu.Unlock()
	q.notify()
}

// purgeStops drops stop markers nobody consumed.
func (q *TaskQueue) purgeStops() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, t := range q.items {
		if t.stop {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = task{}
	}
	q.items = kept
	q.stops = 0
	return removed
}

// Dequeue waits up to timeout for the next URL. It returns ErrTimeout when
// the wait expires and ErrStopSignal when a stop marker is at the head.
func (q *TaskQueue) Dequeue(timeout time.Duration) (string, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if t, ok := q.pop(); ok {
			if t.stop {
				return "", ErrStopSignal
			}
			return t.url, nil
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-q.ready:
		case <-timer.C:
			// One last look so a racing enqueue is not missed.
			if t, ok := q.pop(); ok {
				if t.stop {
					return "", ErrStopSignal
				}
				return t.url, nil
			}
			return "", ErrTimeout
		}
	}
}

func (q *TaskQueue) pop() (task, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return task{}, false
	}
	t := q.items[0]
	q.items[0] = task{}
	q.items = q.items[1:]
	if t.stop {
		q.stops--
	}
	more := len(q.items) > 0
	q.mu.Unlock()

	// Pass the wake-up on so other waiters see the remaining items.
	if more {
		q.notify()
	}
	return t, true
}

func (q *TaskQueue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Size is a snapshot of the number of queued URLs. It may be stale by the
// time the caller reads it.
func (q *TaskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.stops
}

// IsEmpty reports whether the queue held nothing at the time of the call.
func (q *TaskQueue) IsEmpty() bool {
	return q.Size() == 0
}
