package queue

import "sync"

// Result is the outcome of processing one URL. It is created once by the
// worker that handled the URL and never modified afterwards.
type Result[T any] struct {
	Success bool
	URL     string
	Value   T
	Error   error
	Worker  string
}

// Message returns the error text for a failed result and "" otherwise.
func (r Result[T]) Message() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

// ResultChannel is an unbounded FIFO of results. Push never blocks and Drain
// hands out every result exactly once.
type ResultChannel[T any] struct {
	mu      sync.Mutex
	results []Result[T]
}

// NewResultChannel returns an empty channel.
func NewResultChannel[T any]() *ResultChannel[T] {
	return &ResultChannel[T]{}
}

// Push appends a result.
func (c *ResultChannel[T]) Push(r Result[T]) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

// Drain removes and returns everything available, oldest first. It returns
// an empty slice when nothing is waiting.
func (c *ResultChannel[T]) Drain() []Result[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.results) == 0 {
		return []Result[T]{}
	}
	out := c.results
	c.results = nil
	return out
}

// Len is a snapshot of the number of undrained results.
func (c *ResultChannel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}
