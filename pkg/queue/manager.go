package queue

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/root4loot/siteseeing/internal/log"
)

var (
	// ErrInvalidState is returned for calls the pool can not honour in its
	// current state, such as starting twice.
	ErrInvalidState = errors.New("invalid state")

	// ErrPanic wraps a panic recovered from a capture call.
	ErrPanic = errors.New("capture panicked")
)

const (
	DefaultPollInterval = time.Second
	DefaultJoinTimeout  = 5 * time.Second
)

// CaptureFunc turns a URL into an artifact. It may block for as long as the
// page takes to render.
type CaptureFunc[T any] func(url string) (T, error)

// Session is a capture resource owned by exactly one worker. It is opened
// when the worker starts and closed when the worker exits, so it never has
// to be safe for concurrent use.
type Session[T any] interface {
	Capture(url string) (T, error)
	Close() error
}

// SessionFactory opens the session for the named worker.
type SessionFactory[T any] func(worker string) (Session[T], error)

// ShutdownTimeoutError lists the workers that did not exit within the join
// timeout during Stop.
type ShutdownTimeoutError struct {
	Workers []string
	Timeout time.Duration
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("%d worker(s) did not stop within %v: %s",
		len(e.Workers), e.Timeout, strings.Join(e.Workers, ", "))
}

type options struct {
	pollInterval time.Duration
	joinTimeout  time.Duration
	logger       logrus.FieldLogger
}

// Option configures a Manager.
type Option func(*options)

// WithPollInterval bounds how long an idle worker waits before it rechecks
// whether the pool is still running.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithJoinTimeout bounds how long Stop waits for each worker.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.joinTimeout = d
		}
	}
}

// WithLogger sets the logger used for worker lifecycle and item failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// runState belongs to one Start/Stop cycle. A worker only ever watches the
// flag of the run that spawned it.
type runState struct {
	running atomic.Bool
}

type worker struct {
	name string
	done chan struct{}
}

// Manager owns a TaskQueue, a ResultChannel and the workers between them.
type Manager[T any] struct {
	tasks   *TaskQueue
	results *ResultChannel[T]
	opts    options

	mu      sync.Mutex
	run     *runState
	workers []*worker

	outstanding atomic.Int64
}

// NewManager returns a stopped Manager with empty queues.
func NewManager[T any](opts ...Option) *Manager[T] {
	o := options{
		pollInterval: DefaultPollInterval,
		joinTimeout:  DefaultJoinTimeout,
		logger:       log.Logger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[T]{
		tasks:   NewTaskQueue(),
		results: NewResultChannel[T](),
		opts:    o,
	}
}

// EnqueueMany adds urls to the task queue in order. It may be called while
// workers are running.
func (m *Manager[T]) EnqueueMany(urls ...string) int {
	m.outstanding.Add(int64(len(urls)))
	n := m.tasks.EnqueueMany(urls...)
	m.opts.logger.Infof("Added %d URLs to queue", n)
	return n
}

// Start spawns n workers that share capture. capture must be safe for
// concurrent use when n > 1; wrap it with Serialize or use StartSessions
// otherwise.
func (m *Manager[T]) Start(n int, capture CaptureFunc[T]) error {
	if capture == nil {
		return fmt.Errorf("%w: capture function is nil", ErrInvalidState)
	}
	return m.StartSessions(n, func(string) (Session[T], error) {
		return funcSession[T](capture), nil
	})
}

// StartSessions spawns n workers, each with its own session from open. All
// sessions are opened before any worker starts; if one fails, the ones
// already opened are closed and the error is returned.
func (m *Manager[T]) StartSessions(n int, open SessionFactory[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run != nil {
		return fmt.Errorf("%w: workers already running", ErrInvalidState)
	}
	if n <= 0 {
		return fmt.Errorf("%w: worker count must be positive, got %d", ErrInvalidState, n)
	}
	if open == nil {
		return fmt.Errorf("%w: session factory is nil", ErrInvalidState)
	}

	sessions := make([]Session[T], 0, n)
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("Worker-%d", i)
		s, err := open(name)
		if err == nil && s == nil {
			err = errors.New("factory returned no session")
		}
		if err != nil {
			for _, opened := range sessions {
				_ = opened.Close()
			}
			return fmt.Errorf("open session for %s: %w", name, err)
		}
		sessions = append(sessions, s)
	}

	run := &runState{}
	run.running.Store(true)
	for i, s := range sessions {
		w := &worker{
			name: fmt.Sprintf("Worker-%d", i+1),
			done: make(chan struct{}),
		}
		m.workers = append(m.workers, w)
		go m.work(run, w, s)
	}
	m.run = run

	m.opts.logger.Infof("Started %d worker(s)", n)
	return nil
}

func (m *Manager[T]) work(run *runState, w *worker, s Session[T]) {
	logger := m.opts.logger.WithField("worker", w.name)
	defer close(w.done)
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warnf("Could not close session: %v", err)
		}
		logger.Debug("stopped")
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Worker loop failed: %v", r)
		}
	}()

	logger.Debug("started")
	for run.running.Load() {
		url, err := m.tasks.Dequeue(m.opts.pollInterval)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if errors.Is(err, ErrStopSignal) {
			return
		}
		if err != nil {
			logger.Errorf("Dequeue failed: %v", err)
			continue
		}

		res := m.process(w.name, s, url)
		if !res.Success {
			logger.Warnf("Capture failed for %s: %v", url, res.Error)
		}
		m.results.Push(res)
		m.outstanding.Add(-1)
	}
}

func (m *Manager[T]) process(name string, s Session[T], url string) (res Result[T]) {
	res = Result[T]{URL: url, Worker: name}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			res.Success = false
			res.Value = zero
			res.Error = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	v, err := s.Capture(url)
	if err != nil {
		res.Error = err
		return res
	}
	res.Success = true
	res.Value = v
	return res
}

// Stop tells every worker to exit and waits for each up to the join timeout.
// In-flight captures are not interrupted. Workers that do not exit in time
// are reported in a *ShutdownTimeoutError; Stop still returns. Calling Stop
// on a stopped Manager does nothing.
func (m *Manager[T]) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run == nil {
		return nil
	}
	m.run.running.Store(false)
	for range m.workers {
		m.tasks.pushStop()
	}

	var stuck []string
	for _, w := range m.workers {
		timer := time.NewTimer(m.opts.joinTimeout)
		select {
		case <-w.done:
		case <-timer.C:
			stuck = append(stuck, w.name)
		}
		timer.Stop()
	}

	m.workers = nil
	m.run = nil
	m.tasks.purgeStops()

	if len(stuck) > 0 {
		err := &ShutdownTimeoutError{Workers: stuck, Timeout: m.opts.joinTimeout}
		m.opts.logger.Errorf("Stopping workers: %v", err)
		return err
	}
	m.opts.logger.Info("All workers stopped")
	return nil
}

// Running reports whether workers have been started and not stopped.
func (m *Manager[T]) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run != nil
}

// Workers returns the names of the tracked workers.
func (m *Manager[T]) Workers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.workers))
	for _, w := range m.workers {
		names = append(names, w.name)
	}
	return names
}

// DrainResults returns every result produced since the previous call.
func (m *Manager[T]) DrainResults() []Result[T] {
	return m.results.Drain()
}

// Size is a snapshot of the number of queued URLs.
func (m *Manager[T]) Size() int {
	return m.tasks.Size()
}

// IsEmpty reports whether no URL was queued at the time of the call. Items
// being captured right now are not counted; see Outstanding.
func (m *Manager[T]) IsEmpty() bool {
	return m.tasks.IsEmpty()
}

// Outstanding is the number of enqueued URLs that have no result yet,
// whether queued or in flight.
func (m *Manager[T]) Outstanding() int64 {
	return m.outstanding.Load()
}

// Serialize makes a single capture function safe to share between workers
// by running one call at a time.
func Serialize[T any](capture CaptureFunc[T]) CaptureFunc[T] {
	var mu sync.Mutex
	return func(url string) (T, error) {
		mu.Lock()
		defer mu.Unlock()
		return capture(url)
	}
}

type funcSession[T any] CaptureFunc[T]

func (f funcSession[T]) Capture(url string) (T, error) { return f(url) }

func (funcSession[T]) Close() error { return nil }
