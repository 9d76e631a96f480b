package queue

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestManager[T any](opts ...Option) *Manager[T] {
	base := []Option{
		WithPollInterval(20 * time.Millisecond),
		WithJoinTimeout(time.Second),
		WithLogger(quietLogger()),
	}
	return NewManager[T](append(base, opts...)...)
}

func waitDone[T any](t *testing.T, m *Manager[T], within time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Outstanding() == 0
	}, within, 5*time.Millisecond)
}

func TestManagerProcessesEveryItemOnce(t *testing.T) {
	t.Parallel()

	m := newTestManager[string]()
	const n = 50
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("http://example%d.com", i)
	}
	require.Equal(t, n, m.EnqueueMany(urls...))

	require.NoError(t, m.Start(4, func(url string) (string, error) {
		return "Processed: " + url, nil
	}))
	waitDone(t, m, 5*time.Second)
	require.NoError(t, m.Stop())

	results := m.DrainResults()
	require.Len(t, results, n)

	seen := map[string]int{}
	for _, r := range results {
		require.True(t, r.Success)
		require.Equal(t, "Processed: "+r.URL, r.Value)
		require.NotEmpty(t, r.Worker)
		seen[r.URL]++
	}
	require.Len(t, seen, n)
	for u, count := range seen {
		require.Equal(t, 1, count, u)
	}
}

func TestManagerItemFailureIsContained(t *testing.T) {
	t.Parallel()

	m := newTestManager[string]()
	m.EnqueueMany("http://a.com", "http://b.com")
	require.NoError(t, m.Start(1, func(url string) (string, error) {
		if url == "http://a.com" {
			return "", errors.New("Test error")
		}
		return "ok", nil
	}))
	waitDone(t, m, 2*time.Second)
	require.NoError(t, m.Stop())

	byURL := map[string]Result[string]{}
	for _, r := range m.DrainResults() {
		byURL[r.URL] = r
	}
	require.Len(t, byURL, 2)

	a := byURL["http://a.com"]
	require.False(t, a.Success)
	require.Contains(t, a.Message(), "Test error")

	b := byURL["http://b.com"]
	require.True(t, b.Success)
	require.Equal(t, "ok", b.Value)
	require.Empty(t, b.Message())
}

func TestManagerPanicBecomesFailure(t *testing.T) {
	t.Parallel()

	m := newTestManager[int]()
	m.EnqueueMany("boom", "fine")
	require.NoError(t, m.Start(1, func(url string) (int, error) {
		if url == "boom" {
			panic("renderer exploded")
		}
		return 1, nil
	}))
	waitDone(t, m, 2*time.Second)
	require.NoError(t, m.Stop())

	results := m.DrainResults()
	require.Len(t, results, 2)
	for _, r := range results {
		if r.URL == "boom" {
			require.False(t, r.Success)
			require.ErrorIs(t, r.Error, ErrPanic)
			require.Contains(t, r.Message(), "renderer exploded")
			continue
		}
		require.True(t, r.Success)
	}
}

func TestManagerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	m := newTestManager[string]()
	require.NoError(t, m.Stop())

	require.NoError(t, m.Start(3, func(url string) (string, error) { return url, nil }))
	require.True(t, m.Running())
	require.Equal(t, []string{"Worker-1", "Worker-2", "Worker-3"}, m.Workers())

	start := time.Now()
	require.NoError(t, m.Stop())
	require.Less(t, time.Since(start), 3*time.Second)
	require.False(t, m.Running())
	require.Empty(t, m.Workers())
	require.True(t, m.IsEmpty())

	require.NoError(t, m.Stop())
}

func TestManagerParallelThroughput(t *testing.T) {
	t.Parallel()

	m := newTestManager[string]()
	var mu sync.Mutex
	started := map[string]time.Time{}

	m.EnqueueMany("http://example0.com", "http://example1.com", "http://example2.com", "http://example3.com")
	begin := time.Now()
	require.NoError(t, m.Start(2, func(url string) (string, error) {
		mu.Lock()
		started[url] = time.Now()
		mu.Unlock()
		time.Sleep(500 * time.Millisecond)
		return "Processed: " + url, nil
	}))

	waitDone(t, m, 3*time.Second)
	elapsed := time.Since(begin)
	require.NoError(t, m.Stop())

	require.Len(t, m.DrainResults(), 4)
	require.Less(t, elapsed, 1500*time.Millisecond)
	require.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}

func TestManagerStartErrors(t *testing.T) {
	t.Parallel()

	m := newTestManager[string]()
	capture := func(url string) (string, error) { return url, nil }

	require.ErrorIs(t, m.Start(0, capture), ErrInvalidState)
	require.ErrorIs(t, m.Start(-2, capture), ErrInvalidState)
	require.ErrorIs(t, m.Start(1, nil), ErrInvalidState)
	require.False(t, m.Running())

	require.NoError(t, m.Start(1, capture))
	require.ErrorIs(t, m.Start(1, capture), ErrInvalidState)
	require.Len(t, m.Workers(), 1)
	require.NoError(t, m.Stop())
}

type fakeSession struct {
	name   string
	closed *atomic.Int32
	active *atomic.Int32
	maxAct *atomic.Int32
}

func (s *fakeSession) Capture(url string) (string, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		cur := s.maxAct.Load()
		if n <= cur || s.maxAct.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return s.name + ":" + url, nil
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

func TestManagerSessionsPerWorker(t *testing.T) {
	t.Parallel()

	m := newTestManager[string]()
	var opened, closed, active, maxActive atomic.Int32
	perSession := map[string]*atomic.Int32{}
	var mu sync.Mutex

	require.NoError(t, m.StartSessions(3, func(name string) (Session[string], error) {
		opened.Add(1)
		own := &atomic.Int32{}
		mu.Lock()
		perSession[name] = own
		mu.Unlock()
		return &fakeSession{name: name, closed: &closed, active: own, maxAct: &maxActive}, nil
	}))
	require.EqualValues(t, 3, opened.Load())

	for i := 0; i < 30; i++ {
		m.EnqueueMany(fmt.Sprintf("u%d", i))
	}
	waitDone(t, m, 5*time.Second)
	require.NoError(t, m.Stop())
	require.EqualValues(t, 3, closed.Load())

	// Each session is only ever used by its own worker.
	require.EqualValues(t, 1, maxActive.Load())
	require.Zero(t, active.Load())

	for _, r := range m.DrainResults() {
		require.Regexp(t, `^Worker-[123]:u\d+$`, r.Value)
		require.Equal(t, r.Worker+":"+r.URL, r.Value)
	}
}

func TestManagerSessionOpenFailure(t *testing.T) {
	t.Parallel()

	m := newTestManager[string]()
	var closed, active, maxActive atomic.Int32
	err := m.StartSessions(3, func(name string) (Session[string], error) {
		if name == "Worker-3" {
			return nil, errors.New("no browser")
		}
		return &fakeSession{name: name, closed: &closed, active: &active, maxAct: &maxActive}, nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Worker-3")
	require.EqualValues(t, 2, closed.Load())
	require.False(t, m.Running())
}

func TestManagerShutdownTimeout(t *testing.T) {
	t.Parallel()

	m := newTestManager[string](WithJoinTimeout(50 * time.Millisecond))
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	m.EnqueueMany("http://slow.com")
	require.NoError(t, m.Start(1, func(url string) (string, error) {
		close(entered)
		<-release
		return url, nil
	}))
	<-entered

	start := time.Now()
	err := m.Stop()
	require.Less(t, time.Since(start), time.Second)

	var timeoutErr *ShutdownTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, []string{"Worker-1"}, timeoutErr.Workers)
	require.False(t, m.Running())
	require.Empty(t, m.Workers())
}

func TestManagerRestartAfterStop(t *testing.T) {
	t.Parallel()

	m := newTestManager[string]()
	capture := func(url string) (string, error) { return url, nil }

	require.NoError(t, m.Start(2, capture))
	require.NoError(t, m.Stop())

	m.EnqueueMany("http://a.com", "http://b.com", "http://c.com")
	require.NoError(t, m.Start(2, capture))
	waitDone(t, m, 2*time.Second)
	require.NoError(t, m.Stop())
	require.Len(t, m.DrainResults(), 3)
}

func TestManagerDrainTwice(t *testing.T) {
	t.Parallel()

	m := newTestManager[string]()
	m.EnqueueMany("http://example.com")
	require.NoError(t, m.Start(1, func(url string) (string, error) { return url, nil }))
	waitDone(t, m, 2*time.Second)

	require.NotEmpty(t, m.DrainResults())
	require.Empty(t, m.DrainResults())
	require.NoError(t, m.Stop())
}

func TestSerialize(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	capture := Serialize(func(url string) (string, error) {
		n := active.Add(1)
		defer active.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		return url, nil
	})

	m := newTestManager[string]()
	for i := 0; i < 20; i++ {
		m.EnqueueMany(fmt.Sprintf("u%d", i))
	}
	require.NoError(t, m.Start(4, capture))
	waitDone(t, m, 5*time.Second)
	require.NoError(t, m.Stop())
	require.EqualValues(t, 1, peak.Load())
}
