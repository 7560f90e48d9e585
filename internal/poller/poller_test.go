package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequence returns a fetch func that walks through states and repeats the last one.
func sequence(states ...string) (func(context.Context) (string, error), *atomic.Int32) {
	var n atomic.Int32
	return func(context.Context) (string, error) {
		i := int(n.Add(1)) - 1
		if i >= len(states) {
			i = len(states) - 1
		}
		return states[i], nil
	}, &n
}

func wait[T any](t *testing.T, ch <-chan Result[T]) Result[T] {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not finish")
	}
	var zero Result[T]
	return zero
}

func TestPollStopsAtFirstTerminal(t *testing.T) {
	m := NewManager()
	fetch, calls := sequence("New", "InProgress", "Completed", "Completed")

	var mu sync.Mutex
	var updates []string
	done := make(chan Result[string], 1)

	h := Start(m, "job-1", Spec[string]{
		Kind:     "backup",
		Interval: time.Millisecond,
		Fetch:    fetch,
		Terminal: func(s string) bool { return s == "Completed" },
		OnUpdate: func(s string) {
			mu.Lock()
			updates = append(updates, s)
			mu.Unlock()
		},
		OnDone: func(r Result[string]) { done <- r },
	})

	res := wait(t, done)
	<-h.Done()
	assert.Equal(t, ReasonTerminal, res.Reason)
	assert.Equal(t, "Completed", res.Last)
	assert.NoError(t, res.Err)
	assert.Equal(t, 3, res.Fetches)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "no fetches after the terminal observation")

	mu.Lock()
	assert.Equal(t, []string{"New", "InProgress", "Completed"}, updates)
	mu.Unlock()

	assert.Empty(t, m.Active())
	h.Stop()
}

func TestPollStop(t *testing.T) {
	m := NewManager()
	fetch, _ := sequence("InProgress")
	done := make(chan Result[string], 1)

	h := Start(m, "job-2", Spec[string]{
		Interval: 5 * time.Millisecond,
		Fetch:    fetch,
		Terminal: func(string) bool { return false },
		OnDone:   func(r Result[string]) { done <- r },
	})
	assert.Equal(t, []string{"job-2"}, m.Active())

	assert.True(t, m.Stop("job-2"))
	res := wait(t, done)
	assert.Equal(t, ReasonStopped, res.Reason)

	h.Stop()
	<-h.Done()
	assert.False(t, m.Stop("job-2"))
}

func TestStartReplacesRunningPoll(t *testing.T) {
	m := NewManager()
	fetch, _ := sequence("InProgress")
	first := make(chan Result[string], 1)

	h1 := Start(m, "job-3", Spec[string]{
		Interval: 5 * time.Millisecond,
		Fetch:    fetch,
		Terminal: func(string) bool { return false },
		OnDone:   func(r Result[string]) { first <- r },
	})

	h2 := Start(m, "job-3", Spec[string]{
		Interval: 5 * time.Millisecond,
		Fetch:    fetch,
		Terminal: func(string) bool { return false },
	})

	assert.Equal(t, ReasonStopped, wait(t, first).Reason)
	<-h1.Done()

	got, ok := m.Get("job-3")
	require.True(t, ok)
	assert.Same(t, h2, got)

	h2.Stop()
	<-h2.Done()
	assert.Empty(t, m.Active())
}

func TestPollTimeout(t *testing.T) {
	m := NewManager()
	fetch, _ := sequence("InProgress")
	done := make(chan Result[string], 1)

	Start(m, "job-4", Spec[string]{
		Interval: 2 * time.Millisecond,
		Timeout:  20 * time.Millisecond,
		Fetch:    fetch,
		Terminal: func(string) bool { return false },
		OnDone:   func(r Result[string]) { done <- r },
	})

	res := wait(t, done)
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Equal(t, "InProgress", res.Last)
}

func TestPollConsecutiveErrors(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("gives up after the limit", func(t *testing.T) {
		m := NewManager()
		var calls atomic.Int32
		done := make(chan Result[string], 1)

		Start(m, "job-5", Spec[string]{
			Interval:             time.Millisecond,
			MaxConsecutiveErrors: 3,
			Fetch: func(context.Context) (string, error) {
				calls.Add(1)
				return "", boom
			},
			Terminal: func(string) bool { return true },
			OnDone:   func(r Result[string]) { done <- r },
		})

		res := wait(t, done)
		assert.Equal(t, ReasonFailed, res.Reason)
		assert.ErrorIs(t, res.Err, boom)
		assert.Equal(t, 3, res.Fetches)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("a success resets the count", func(t *testing.T) {
		m := NewManager()
		var calls atomic.Int32
		done := make(chan Result[string], 1)

		Start(m, "job-6", Spec[string]{
			Interval:             time.Millisecond,
			MaxConsecutiveErrors: 2,
			Fetch: func(context.Context) (string, error) {
				switch calls.Add(1) {
				case 1, 3:
					return "", boom
				case 2:
					return "InProgress", nil
				}
				return "Completed", nil
			},
			Terminal: func(s string) bool { return s == "Completed" },
			OnDone:   func(r Result[string]) { done <- r },
		})

		res := wait(t, done)
		assert.Equal(t, ReasonTerminal, res.Reason)
		assert.NoError(t, res.Err)
		assert.Equal(t, 4, res.Fetches)
	})
}

func TestStopAll(t *testing.T) {
	m := NewManager()
	fetch, _ := sequence("InProgress")
	for _, key := range []string{"a", "b", "c"} {
		Start(m, key, Spec[string]{
			Interval: 5 * time.Millisecond,
			Fetch:    fetch,
			Terminal: func(string) bool { return false },
		})
	}
	assert.Equal(t, []string{"a", "b", "c"}, m.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.StopAll(ctx))
	assert.Empty(t, m.Active())
}
