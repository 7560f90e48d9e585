// Package poller observes long-running remote operations until they settle.
//
// Each poll is one goroutine with its own ticker. The first fetch happens
// immediately, then once per interval, and the poll ends by itself on the
// first terminal observation, on timeout, after too many consecutive fetch
// errors, or when stopped. Stopping a poll never cancels the remote
// operation, only its observation.
package poller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/internal/metrics"
)

// ErrTimeout is the result error of a poll that did not settle in time.
var ErrTimeout = errors.New("poll timed out")

// DefaultMaxConsecutiveErrors applies when a Spec leaves the limit unset.
const DefaultMaxConsecutiveErrors = 5

// Reason tells why a poll ended.
type Reason string

const (
	ReasonTerminal Reason = "terminal"
	ReasonStopped  Reason = "stopped"
	ReasonTimeout  Reason = "timeout"
	ReasonFailed   Reason = "failed"
)

// Spec describes one poll.
type Spec[T any] struct {
	// Kind labels metrics and logs, e.g. "backup".
	Kind string

	Interval time.Duration

	// Timeout bounds the whole poll. Zero means unbounded.
	Timeout time.Duration

	// MaxConsecutiveErrors ends the poll after this many failed fetches in a row.
	MaxConsecutiveErrors int

	Fetch    func(ctx context.Context) (T, error)
	Terminal func(T) bool

	// OnUpdate is called with every successful observation, terminal included.
	OnUpdate func(T)

	// OnDone is called exactly once when the poll ends.
	OnDone func(Result[T])
}

// Result is the final state of a poll.
type Result[T any] struct {
	Last    T
	Reason  Reason
	Err     error
	Fetches int
}

// Handle controls a running poll.
type Handle struct {
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Key returns the key the poll was started under.
func (h *Handle) Key() string { return h.key }

// Stop ends the poll. It is safe to call more than once and after the poll
// ended on its own. It does not wait for the poll goroutine.
func (h *Handle) Stop() { h.cancel() }

// Done is closed after OnDone returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Manager keeps at most one poll per key.
type Manager struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{handles: make(map[string]*Handle)}
}

// Start begins polling under key. A poll already running under key is
// stopped first.
func Start[T any](m *Manager, key string, spec Spec[T]) *Handle {
	if spec.Interval <= 0 {
		spec.Interval = time.Second
	}
	if spec.MaxConsecutiveErrors <= 0 {
		spec.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if spec.Kind == "" {
		spec.Kind = "job"
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{key: key, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if prior, ok := m.handles[key]; ok {
		logging.Debugf("poller: replacing running %s poll %s", spec.Kind, key)
		prior.Stop()
	}
	m.handles[key] = h
	m.mu.Unlock()

	metrics.PollersActive.Inc()
	go run(ctx, m, h, spec)
	return h
}

func run[T any](ctx context.Context, m *Manager, h *Handle, spec Spec[T]) {
	defer close(h.done)
	defer h.cancel()

	res := poll(ctx, spec)

	m.release(h)
	metrics.PollersActive.Dec()
	metrics.PollOutcomeTotal.WithLabelValues(spec.Kind, string(res.Reason)).Inc()
	logging.Debugf("poller: %s poll %s ended (%s) after %d fetches", spec.Kind, h.key, res.Reason, res.Fetches)

	if spec.OnDone != nil {
		spec.OnDone(res)
	}
}

func poll[T any](ctx context.Context, spec Spec[T]) Result[T] {
	var res Result[T]

	var deadline <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		v, err := spec.Fetch(ctx)
		res.Fetches++

		if ctx.Err() != nil {
			res.Reason = ReasonStopped
			return res
		}

		if err != nil {
			failures++
			res.Err = err
			metrics.PollFetchTotal.WithLabelValues(spec.Kind, metrics.ResultError).Inc()
			logging.Warnf("poller: %s fetch failed (%d/%d): %v", spec.Kind, failures, spec.MaxConsecutiveErrors, err)
			if failures >= spec.MaxConsecutiveErrors {
				res.Reason = ReasonFailed
				return res
			}
		} else {
			failures = 0
			res.Err = nil
			res.Last = v
			metrics.PollFetchTotal.WithLabelValues(spec.Kind, metrics.ResultSuccess).Inc()
			if spec.OnUpdate != nil {
				spec.OnUpdate(v)
			}
			if spec.Terminal != nil && spec.Terminal(v) {
				res.Reason = ReasonTerminal
				return res
			}
		}

		select {
		case <-ctx.Done():
			res.Reason = ReasonStopped
			return res
		case <-deadline:
			res.Reason = ReasonTimeout
			res.Err = ErrTimeout
			return res
		case <-ticker.C:
		}
	}
}

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	if cur, ok := m.handles[h.key]; ok && cur == h {
		delete(m.handles, h.key)
	}
	m.mu.Unlock()
}

// Get returns the running poll under key.
func (m *Manager) Get(key string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[key]
	return h, ok
}

// Stop stops the poll under key and reports whether one was running.
func (m *Manager) Stop(key string) bool {
	m.mu.Lock()
	h, ok := m.handles[key]
	m.mu.Unlock()
	if ok {
		h.Stop()
	}
	return ok
}

// Active returns the keys of running polls in sorted order.
func (m *Manager) Active() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.handles))
	for k := range m.handles {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// StopAll stops every running poll and waits for them to finish or ctx to end.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
