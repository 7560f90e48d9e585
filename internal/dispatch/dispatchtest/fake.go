// Package dispatchtest provides an in-memory dispatch.Client for tests.
package dispatchtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"evalgo.org/kiwi/internal/dispatch"
)

// HandlerFunc answers one command. Returning a non-nil error simulates a transport failure.
type HandlerFunc func(cmd dispatch.Command) (any, error)

// Fake records dispatched commands and answers them with per-action handlers.
// Actions without a handler fail with a TransportError.
type Fake struct {
	mu       sync.Mutex
	handlers map[dispatch.Action]HandlerFunc
	calls    []dispatch.Command
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{handlers: make(map[dispatch.Action]HandlerFunc)}
}

// Handle registers a handler for action, replacing any previous one.
func (f *Fake) Handle(action dispatch.Action, h HandlerFunc) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[action] = h
	return f
}

// Reply registers a handler that always answers with data.
func (f *Fake) Reply(action dispatch.Action, data any) *Fake {
	return f.Handle(action, func(dispatch.Command) (any, error) { return data, nil })
}

// Fail registers a handler that always fails with msg.
func (f *Fake) Fail(action dispatch.Action, msg string) *Fake {
	return f.Handle(action, func(dispatch.Command) (any, error) {
		return nil, &dispatch.TransportError{Action: action, Message: msg}
	})
}

// Dispatch implements dispatch.Client.
func (f *Fake) Dispatch(ctx context.Context, cmd dispatch.Command) (*dispatch.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &dispatch.TransportError{Action: cmd.Action(), Err: err}
	}

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h, ok := f.handlers[cmd.Action()]
	f.mu.Unlock()

	if !ok {
		return nil, &dispatch.TransportError{Action: cmd.Action(), Message: "no handler registered"}
	}

	data, err := h(cmd)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("fake: marshal %s data: %w", cmd.Action(), err)
	}
	return &dispatch.Response{Success: true, Data: raw}, nil
}

// Calls returns all dispatched commands in order.
func (f *Fake) Calls() []dispatch.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dispatch.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns the dispatched commands of one action.
func (f *Fake) CallsFor(action dispatch.Action) []dispatch.Command {
	var out []dispatch.Command
	for _, c := range f.Calls() {
		if c.Action() == action {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many commands of action were dispatched.
func (f *Fake) Count(action dispatch.Action) int {
	return len(f.CallsFor(action))
}

// Reset forgets recorded calls but keeps handlers.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
