package credentials

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/internal/metrics"
	"evalgo.org/kiwi/models"
)

var (
	// ErrSessionClosed is returned when submitting to a session that was
	// already resolved or cancelled.
	ErrSessionClosed = errors.New("authentication session is closed")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("authentication session not found")

	// ErrInputLength is returned when the number of submitted rows differs
	// from the number of hops.
	ErrInputLength = errors.New("credential rows do not match hop count")

	// ErrIncomplete is returned when a submitted row lacks username or password.
	ErrIncomplete = errors.New("every hop needs a username and a password")

	// ErrCancelled is returned by Wait when the session was cancelled.
	ErrCancelled = errors.New("authentication cancelled")
)

// Session is one pending authentication request. It is created by
// Manager.Begin and closed by exactly one Submit or Cancel.
type Session struct {
	id        string
	purpose   models.AuthPurpose
	hops      []models.Hop // resolved from the store, may be incomplete
	prefill   []models.CredentialInput
	pending   any
	createdAt time.Time
	manager   *Manager

	mu     sync.Mutex
	state  models.AuthState
	result []models.Hop
	typed  []models.CredentialInput
	done   chan struct{}
}

// ID returns the session id. Bypassed sessions have an empty id.
func (s *Session) ID() string { return s.id }

// Purpose returns the operation the credentials are collected for.
func (s *Session) Purpose() models.AuthPurpose { return s.purpose }

// Pending returns the operation parked on this session.
func (s *Session) Pending() any { return s.pending }

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current state.
func (s *Session) State() models.AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Resolved returns the dispatchable hop chain once the session is resolved.
func (s *Session) Resolved() ([]models.Hop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.AuthResolved {
		return nil, false
	}
	return copyHops(s.result), true
}

// Typed returns the rows submitted by the user. It is empty for bypassed sessions.
func (s *Session) Typed() []models.CredentialInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CredentialInput, len(s.typed))
	copy(out, s.typed)
	return out
}

// Done is closed when the session leaves AwaitingCredentials.
func (s *Session) Done() <-chan struct{} { return s.done }

// View returns a snapshot without passwords.
func (s *Session) View() models.AuthSessionView {
	prefill := make([]models.CredentialInput, len(s.prefill))
	for i, p := range s.prefill {
		prefill[i] = models.CredentialInput{Username: p.Username}
	}
	return models.AuthSessionView{
		ID:        s.id,
		Purpose:   s.purpose,
		State:     s.State(),
		Hops:      models.RedactHops(s.hops),
		Prefill:   prefill,
		CreatedAt: s.createdAt,
	}
}

// Wait blocks until the session is resolved or cancelled.
func (s *Session) Wait(ctx context.Context) ([]models.Hop, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if hops, ok := s.Resolved(); ok {
		return hops, nil
	}
	return nil, ErrCancelled
}

// Check inspects a submission before anything is stored. typed holds the
// rows as entered, retained the chain the store will hold for those hops once
// the upsert policy is applied.
type Check func(typed []models.CredentialInput, retained []models.Hop) error

// Submit completes the session with one row per hop, matched by index. The
// returned chain is exactly what was typed, combined with the original host
// and port. The upsert policy only decides what is written to the store.
func (s *Session) Submit(ctx context.Context, inputs []models.CredentialInput) ([]models.Hop, error) {
	return s.SubmitChecked(ctx, inputs, nil)
}

// SubmitChecked is Submit with check run before the store is touched. A
// check error cancels the session and nothing is saved.
func (s *Session) SubmitChecked(ctx context.Context, inputs []models.CredentialInput, check Check) ([]models.Hop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.AuthAwaitingCredentials {
		return nil, ErrSessionClosed
	}
	if len(inputs) != len(s.hops) {
		return nil, fmt.Errorf("%w: got %d rows for %d hops", ErrInputLength, len(inputs), len(s.hops))
	}

	// rejected rows keep the session open for another try
	merged := make([]models.Hop, len(s.hops))
	for i, h := range s.hops {
		in := inputs[i]
		if in.Username == "" || in.Password == "" {
			return nil, fmt.Errorf("%w: hop %d (%s)", ErrIncomplete, i, h.Key())
		}
		merged[i] = models.Hop{Host: h.Host, Port: h.Port, Username: in.Username, Password: in.Password}
	}
	typed := append([]models.CredentialInput(nil), inputs...)

	m := s.manager
	if check != nil {
		retained, err := m.retained(ctx, merged)
		if err != nil {
			return nil, err
		}
		if err := check(typed, retained); err != nil {
			s.closeLocked(models.AuthCancelled)
			logging.Warnf("auth session %s (%s) rejected: %v", s.id, s.purpose, err)
			return nil, err
		}
	}

	saved, err := m.policy.Save(ctx, m.store, merged)
	if err != nil {
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}

	s.typed = typed
	s.result = merged
	s.closeLocked(models.AuthResolved)

	logging.Infof("auth session %s (%s) resolved, %d of %d credentials stored", s.id, s.purpose, saved, len(merged))
	return copyHops(merged), nil
}

// Cancel discards the session and its parked operation. Cancelling a closed
// session is a no-op and returns false.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.AuthAwaitingCredentials {
		return false
	}
	s.closeLocked(models.AuthCancelled)
	logging.Infof("auth session %s (%s) cancelled", s.id, s.purpose)
	return true
}

// closeLocked moves the session to a final state. s.mu must be held.
func (s *Session) closeLocked(state models.AuthState) {
	s.state = state
	close(s.done)
	s.manager.remove(s.id)
}

// Manager owns the open authentication sessions.
type Manager struct {
	store    Store
	resolver *Resolver
	policy   UpsertPolicy

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager over store with the given upsert policy.
func NewManager(store Store, policy UpsertPolicy) *Manager {
	if policy == "" {
		policy = InsertOnly
	}
	return &Manager{
		store:    store,
		resolver: NewResolver(store),
		policy:   policy,
		sessions: make(map[string]*Session),
	}
}

// Store returns the underlying credential store.
func (m *Manager) Store() Store { return m.store }

// Resolver returns the resolver bound to the manager's store.
func (m *Manager) Resolver() *Resolver { return m.resolver }

// Policy returns the upsert policy applied on submit.
func (m *Manager) Policy() UpsertPolicy { return m.policy }

// Begin resolves hops for purpose. When the store fills every hop the
// returned session is already Resolved and is not registered. Otherwise it
// waits in AwaitingCredentials with pending parked on it.
func (m *Manager) Begin(ctx context.Context, purpose models.AuthPurpose, hops []models.Hop, pending any) (*Session, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("unknown auth purpose %q", purpose)
	}
	if len(hops) == 0 {
		return nil, errors.New("hop chain is empty")
	}

	res, err := m.resolver.Resolve(ctx, hops)
	if err != nil {
		return nil, err
	}

	s := &Session{
		purpose:   purpose,
		hops:      res.Hops,
		prefill:   res.Prefill,
		pending:   pending,
		createdAt: time.Now().UTC(),
		manager:   m,
		done:      make(chan struct{}),
	}

	if res.AllFilled {
		s.state = models.AuthResolved
		s.result = res.Hops
		close(s.done)
		metrics.AuthBypassTotal.WithLabelValues(string(purpose)).Inc()
		logging.Debugf("auth %s: all %d hops served from the credential store", purpose, len(hops))
		return s, nil
	}

	s.id = models.GenerateID("auth")
	s.state = models.AuthAwaitingCredentials

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	metrics.AuthPromptsTotal.WithLabelValues(string(purpose)).Inc()
	logging.Infof("auth session %s (%s) awaiting credentials for hops %v", s.id, purpose, res.Missing())
	return s, nil
}

// Get returns an open session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Submit forwards inputs to the session with the given id.
func (m *Manager) Submit(ctx context.Context, id string, inputs []models.CredentialInput) (*Session, []models.Hop, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	hops, err := s.Submit(ctx, inputs)
	if err != nil {
		return s, nil, err
	}
	return s, hops, nil
}

// Cancel cancels the session with the given id.
func (m *Manager) Cancel(id string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.Cancel()
	return s, nil
}

// List returns views of all open sessions, oldest first.
func (m *Manager) List() []models.AuthSessionView {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	views := make([]models.AuthSessionView, 0, len(open))
	for _, s := range open {
		views = append(views, s.View())
	}
	sortViews(views)
	return views
}

// Expire cancels sessions older than maxAge and returns how many were closed.
func (m *Manager) Expire(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.createdAt.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, s := range stale {
		if s.Cancel() {
			n++
		}
	}
	return n
}

// retained returns the chain the store will hold for merged after the
// policy is applied. Under InsertOnly cached hops keep their stored value,
// and a host repeated in the chain keeps its first typed value.
func (m *Manager) retained(ctx context.Context, merged []models.Hop) ([]models.Hop, error) {
	if m.policy == Overwrite {
		return copyHops(merged), nil
	}
	res, err := m.resolver.Resolve(ctx, merged)
	if err != nil {
		return nil, err
	}

	out := res.Hops
	first := make(map[models.HopKey]int, len(out))
	for i := range out {
		if out[i].Complete() {
			continue
		}
		if j, ok := first[merged[i].Key()]; ok {
			out[i] = out[j]
			continue
		}
		first[merged[i].Key()] = i
		out[i] = merged[i]
	}
	return out, nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func copyHops(hops []models.Hop) []models.Hop {
	out := make([]models.Hop, len(hops))
	copy(out, hops)
	return out
}

func sortViews(views []models.AuthSessionView) {
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
}
