package credentials

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/models"
)

type memoryEntry struct {
	host      string
	port      int
	username  string
	password  *memguard.LockedBuffer // nil when secure memory is unavailable
	plain     string
	updatedAt time.Time
}

func (e *memoryEntry) passwordString() string {
	if e.password != nil {
		return string(e.password.Bytes())
	}
	return e.plain
}

func (e *memoryEntry) destroy() {
	if e.password != nil {
		e.password.Destroy()
		e.password = nil
	}
	e.plain = ""
}

// MemoryStore is the process-wide credential cache. Passwords are kept in
// memguard locked buffers when the mlock limit allows it.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[models.HopKey]*memoryEntry
	secure  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	secure := secureMemoryAvailable()
	if !secure {
		logging.Warnf("secure memory unavailable, caching hop passwords in regular memory")
	}
	return &MemoryStore{
		entries: make(map[models.HopKey]*memoryEntry),
		secure:  secure,
	}
}

// Secure reports whether passwords are held in locked memory.
func (s *MemoryStore) Secure() bool {
	return s.secure
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key models.HopKey) (models.Credential, bool, error) {
	key = models.NewHopKey(key.Host, key.Port)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return models.Credential{}, false, nil
	}
	return models.Credential{
		Host:      e.host,
		Port:      e.port,
		Username:  e.username,
		Password:  e.passwordString(),
		UpdatedAt: e.updatedAt,
	}, true, nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, cred models.Credential) error {
	key := cred.Key()
	e := &memoryEntry{
		host:      key.Host,
		port:      key.Port,
		username:  cred.Username,
		updatedAt: time.Now(),
	}
	if s.secure && cred.Password != "" {
		// NewBufferFromBytes wipes the slice it is given.
		e.password = memguard.NewBufferFromBytes([]byte(cred.Password))
	} else {
		e.plain = cred.Password
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		old.destroy()
	}
	s.entries[key] = e
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key models.HopKey) error {
	key = models.NewHopKey(key.Host, key.Port)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.destroy()
		delete(s.entries, key)
	}
	return nil
}

// Keys implements Store. Keys are sorted by host then port.
func (s *MemoryStore) Keys(_ context.Context) ([]models.HopKey, error) {
	s.mu.RLock()
	keys := make([]models.HopKey, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Host != keys[j].Host {
			return keys[i].Host < keys[j].Host
		}
		return keys[i].Port < keys[j].Port
	})
	return keys, nil
}

// Close wipes all cached passwords.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		e.destroy()
		delete(s.entries, k)
	}
	return nil
}
