package session

import (
	"sync"
	"time"

	"signchat/pkg/domain"
)

// MemoryStore keeps sessions in-process. State is process-lifetime only:
// a restart is the only teardown, and there is no expiry or size bound.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewMemoryStore initializes an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]domain.Session)}
}

// Get returns the session for id, or ErrNotFound.
func (m *MemoryStore) Get(id string) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

// GetOrCreate returns the session for id, creating it when absent.
func (m *MemoryStore) GetOrCreate(id string) domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		now := time.Now().UTC()
		s = domain.Session{ID: id, CreatedAt: now, UpdatedAt: now}
		m.sessions[id] = s
	}
	return cloneSession(s)
}

// Update applies mutate under the store lock so concurrent writers for the
// same session id are applied sequentially instead of racing last-write-wins.
func (m *MemoryStore) Update(id string, mutate func(*domain.Session)) domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		now := time.Now().UTC()
		s = domain.Session{ID: id, CreatedAt: now, UpdatedAt: now}
	}
	mutate(&s)
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return cloneSession(s)
}

// Delete removes a session.
func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of live sessions.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cloneSession copies slice fields so callers cannot mutate stored state
// outside Update.
func cloneSession(s domain.Session) domain.Session {
	out := s
	if len(s.Messages) > 0 {
		out.Messages = append([]domain.Message(nil), s.Messages...)
	}
	if len(s.Assets) > 0 {
		out.Assets = append([]domain.Asset(nil), s.Assets...)
	}
	return out
}
