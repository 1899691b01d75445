package checkout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	byProvider map[string]string // provider session id -> local id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*Session),
		byProvider: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.ID] = &cp
	if session.ProviderSessionID != "" {
		s.byProvider[session.ProviderSessionID] = session.ID
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) GetByProviderSessionID(ctx context.Context, providerID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byProvider[providerID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.Status != from {
		return nil, ErrStatusConflict
	}
	session.Status = to
	if to == StatusCompleted {
		now := time.Now().UTC()
		session.CompletedAt = &now
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) ListExpirable(ctx context.Context, now time.Time) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Session
	for _, session := range s.sessions {
		if session.Status == StatusAwaitingPayment && session.ExpiresAt.Before(now) {
			cp := *session
			out = append(out, &cp)
		}
	}
	return out, nil
}
