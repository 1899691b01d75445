package promo

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]*PromoCode
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes: make(map[string]*PromoCode),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, p *PromoCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[p.Code]; ok {
		return ErrCodeExists
	}
	cp := *p
	s.codes[p.Code] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, code string) (*PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*PromoCode, 0, len(s.codes))
	for _, p := range s.codes {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.codes[code]
	if !ok {
		return ErrCodeNotFound
	}
	p.Active = active
	return nil
}

func (s *MemoryStore) Redeem(ctx context.Context, code string) (*PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.codes[code]
	if !ok {
		return nil, ErrRedemptionFailed
	}
	if !p.Active || p.UsedCount >= p.MaxUses {
		return nil, ErrRedemptionFailed
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(s.now()) {
		return nil, ErrRedemptionFailed
	}
	p.UsedCount++
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Unredeem(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.codes[code]
	if !ok {
		return ErrCodeNotFound
	}
	if p.UsedCount > 0 {
		p.UsedCount--
	}
	return nil
}
