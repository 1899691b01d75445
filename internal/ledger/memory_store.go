package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/commercia/creditcore/internal/syncutil"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	txns     map[string][]*Transaction // tenantID -> newest last
	byKey    map[string]*Transaction   // tenantID + "\x00" + idempotencyKey

	// applyMu serializes Apply per tenant without blocking reads or
	// unrelated tenants.
	applyMu syncutil.ShardedMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		txns:     make(map[string][]*Transaction),
		byKey:    make(map[string]*Transaction),
	}
}

func keyFor(tenantID, idempotencyKey string) string {
	return tenantID + "\x00" + idempotencyKey
}

func (s *MemoryStore) GetAccount(ctx context.Context, tenantID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.accounts[tenantID]; ok {
		cp := *acct
		return &cp, nil
	}
	return &Account{TenantID: tenantID, UpdatedAt: time.Now().UTC()}, nil
}

func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if txn, ok := s.byKey[keyFor(tenantID, key)]; ok {
		cp := *txn
		return &cp, nil
	}
	return nil, ErrTransactionNotFound
}

func (s *MemoryStore) Apply(ctx context.Context, txn *Transaction) (*Transaction, *Account, bool, error) {
	unlock := s.applyMu.Lock(txn.TenantID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[txn.TenantID]
	if !ok {
		acct = &Account{TenantID: txn.TenantID}
		s.accounts[txn.TenantID] = acct
	}
	if acct.Frozen {
		return nil, nil, false, ErrTenantFrozen
	}

	if txn.IdempotencyKey != "" {
		if existing, ok := s.byKey[keyFor(txn.TenantID, txn.IdempotencyKey)]; ok {
			txnCopy := *existing
			acctCopy := *acct
			return &txnCopy, &acctCopy, true, nil
		}
	}

	after := acct.Balance + txn.Amount
	if after < 0 {
		return nil, nil, false, &InsufficientCreditsError{
			TenantID:  txn.TenantID,
			Balance:   acct.Balance,
			Requested: -txn.Amount,
		}
	}

	stored := *txn
	stored.BalanceAfter = after

	acct.Balance = after
	if txn.Amount > 0 {
		acct.LifetimeEarned += txn.Amount
	} else {
		acct.LifetimeSpent += -txn.Amount
	}
	acct.UpdatedAt = time.Now().UTC()

	s.txns[txn.TenantID] = append(s.txns[txn.TenantID], &stored)
	if stored.IdempotencyKey != "" {
		s.byKey[keyFor(stored.TenantID, stored.IdempotencyKey)] = &stored
	}

	txnCopy := stored
	acctCopy := *acct
	return &txnCopy, &acctCopy, false, nil
}

func (s *MemoryStore) List(ctx context.Context, q HistoryQuery) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.txns[q.TenantID]
	out := make([]*Transaction, 0, q.Limit+1)
	for i := len(all) - 1; i >= 0; i-- {
		t := all[i]
		if q.Type != "" && t.Type != q.Type {
			continue
		}
		if !q.DateFrom.IsZero() && t.CreatedAt.Before(q.DateFrom) {
			continue
		}
		if !q.DateTo.IsZero() && t.CreatedAt.After(q.DateTo) {
			continue
		}
		if q.Cursor != nil {
			if t.CreatedAt.After(q.Cursor.CreatedAt) {
				continue
			}
			if t.CreatedAt.Equal(q.Cursor.CreatedAt) && t.ID >= q.Cursor.ID {
				continue
			}
		}
		cp := *t
		out = append(out, &cp)
		if len(out) > q.Limit {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListAll(ctx context.Context, tenantID string) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.txns[tenantID]
	out := make([]*Transaction, 0, len(all))
	for _, t := range all {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListTenants(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SetFrozen(ctx context.Context, tenantID string, frozen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[tenantID]
	if !ok {
		acct = &Account{TenantID: tenantID}
		s.accounts[tenantID] = acct
	}
	acct.Frozen = frozen
	acct.UpdatedAt = time.Now().UTC()
	return nil
}
