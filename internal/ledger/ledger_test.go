package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercia/creditcore/internal/pagination"
)

func newTestLedger() *Ledger {
	return New(NewMemoryStore())
}

func TestApply_CreditAndDebit(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	res, err := l.Apply(ctx, ApplyInput{
		TenantID:       "t_acme",
		Amount:         5000,
		Type:           TypePurchase,
		IdempotencyKey: "evt_1",
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(5000), res.Transaction.BalanceAfter)
	assert.Equal(t, int64(5000), res.Account.Balance)
	assert.Equal(t, int64(5000), res.Account.LifetimeEarned)

	res, err = l.Apply(ctx, ApplyInput{
		TenantID:   "t_acme",
		Amount:     -1200,
		Type:       TypeUsage,
		ActionType: "report_generation",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3800), res.Transaction.BalanceAfter)
	assert.Equal(t, int64(3800), res.Account.Balance)
	assert.Equal(t, int64(1200), res.Account.LifetimeSpent)
}

func TestApply_ExactBalanceThenReject(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Apply(ctx, ApplyInput{
		TenantID:       "t_acme",
		Amount:         1000,
		Type:           TypePurchase,
		IdempotencyKey: "evt_seed",
	})
	require.NoError(t, err)

	// Debiting the full balance succeeds and lands on exactly zero.
	res, err := l.Apply(ctx, ApplyInput{
		TenantID: "t_acme",
		Amount:   -1000,
		Type:     TypeUsage,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Account.Balance)

	// One more credit is one too many.
	_, err = l.Apply(ctx, ApplyInput{
		TenantID: "t_acme",
		Amount:   -1,
		Type:     TypeUsage,
	})
	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(0), insufficient.Balance)
	assert.Equal(t, int64(1), insufficient.Requested)
	assert.Equal(t, int64(1), insufficient.Shortfall())

	// The rejected debit left no transaction behind.
	acct, err := l.Balance(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Balance)
	txns, _, _, err := l.History(ctx, HistoryQuery{TenantID: "t_acme"})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestApply_InsufficientReportsShortfall(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Apply(ctx, ApplyInput{
		TenantID:       "t_acme",
		Amount:         300,
		Type:           TypePurchase,
		IdempotencyKey: "evt_seed",
	})
	require.NoError(t, err)

	_, err = l.Apply(ctx, ApplyInput{
		TenantID: "t_acme",
		Amount:   -1000,
		Type:     TypeUsage,
	})
	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(700), insufficient.Shortfall())
}

func TestApply_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	first, err := l.Apply(ctx, ApplyInput{
		TenantID:       "t_acme",
		Amount:         5000,
		Type:           TypePurchase,
		IdempotencyKey: "evt_42",
	})
	require.NoError(t, err)
	require.False(t, first.Replayed)

	// Same key, even with a different amount, is a no-op returning the
	// original transaction.
	second, err := l.Apply(ctx, ApplyInput{
		TenantID:       "t_acme",
		Amount:         9999,
		Type:           TypePurchase,
		IdempotencyKey: "evt_42",
	})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(5000), second.Transaction.Amount)
	assert.Equal(t, int64(5000), second.Account.Balance)
}

func TestApply_IdempotencyKeyScopedToTenant(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Apply(ctx, ApplyInput{
		TenantID: "t_a", Amount: 100, Type: TypePurchase, IdempotencyKey: "shared",
	})
	require.NoError(t, err)

	res, err := l.Apply(ctx, ApplyInput{
		TenantID: "t_b", Amount: 200, Type: TypePurchase, IdempotencyKey: "shared",
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(200), res.Account.Balance)
}

func TestApply_Validation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Apply(ctx, ApplyInput{Amount: 100, Type: TypePurchase, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = l.Apply(ctx, ApplyInput{TenantID: "t_a", Amount: 0, Type: TypeUsage})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = l.Apply(ctx, ApplyInput{TenantID: "t_a", Amount: 100, Type: Type("mystery")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Purchases must carry an idempotency key.
	_, err = l.Apply(ctx, ApplyInput{TenantID: "t_a", Amount: 100, Type: TypePurchase})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestApply_FrozenTenantRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store)

	_, err := l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: 100, Type: TypeFreeGrant,
	})
	require.NoError(t, err)

	require.NoError(t, store.SetFrozen(ctx, "t_acme", true))

	_, err = l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: -10, Type: TypeUsage,
	})
	assert.ErrorIs(t, err, ErrTenantFrozen)

	// Reads still work while frozen.
	acct, err := l.Balance(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Balance)
	assert.True(t, acct.Frozen)

	require.NoError(t, l.Unfreeze(ctx, "t_acme"))
	_, err = l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: -10, Type: TypeUsage,
	})
	assert.NoError(t, err)
}

func TestApply_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: 100, Type: TypeFreeGrant,
	})
	require.NoError(t, err)

	// 50 workers each try to debit 10 from a balance of 100: exactly 10
	// may succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Apply(ctx, ApplyInput{
				TenantID: "t_acme", Amount: -10, Type: TypeUsage,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				var insufficient *InsufficientCreditsError
				assert.ErrorAs(t, err, &insufficient)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	acct, err := l.Balance(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Balance)
}

func TestApply_ConcurrentSameKeyAppliesOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Apply(ctx, ApplyInput{
				TenantID: "t_acme", Amount: 500, Type: TypePurchase, IdempotencyKey: "evt_dup",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acct, err := l.Balance(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.Balance)
}

func TestHistory_FilterAndPaginate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: 10000, Type: TypePurchase, IdempotencyKey: "evt_seed",
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := l.Apply(ctx, ApplyInput{
			TenantID: "t_acme", Amount: -100, Type: TypeUsage,
		})
		require.NoError(t, err)
	}

	// Type filter.
	usage, _, _, err := l.History(ctx, HistoryQuery{TenantID: "t_acme", Type: TypeUsage})
	require.NoError(t, err)
	assert.Len(t, usage, 5)

	// Page through everything 2 at a time.
	var seen []string
	cursor := ""
	for {
		cur, err := pagination.Decode(cursor)
		require.NoError(t, err)
		page, next, hasMore, err := l.History(ctx, HistoryQuery{
			TenantID: "t_acme", Limit: 2, Cursor: cur,
		})
		require.NoError(t, err)
		for _, txn := range page {
			seen = append(seen, txn.ID)
		}
		if !hasMore {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, 6)

	// No duplicates across pages.
	unique := make(map[string]bool)
	for _, id := range seen {
		assert.False(t, unique[id], "transaction %s appeared twice", id)
		unique[id] = true
	}
}

func TestHistory_BalanceAfterChain(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	amounts := []int64{1000, -200, 300, -50, -400}
	for i, amount := range amounts {
		typ := TypeUsage
		key := ""
		if amount > 0 {
			typ = TypePurchase
			key = fmt.Sprintf("evt_%d", i)
		}
		_, err := l.Apply(ctx, ApplyInput{
			TenantID: "t_acme", Amount: amount, Type: typ, IdempotencyKey: key,
		})
		require.NoError(t, err)
	}

	all, err := l.store.ListAll(ctx, "t_acme")
	require.NoError(t, err)
	require.Len(t, all, len(amounts))

	var running int64
	for _, txn := range all {
		running += txn.Amount
		assert.Equal(t, running, txn.BalanceAfter)
	}
	acct, err := l.Balance(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, running, acct.Balance)
}

func TestAudit_ConsistentLedger(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: 1000, Type: TypePurchase, IdempotencyKey: "evt_1",
	})
	require.NoError(t, err)
	_, err = l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: -400, Type: TypeUsage,
	})
	require.NoError(t, err)

	report, err := l.AuditTenant(ctx, "t_acme")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(600), report.ComputedBalance)
	assert.Empty(t, report.Problems)

	acct, _ := l.Balance(ctx, "t_acme")
	assert.False(t, acct.Frozen)
}

func TestAudit_CorruptedProjectionFreezesTenant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store)

	_, err := l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: 1000, Type: TypePurchase, IdempotencyKey: "evt_1",
	})
	require.NoError(t, err)

	// Corrupt the projection behind the writer's back.
	store.mu.Lock()
	store.accounts["t_acme"].Balance = 999
	store.mu.Unlock()

	report, err := l.AuditTenant(ctx, "t_acme")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.NotEmpty(t, report.Problems)

	_, err = l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: -10, Type: TypeUsage,
	})
	assert.ErrorIs(t, err, ErrTenantFrozen)

	// Other tenants are unaffected.
	_, err = l.Apply(ctx, ApplyInput{
		TenantID: "t_other", Amount: 50, Type: TypeFreeGrant,
	})
	assert.NoError(t, err)
}

func TestAudit_BrokenChainDetected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store)

	_, err := l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: 1000, Type: TypePurchase, IdempotencyKey: "evt_1",
	})
	require.NoError(t, err)
	_, err = l.Apply(ctx, ApplyInput{
		TenantID: "t_acme", Amount: -100, Type: TypeUsage,
	})
	require.NoError(t, err)

	store.mu.Lock()
	store.txns["t_acme"][1].BalanceAfter = 123
	store.accounts["t_acme"].Balance = 123
	store.mu.Unlock()

	report, err := l.AuditTenant(ctx, "t_acme")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
}

func TestBalance_UnknownTenantIsZero(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	acct, err := l.Balance(ctx, "t_never_seen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Balance)
	assert.Equal(t, int64(0), acct.LifetimeEarned)
}

func TestLookup_NotFound(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Lookup(ctx, "t_acme", "missing")
	assert.True(t, errors.Is(err, ErrTransactionNotFound))
}
