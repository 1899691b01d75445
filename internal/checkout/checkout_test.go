package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercia/creditcore/internal/promo"
	"github.com/commercia/creditcore/internal/retry"
	"github.com/commercia/creditcore/internal/tenant"
)

// stubProvider fakes the payment provider.
type stubProvider struct {
	fail     error
	failOnce bool
	calls    int
}

func (p *stubProvider) CreateSession(ctx context.Context, req ProviderRequest) (*ProviderSession, error) {
	p.calls++
	if p.fail != nil {
		if p.failOnce {
			err := p.fail
			p.fail = nil
			return nil, err
		}
		return nil, p.fail
	}
	return &ProviderSession{
		ID:  "stripe_" + req.SessionID,
		URL: "https://pay.example.com/" + req.SessionID,
	}, nil
}

type fixture struct {
	service  *Service
	store    *MemoryStore
	provider *stubProvider
	promos   *promo.Registry
	tenants  *tenant.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	provider := &stubProvider{}
	promos := promo.NewRegistry(promo.NewMemoryStore())
	tenants := tenant.NewService(tenant.NewMemoryStore())
	return &fixture{
		service:  NewService(store, provider, promos, tenants, 24*time.Hour),
		store:    store,
		provider: provider,
		promos:   promos,
		tenants:  tenants,
	}
}

func TestCreate_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.service.Create(ctx, "t_acme", "growth", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Contains(t, result.CheckoutURL, result.SessionID)

	session, err := f.store.Get(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPayment, session.Status)
	assert.Equal(t, int64(15000), session.Credits)
	assert.Equal(t, int64(2400), session.PriceCents)
	assert.Equal(t, "stripe_"+result.SessionID, session.ProviderSessionID)
}

func TestCreate_UnknownPackage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Create(ctx, "t_acme", "platinum", "")
	assert.ErrorIs(t, err, ErrPackageNotFound)
	assert.Zero(t, f.provider.calls)
}

func TestCreate_PromoValidatedNotRedeemed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.promos.Create(ctx, "WELCOME500", 500, 100, nil)
	require.NoError(t, err)

	result, err := f.service.Create(ctx, "t_acme", "growth", "welcome500")
	require.NoError(t, err)

	session, err := f.store.Get(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "WELCOME500", session.PromoCode)

	// Creation must not consume a use.
	validated, err := f.promos.Validate(ctx, "WELCOME500")
	require.NoError(t, err)
	assert.True(t, validated.Valid)
}

func TestCreate_RejectsBadPromo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	past := time.Now().Add(-time.Hour)
	_, err := f.promos.Create(ctx, "EXPIRED", 500, 100, &past)
	require.NoError(t, err)

	_, err = f.service.Create(ctx, "t_acme", "growth", "EXPIRED")
	assert.ErrorIs(t, err, ErrInvalidPromo)

	_, err = f.service.Create(ctx, "t_acme", "growth", "NEVER_EXISTED")
	assert.ErrorIs(t, err, ErrInvalidPromo)
	assert.Zero(t, f.provider.calls)
}

func TestCreate_SuspendedTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tenants.Create(ctx, "t_acme", "Acme Corp")
	require.NoError(t, err)
	require.NoError(t, f.tenants.Suspend(ctx, "t_acme"))

	_, err = f.service.Create(ctx, "t_acme", "growth", "")
	assert.ErrorIs(t, err, tenant.ErrTenantSuspended)
	assert.Zero(t, f.provider.calls)
}

func TestCreate_ProviderFailureLeavesNoState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.fail = retry.Permanent(errors.New("card network down"))

	_, err := f.service.Create(ctx, "t_acme", "growth", "")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	stale, err := f.store.ListExpirable(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestCreate_ProviderRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.fail = errors.New("connection reset")
	f.provider.failOnce = true

	result, err := f.service.Create(ctx, "t_acme", "starter", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, 2, f.provider.calls)
}

func TestTransition_ForwardOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.service.Create(ctx, "t_acme", "starter", "")
	require.NoError(t, err)

	session, err := f.service.Transition(ctx, result.SessionID, StatusAwaitingPayment, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, session.Status)
	assert.NotNil(t, session.CompletedAt)

	// Terminal sessions cannot move again.
	_, err = f.service.Transition(ctx, result.SessionID, StatusAwaitingPayment, StatusExpired)
	assert.ErrorIs(t, err, ErrStatusConflict)
	_, err = f.service.Transition(ctx, result.SessionID, StatusCompleted, StatusFailed)
	require.Error(t, err)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := &stubProvider{}
	promos := promo.NewRegistry(promo.NewMemoryStore())
	tenants := tenant.NewService(tenant.NewMemoryStore())
	// TTL in the past so new sessions are immediately stale.
	service := NewService(store, provider, promos, tenants, -time.Minute)

	first, err := service.Create(ctx, "t_acme", "starter", "")
	require.NoError(t, err)
	second, err := service.Create(ctx, "t_acme", "growth", "")
	require.NoError(t, err)

	// One of them completes before the sweep runs.
	_, err = service.Transition(ctx, second.SessionID, StatusAwaitingPayment, StatusCompleted)
	require.NoError(t, err)

	count, err := service.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	session, err := store.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, session.Status)

	session, err = store.Get(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, session.Status)

	// Expired is terminal: a late completion attempt is rejected.
	_, err = service.Transition(ctx, first.SessionID, StatusExpired, StatusCompleted)
	assert.ErrorIs(t, err, ErrStatusConflict)
	_, err = service.Transition(ctx, first.SessionID, StatusAwaitingPayment, StatusCompleted)
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestGetByProviderSessionID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.service.Create(ctx, "t_acme", "starter", "")
	require.NoError(t, err)

	session, err := f.service.GetByProviderSessionID(ctx, "stripe_"+result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, session.ID)

	_, err = f.service.GetByProviderSessionID(ctx, "stripe_unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
