package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercia/creditcore/internal/checkout"
	"github.com/commercia/creditcore/internal/ledger"
	"github.com/commercia/creditcore/internal/promo"
	"github.com/commercia/creditcore/internal/tenant"
)

// jsonVerifier accepts payloads that are JSON-encoded Events and a fixed
// signature. Stands in for the Stripe verifier in unit tests.
type jsonVerifier struct {
	signature string
}

func (v *jsonVerifier) Verify(payload []byte, signature string) (*Event, error) {
	if signature != v.signature {
		return nil, errors.New("signature mismatch")
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// stubProvider mirrors the payment provider for session creation.
type stubProvider struct{}

func (stubProvider) CreateSession(ctx context.Context, req checkout.ProviderRequest) (*checkout.ProviderSession, error) {
	return &checkout.ProviderSession{
		ID:  "stripe_" + req.SessionID,
		URL: "https://pay.example.com/" + req.SessionID,
	}, nil
}

// flakyLedgerStore fails bonus writes on demand to exercise the
// compensation path.
type flakyLedgerStore struct {
	*ledger.MemoryStore
	failBonus bool
}

func (s *flakyLedgerStore) Apply(ctx context.Context, txn *ledger.Transaction) (*ledger.Transaction, *ledger.Account, bool, error) {
	if s.failBonus && txn.Type == ledger.TypeBonus {
		return nil, nil, false, errors.New("storage write timeout")
	}
	return s.MemoryStore.Apply(ctx, txn)
}

type fixture struct {
	reconciler  *Reconciler
	events      *MemoryEventStore
	sessions    *checkout.Service
	writer      *ledger.Ledger
	promos      *promo.Registry
	promoStore  *promo.MemoryStore
	ledgerStore *flakyLedgerStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledgerStore := &flakyLedgerStore{MemoryStore: ledger.NewMemoryStore()}
	writer := ledger.New(ledgerStore)
	promoStore := promo.NewMemoryStore()
	promos := promo.NewRegistry(promoStore)
	sessions := checkout.NewService(
		checkout.NewMemoryStore(), stubProvider{}, promos,
		tenant.NewService(tenant.NewMemoryStore()), 24*time.Hour,
	)
	events := NewMemoryEventStore()
	return &fixture{
		reconciler:  New(&jsonVerifier{signature: "valid"}, events, sessions, writer, promos),
		events:      events,
		sessions:    sessions,
		writer:      writer,
		promos:      promos,
		promoStore:  promoStore,
		ledgerStore: ledgerStore,
	}
}

func (f *fixture) deliver(t *testing.T, event Event) error {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return f.reconciler.HandleEvent(context.Background(), payload, "valid")
}

func succeededEvent(eventID, providerSessionID string, amount int64) Event {
	return Event{
		ID:                eventID,
		Type:              EventPaymentSucceeded,
		ProviderSessionID: providerSessionID,
		AmountPaid:        amount,
		CreatedAt:         time.Now().UTC(),
	}
}

func TestHandleEvent_BadSignatureFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.sessions.Create(ctx, "t_acme", "growth", "")
	require.NoError(t, err)

	payload, _ := json.Marshal(succeededEvent("evt_1", "stripe_"+result.SessionID, 2400))
	err = f.reconciler.HandleEvent(ctx, payload, "forged")
	assert.ErrorIs(t, err, ErrBadSignature)

	// Nothing happened: no credits, session untouched, event unrecorded.
	acct, err := f.writer.Balance(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Balance)
	session, _ := f.sessions.Get(ctx, result.SessionID)
	assert.Equal(t, checkout.StatusAwaitingPayment, session.Status)
	seen, _ := f.events.Exists(ctx, "evt_1")
	assert.False(t, seen)
}

func TestHandleEvent_PaymentSucceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.sessions.Create(ctx, "t_acme", "growth", "")
	require.NoError(t, err)

	err = f.deliver(t, succeededEvent("evt_1", "stripe_"+result.SessionID, 2400))
	require.NoError(t, err)

	acct, err := f.writer.Balance(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), acct.Balance)

	session, err := f.sessions.Get(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusCompleted, session.Status)
	assert.NotNil(t, session.CompletedAt)

	txn, err := f.writer.Lookup(ctx, "t_acme", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TypePurchase, txn.Type)
	assert.Equal(t, result.SessionID, txn.ReferenceID)
}

func TestHandleEvent_PromoPurchaseBonusAndCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A half-used welcome code.
	_, err := f.promos.Create(ctx, "WELCOME500", 500, 100, nil)
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		_, err := f.promos.Redeem(ctx, "WELCOME500")
		require.NoError(t, err)
	}

	result, err := f.sessions.Create(ctx, "t_acme", "growth", "WELCOME500")
	require.NoError(t, err)

	err = f.deliver(t, succeededEvent("evt_1", "stripe_"+result.SessionID, 2400))
	require.NoError(t, err)

	// 15000 purchase + 500 bonus, one use consumed.
	acct, err := f.writer.Balance(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(15500), acct.Balance)

	p, err := f.promoStore.Get(ctx, "WELCOME500")
	require.NoError(t, err)
	assert.Equal(t, 41, p.UsedCount)

	bonus, err := f.writer.Lookup(ctx, "t_acme", "evt_1:bonus")
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeBonus, bonus.Type)
	assert.Equal(t, int64(500), bonus.Amount)

	session, _ := f.sessions.Get(ctx, result.SessionID)
	assert.Equal(t, checkout.StatusCompleted, session.Status)
}

func TestHandleEvent_DuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.promos.Create(ctx, "WELCOME500", 500, 100, nil)
	require.NoError(t, err)
	result, err := f.sessions.Create(ctx, "t_acme", "growth", "WELCOME500")
	require.NoError(t, err)

	event := succeededEvent("evt_1", "stripe_"+result.SessionID, 2400)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.deliver(t, event))
	}

	// One purchase, one bonus, one use, despite five deliveries.
	acct, err := f.writer.Balance(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(15500), acct.Balance)

	p, _ := f.promoStore.Get(ctx, "WELCOME500")
	assert.Equal(t, 1, p.UsedCount)

	txns, _, _, err := f.writer.History(ctx, ledger.HistoryQuery{TenantID: "t_acme"})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestHandleEvent_PaymentFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.sessions.Create(ctx, "t_acme", "starter", "")
	require.NoError(t, err)

	err = f.deliver(t, Event{
		ID: "evt_1", Type: EventPaymentFailed,
		ProviderSessionID: "stripe_" + result.SessionID,
	})
	require.NoError(t, err)

	session, _ := f.sessions.Get(ctx, result.SessionID)
	assert.Equal(t, checkout.StatusFailed, session.Status)

	acct, _ := f.writer.Balance(ctx, "t_acme")
	assert.Equal(t, int64(0), acct.Balance)
}

func TestHandleEvent_NoRetroactiveCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.sessions.Create(ctx, "t_acme", "starter", "")
	require.NoError(t, err)
	_, err = f.sessions.Transition(ctx, result.SessionID, checkout.StatusAwaitingPayment, checkout.StatusExpired)
	require.NoError(t, err)

	// Late success event for an expired session is acknowledged without
	// reopening it or granting credits.
	err = f.deliver(t, succeededEvent("evt_late", "stripe_"+result.SessionID, 900))
	require.NoError(t, err)

	session, _ := f.sessions.Get(ctx, result.SessionID)
	assert.Equal(t, checkout.StatusExpired, session.Status)
	acct, _ := f.writer.Balance(ctx, "t_acme")
	assert.Equal(t, int64(0), acct.Balance)
}

func TestHandleEvent_UnknownSessionRetries(t *testing.T) {
	f := newFixture(t)

	err := f.deliver(t, succeededEvent("evt_1", "stripe_nowhere", 900))
	assert.ErrorIs(t, err, ErrUnknownSession)

	// Unprocessed, so a later delivery can still land.
	seen, _ := f.events.Exists(context.Background(), "evt_1")
	assert.False(t, seen)
}

func TestHandleEvent_UnknownTypeAcknowledged(t *testing.T) {
	f := newFixture(t)

	err := f.deliver(t, Event{ID: "evt_1", Type: "invoice.paid"})
	require.NoError(t, err)

	seen, _ := f.events.Exists(context.Background(), "evt_1")
	assert.True(t, seen)
}

func TestHandleEvent_BonusFailureRollsBackRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.promos.Create(ctx, "WELCOME500", 500, 100, nil)
	require.NoError(t, err)
	result, err := f.sessions.Create(ctx, "t_acme", "growth", "WELCOME500")
	require.NoError(t, err)

	f.ledgerStore.failBonus = true
	event := succeededEvent("evt_1", "stripe_"+result.SessionID, 2400)
	err = f.deliver(t, event)
	require.Error(t, err)

	// Purchase landed, bonus did not, and the consumed use was returned.
	acct, _ := f.writer.Balance(ctx, "t_acme")
	assert.Equal(t, int64(15000), acct.Balance)
	p, _ := f.promoStore.Get(ctx, "WELCOME500")
	assert.Equal(t, 0, p.UsedCount)
	session, _ := f.sessions.Get(ctx, result.SessionID)
	assert.Equal(t, checkout.StatusAwaitingPayment, session.Status)

	// Redelivery after the outage completes without double-crediting the
	// purchase.
	f.ledgerStore.failBonus = false
	require.NoError(t, f.deliver(t, event))

	acct, _ = f.writer.Balance(ctx, "t_acme")
	assert.Equal(t, int64(15500), acct.Balance)
	p, _ = f.promoStore.Get(ctx, "WELCOME500")
	assert.Equal(t, 1, p.UsedCount)
	session, _ = f.sessions.Get(ctx, result.SessionID)
	assert.Equal(t, checkout.StatusCompleted, session.Status)

	txns, _, _, err := f.writer.History(ctx, ledger.HistoryQuery{TenantID: "t_acme"})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestHandleEvent_ExhaustedAtCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.promos.Create(ctx, "LAST1", 500, 1, nil)
	require.NoError(t, err)
	result, err := f.sessions.Create(ctx, "t_acme", "growth", "LAST1")
	require.NoError(t, err)

	// Someone else takes the final use between creation and payment.
	_, err = f.promos.Redeem(ctx, "LAST1")
	require.NoError(t, err)

	err = f.deliver(t, succeededEvent("evt_1", "stripe_"+result.SessionID, 2400))
	require.NoError(t, err)

	// The purchase stands; only the bonus is lost.
	acct, _ := f.writer.Balance(ctx, "t_acme")
	assert.Equal(t, int64(15000), acct.Balance)
	session, _ := f.sessions.Get(ctx, result.SessionID)
	assert.Equal(t, checkout.StatusCompleted, session.Status)
}

func TestSweeper_DeletesOldEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	require.NoError(t, store.MarkProcessed(ctx, "evt_old", EventPaymentSucceeded, old))
	require.NoError(t, store.MarkProcessed(ctx, "evt_new", EventPaymentSucceeded, time.Now().UTC()))

	deleted, err := store.DeleteOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	seen, _ := store.Exists(ctx, "evt_old")
	assert.False(t, seen)
	seen, _ = store.Exists(ctx, "evt_new")
	assert.True(t, seen)
}
