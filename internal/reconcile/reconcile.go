// Package reconcile turns payment-provider webhook deliveries into ledger
// effects, exactly once.
//
// Three layers guard against double-granting credits on redelivery:
//  1. processed-event dedup by provider event id
//  2. ledger idempotency keys derived from the event id
//  3. compare-and-swap session transitions
//
// Layer 1 is an optimization; layers 2 and 3 keep replays harmless even
// when concurrent deliveries slip past the dedup check.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commercia/creditcore/internal/checkout"
	"github.com/commercia/creditcore/internal/ledger"
	"github.com/commercia/creditcore/internal/logging"
	"github.com/commercia/creditcore/internal/metrics"
	"github.com/commercia/creditcore/internal/promo"
	"github.com/commercia/creditcore/internal/traces"
)

var (
	// ErrBadSignature means the payload failed signature verification.
	// Fails closed: the event is dropped, never partially processed.
	ErrBadSignature = errors.New("reconcile: webhook signature verification failed")

	// ErrUnknownSession means the event references a provider session we
	// have no row for. Returned as an error so the provider redelivers.
	ErrUnknownSession = errors.New("reconcile: no session for provider session id")
)

// Normalized event types.
const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventPaymentExpired   = "payment_expired"
)

// Event is a provider-neutral webhook event.
type Event struct {
	ID                string
	Type              string
	ProviderSessionID string
	AmountPaid        int64
	CreatedAt         time.Time
}

// Verifier authenticates a raw webhook payload and normalizes it.
// Returns ErrBadSignature (wrapped) for anything unauthenticated.
type Verifier interface {
	Verify(payload []byte, signature string) (*Event, error)
}

// EventStore records which provider events have been processed.
type EventStore interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, at time.Time) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Reconciler processes webhook events.
type Reconciler struct {
	verifier Verifier
	events   EventStore
	sessions *checkout.Service
	writer   *ledger.Ledger
	promos   *promo.Registry
}

// New creates a reconciler.
func New(verifier Verifier, events EventStore, sessions *checkout.Service, writer *ledger.Ledger, promos *promo.Registry) *Reconciler {
	return &Reconciler{
		verifier: verifier,
		events:   events,
		sessions: sessions,
		writer:   writer,
		promos:   promos,
	}
}

// HandleEvent verifies, dedups and applies one webhook delivery. A nil
// return acknowledges the delivery; any error tells the provider to retry.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := r.verifier.Verify(payload, signature)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	ctx, span := traces.StartSpan(ctx, "reconcile.handle_event",
		traces.EventID(event.ID),
	)
	defer span.End()

	seen, err := r.events.Exists(ctx, event.ID)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		return err
	}
	if seen {
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		logging.L(ctx).Info("duplicate webhook delivery acknowledged", "event_id", event.ID)
		return nil
	}

	switch event.Type {
	case EventPaymentSucceeded:
		err = r.paymentSucceeded(ctx, event)
	case EventPaymentFailed:
		err = r.paymentTerminal(ctx, event, checkout.StatusFailed)
	case EventPaymentExpired:
		err = r.paymentTerminal(ctx, event, checkout.StatusExpired)
	default:
		// Unknown event types are acknowledged untouched so the provider
		// stops redelivering them.
		logging.L(ctx).Info("ignoring unhandled webhook event type",
			"event_id", event.ID, "event_type", event.Type)
	}
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		return err
	}

	if err := r.events.MarkProcessed(ctx, event.ID, event.Type, time.Now().UTC()); err != nil {
		// The effects landed and are replay-safe; refusing the delivery
		// here would just cause a redundant redelivery.
		logging.L(ctx).Warn("failed to mark webhook event processed",
			"event_id", event.ID, "error", err)
	}
	metrics.WebhookEventsTotal.WithLabelValues("processed").Inc()
	return nil
}

// paymentSucceeded credits the purchase, redeems the promo bonus and
// completes the session.
func (r *Reconciler) paymentSucceeded(ctx context.Context, event *Event) error {
	session, err := r.sessions.GetByProviderSessionID(ctx, event.ProviderSessionID)
	if errors.Is(err, checkout.ErrSessionNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, event.ProviderSessionID)
	}
	if err != nil {
		return err
	}

	if checkout.Terminal(session.Status) {
		// Settled already, by an earlier delivery or the expiry sweep.
		// Terminal sessions never reopen; if credits were granted the
		// idempotency key proves it, and either way the delivery is done.
		logging.L(ctx).Info("payment event for settled session acknowledged",
			"event_id", event.ID, "session_id", session.ID, "status", session.Status)
		return nil
	}

	bonusGranted := false
	if session.PromoCode != "" {
		// A previous partial attempt may have granted the bonus before
		// failing elsewhere. Re-redeeming would burn a second use.
		_, err := r.writer.Lookup(ctx, session.TenantID, bonusKey(event.ID))
		switch {
		case err == nil:
			bonusGranted = true
		case !errors.Is(err, ledger.ErrTransactionNotFound):
			return err
		}
	}

	// Purchase credit, keyed by the provider event id.
	_, err = r.writer.Apply(ctx, ledger.ApplyInput{
		TenantID:       session.TenantID,
		Amount:         session.Credits,
		Type:           ledger.TypePurchase,
		ActionType:     session.PackageID,
		ReferenceID:    session.ID,
		ReferenceType:  "checkout_session",
		IdempotencyKey: event.ID,
		Description:    fmt.Sprintf("%s package purchase", session.PackageID),
		Metadata: map[string]string{
			"provider_session_id": session.ProviderSessionID,
			"amount_paid_cents":   fmt.Sprintf("%d", event.AmountPaid),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to credit purchase: %w", err)
	}

	if session.PromoCode != "" && !bonusGranted {
		if err := r.grantBonus(ctx, event, session); err != nil {
			return err
		}
	}

	if _, err := r.sessions.Transition(ctx, session.ID, checkout.StatusAwaitingPayment, checkout.StatusCompleted); err != nil {
		if errors.Is(err, checkout.ErrStatusConflict) {
			// The expiry sweep or a racing delivery moved it first. The
			// credits are already in, keyed by event id; acknowledge.
			logging.L(ctx).Warn("session moved during reconciliation",
				"event_id", event.ID, "session_id", session.ID)
			return nil
		}
		return err
	}

	logging.L(ctx).Info("checkout completed",
		"event_id", event.ID,
		"session_id", session.ID,
		"tenant_id", session.TenantID,
		"credits", session.Credits,
		"promo_code", session.PromoCode,
	)
	return nil
}

// grantBonus redeems the session's promo code and credits the bonus. A
// bonus write failure returns the consumed use before propagating.
func (r *Reconciler) grantBonus(ctx context.Context, event *Event, session *checkout.Session) error {
	bonus, err := r.promos.Redeem(ctx, session.PromoCode)
	if errors.Is(err, promo.ErrRedemptionFailed) {
		// The code ran out between checkout creation and payment. The
		// purchase stands; only the bonus is lost.
		logging.L(ctx).Warn("promo code no longer redeemable at completion",
			"event_id", event.ID, "session_id", session.ID, "promo_code", session.PromoCode)
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.writer.Apply(ctx, ledger.ApplyInput{
		TenantID:       session.TenantID,
		Amount:         bonus,
		Type:           ledger.TypeBonus,
		ActionType:     "promo_bonus",
		ReferenceID:    session.ID,
		ReferenceType:  "checkout_session",
		IdempotencyKey: bonusKey(event.ID),
		Description:    fmt.Sprintf("promo code %s bonus", session.PromoCode),
		Metadata:       map[string]string{"promo_code": session.PromoCode},
	})
	if err != nil {
		if unredeemErr := r.promos.Unredeem(ctx, session.PromoCode); unredeemErr != nil {
			logging.L(ctx).Error("failed to return promo use after bonus write failure",
				"event_id", event.ID, "promo_code", session.PromoCode, "error", unredeemErr)
		}
		return fmt.Errorf("failed to credit promo bonus: %w", err)
	}
	return nil
}

// paymentTerminal settles failed and expired payments. No ledger effects.
func (r *Reconciler) paymentTerminal(ctx context.Context, event *Event, to checkout.Status) error {
	session, err := r.sessions.GetByProviderSessionID(ctx, event.ProviderSessionID)
	if errors.Is(err, checkout.ErrSessionNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, event.ProviderSessionID)
	}
	if err != nil {
		return err
	}

	if checkout.Terminal(session.Status) {
		return nil
	}

	if _, err := r.sessions.Transition(ctx, session.ID, checkout.StatusAwaitingPayment, to); err != nil {
		if errors.Is(err, checkout.ErrStatusConflict) {
			return nil
		}
		return err
	}
	logging.L(ctx).Info("checkout settled without payment",
		"event_id", event.ID, "session_id", session.ID, "status", to)
	return nil
}

func bonusKey(eventID string) string {
	return eventID + ":bonus"
}
