package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeVerifier authenticates Stripe webhook payloads with the endpoint's
// signing secret and normalizes checkout session events.
type StripeVerifier struct {
	signingSecret string
}

// NewStripeVerifier creates a verifier for one webhook endpoint.
func NewStripeVerifier(signingSecret string) *StripeVerifier {
	return &StripeVerifier{signingSecret: signingSecret}
}

func (v *StripeVerifier) Verify(payload []byte, signature string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signature, v.signingSecret)
	if err != nil {
		return nil, err
	}

	event := &Event{
		ID:        stripeEvent.ID,
		CreatedAt: time.Unix(stripeEvent.Created, 0).UTC(),
	}

	switch stripeEvent.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		event.Type = EventPaymentSucceeded
	case "checkout.session.async_payment_failed":
		event.Type = EventPaymentFailed
	case "checkout.session.expired":
		event.Type = EventPaymentExpired
	default:
		event.Type = string(stripeEvent.Type)
		return event, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(stripeEvent.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("malformed checkout session payload: %w", err)
	}
	event.ProviderSessionID = session.ID
	event.AmountPaid = session.AmountTotal
	return event, nil
}
