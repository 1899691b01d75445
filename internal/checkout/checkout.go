// Package checkout creates payment-provider checkout sessions for credit
// packages and tracks their lifecycle.
//
// A session only ever moves forward:
//
//	awaiting_payment -> completed | failed | expired
//
// Credits are never granted here. The webhook reconciler grants them when
// the provider confirms payment.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commercia/creditcore/internal/idgen"
	"github.com/commercia/creditcore/internal/logging"
	"github.com/commercia/creditcore/internal/metrics"
	"github.com/commercia/creditcore/internal/promo"
	"github.com/commercia/creditcore/internal/retry"
	"github.com/commercia/creditcore/internal/tenant"
	"github.com/commercia/creditcore/internal/traces"
	"github.com/commercia/creditcore/internal/validation"
)

var (
	ErrPackageNotFound = errors.New("checkout: unknown package")
	ErrInvalidPromo    = errors.New("checkout: promo code is not redeemable")
	ErrSessionNotFound = errors.New("checkout: session not found")
	ErrStatusConflict  = errors.New("checkout: session already in a conflicting status")
	ErrInvalidInput    = errors.New("checkout: invalid input")

	// ErrProviderUnavailable means the payment provider rejected or timed
	// out on session registration. Nothing was written locally; the caller
	// may retry with the same arguments.
	ErrProviderUnavailable = errors.New("checkout: payment provider unavailable")
)

// Status of a checkout session.
type Status string

const (
	// StatusCreated is the pre-registration zero state. Sessions are only
	// persisted once the provider confirms, so stored rows start at
	// StatusAwaitingPayment; created exists for in-flight values and
	// stays in the state machine as the origin.
	StatusCreated         Status = "created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusExpired         Status = "expired"
)

// Terminal reports whether no further transitions are allowed from s.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// allowedTransition encodes the forward-only state machine.
func allowedTransition(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusAwaitingPayment
	case StatusAwaitingPayment:
		return to == StatusCompleted || to == StatusFailed || to == StatusExpired
	}
	return false
}

// Session is one checkout attempt.
type Session struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenantId"`
	PackageID         string     `json:"packageId"`
	PriceCents        int64      `json:"priceCents"`
	Credits           int64      `json:"credits"`
	PromoCode         string     `json:"promoCode,omitempty"`
	Status            Status     `json:"status"`
	ProviderSessionID string     `json:"providerSessionId"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// ProviderSession is what the payment provider returns on registration.
type ProviderSession struct {
	ID  string
	URL string
}

// Provider registers checkout sessions with the payment provider.
type Provider interface {
	CreateSession(ctx context.Context, req ProviderRequest) (*ProviderSession, error)
}

// ProviderRequest carries everything the provider needs to build the
// hosted payment page.
type ProviderRequest struct {
	SessionID   string
	TenantID    string
	PackageName string
	PriceCents  int64
	ExpiresAt   time.Time
}

// Store persists checkout sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	GetByProviderSessionID(ctx context.Context, providerID string) (*Session, error)

	// UpdateStatus transitions id from one status to another. Returns
	// ErrStatusConflict when the session is not in from, which keeps the
	// state machine forward-only under concurrent updates.
	UpdateStatus(ctx context.Context, id string, from, to Status) (*Session, error)

	// ListExpirable returns awaiting_payment sessions whose deadline has
	// passed.
	ListExpirable(ctx context.Context, now time.Time) ([]*Session, error)
}

// Service orchestrates checkout creation.
type Service struct {
	store      Store
	provider   Provider
	promos     *promo.Registry
	tenants    *tenant.Service
	sessionTTL time.Duration
}

// NewService creates a checkout service.
func NewService(store Store, provider Provider, promos *promo.Registry, tenants *tenant.Service, sessionTTL time.Duration) *Service {
	return &Service{
		store:      store,
		provider:   provider,
		promos:     promos,
		tenants:    tenants,
		sessionTTL: sessionTTL,
	}
}

// CreateResult is returned from a successful checkout creation.
type CreateResult struct {
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// Create validates the request, registers a session with the payment
// provider, and persists the local row. The provider call happens first:
// if it fails nothing is stored, so a retry cannot strand half a session.
func (s *Service) Create(ctx context.Context, tenantID, packageID, promoCode string) (*CreateResult, error) {
	ctx, span := traces.StartSpan(ctx, "checkout.create",
		traces.TenantID(tenantID),
	)
	defer span.End()

	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantId is required", ErrInvalidInput)
	}
	pkg, ok := Packages[packageID]
	if !ok {
		return nil, ErrPackageNotFound
	}
	if err := s.tenants.EnsureActive(ctx, tenantID); err != nil {
		return nil, err
	}

	promoCode = validation.NormalizePromoCode(promoCode)
	if promoCode != "" {
		// Validate only. Redemption happens at payment completion so an
		// abandoned checkout never consumes a use.
		result, err := s.promos.Validate(ctx, promoCode)
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPromo, result.Reason)
		}
	}

	session := &Session{
		ID:         idgen.WithPrefix("cs_"),
		TenantID:   tenantID,
		PackageID:  pkg.ID,
		PriceCents: pkg.PriceCents,
		Credits:    pkg.Credits,
		PromoCode:  promoCode,
		Status:     StatusAwaitingPayment,
		ExpiresAt:  time.Now().UTC().Add(s.sessionTTL),
		CreatedAt:  time.Now().UTC(),
	}

	var providerSession *ProviderSession
	err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		var err error
		providerSession, err = s.provider.CreateSession(ctx, ProviderRequest{
			SessionID:   session.ID,
			TenantID:    tenantID,
			PackageName: pkg.Name,
			PriceCents:  pkg.PriceCents,
			ExpiresAt:   session.ExpiresAt,
		})
		return err
	})
	if err != nil {
		logging.L(ctx).Warn("payment provider rejected checkout session",
			"tenant_id", tenantID, "package_id", packageID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	session.ProviderSessionID = providerSession.ID

	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}
	metrics.CheckoutSessionsTotal.WithLabelValues(string(StatusAwaitingPayment)).Inc()

	return &CreateResult{
		SessionID:   session.ID,
		CheckoutURL: providerSession.URL,
	}, nil
}

// Get returns a session by local id.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

// GetByProviderSessionID returns a session by the provider's id.
func (s *Service) GetByProviderSessionID(ctx context.Context, providerID string) (*Session, error) {
	return s.store.GetByProviderSessionID(ctx, providerID)
}

// Transition moves a session between statuses with compare-and-swap
// semantics. Transitions out of a terminal status are rejected before the
// store is consulted.
func (s *Service) Transition(ctx context.Context, id string, from, to Status) (*Session, error) {
	if !allowedTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStatusConflict, from, to)
	}
	session, err := s.store.UpdateStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	metrics.CheckoutSessionsTotal.WithLabelValues(string(to)).Inc()
	return session, nil
}

// ExpireStale moves every awaiting_payment session past its deadline to
// expired. Returns how many sessions were expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.store.ListExpirable(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, session := range stale {
		_, err := s.Transition(ctx, session.ID, StatusAwaitingPayment, StatusExpired)
		if errors.Is(err, ErrStatusConflict) {
			// A webhook completed or failed it between the list and the
			// swap. Leave it be.
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
