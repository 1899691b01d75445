// Package promo manages promotional codes that grant bonus credits when a
// checkout completes.
//
// Validation is split from redemption: Validate is a read used during
// checkout creation, Redeem is the atomic compare-and-increment used at
// payment completion. A code that validates now can still lose the race at
// redemption time.
package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commercia/creditcore/internal/metrics"
	"github.com/commercia/creditcore/internal/validation"
)

var (
	ErrCodeNotFound = errors.New("promo code not found")
	ErrCodeExists   = errors.New("promo code already exists")
	ErrInvalidInput = errors.New("promo: invalid input")

	// ErrRedemptionFailed means the atomic increment found no redeemable
	// row: exhausted, expired, deactivated, or never existed.
	ErrRedemptionFailed = errors.New("promo code could not be redeemed")
)

// Validation failure reasons.
const (
	ReasonNotFound  = "not_found"
	ReasonExpired   = "expired"
	ReasonExhausted = "exhausted"
	ReasonInactive  = "inactive"
)

// PromoCode is a redeemable bonus-credit grant. Codes are stored uppercase
// and matched case-insensitively.
type PromoCode struct {
	Code          string     `json:"code"`
	CreditsAmount int64      `json:"creditsAmount"`
	MaxUses       int        `json:"maxUses"`
	UsedCount     int        `json:"usedCount"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ValidationResult reports whether a code is currently redeemable.
type ValidationResult struct {
	Valid         bool   `json:"valid"`
	Code          string `json:"code"`
	CreditsAmount int64  `json:"creditsAmount,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Store persists promo codes. Redeem and Unredeem are atomic
// compare-and-swap operations on used_count.
type Store interface {
	Create(ctx context.Context, p *PromoCode) error
	Get(ctx context.Context, code string) (*PromoCode, error)
	List(ctx context.Context) ([]*PromoCode, error)
	SetActive(ctx context.Context, code string, active bool) error

	// Redeem increments used_count iff the code is active, unexpired and
	// below max_uses. Returns ErrRedemptionFailed otherwise.
	Redeem(ctx context.Context, code string) (*PromoCode, error)

	// Unredeem decrements used_count, compensating a redemption whose
	// paired ledger write failed.
	Unredeem(ctx context.Context, code string) error
}

// Registry is the promo code service.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry creates a promo registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Create registers a new code. The code is normalized to uppercase.
func (r *Registry) Create(ctx context.Context, code string, creditsAmount int64, maxUses int, expiresAt *time.Time) (*PromoCode, error) {
	code = validation.NormalizePromoCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	if creditsAmount <= 0 {
		return nil, fmt.Errorf("%w: creditsAmount must be positive", ErrInvalidInput)
	}
	if maxUses <= 0 {
		return nil, fmt.Errorf("%w: maxUses must be positive", ErrInvalidInput)
	}

	p := &PromoCode{
		Code:          code,
		CreditsAmount: creditsAmount,
		MaxUses:       maxUses,
		ExpiresAt:     expiresAt,
		Active:        true,
		CreatedAt:     r.now().UTC(),
	}
	if err := r.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate reports whether a code is currently redeemable. Read-only: the
// use count is untouched.
func (r *Registry) Validate(ctx context.Context, code string) (*ValidationResult, error) {
	code = validation.NormalizePromoCode(code)
	result := &ValidationResult{Code: code}

	p, err := r.store.Get(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		result.Reason = ReasonNotFound
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case !p.Active:
		result.Reason = ReasonInactive
	case p.ExpiresAt != nil && !p.ExpiresAt.After(r.now()):
		result.Reason = ReasonExpired
	case p.UsedCount >= p.MaxUses:
		result.Reason = ReasonExhausted
	default:
		result.Valid = true
		result.CreditsAmount = p.CreditsAmount
	}
	return result, nil
}

// Redeem consumes one use of the code and returns the credits to grant.
// The increment is atomic: concurrent redeems of the last remaining use
// yield exactly one success.
func (r *Registry) Redeem(ctx context.Context, code string) (int64, error) {
	p, err := r.store.Redeem(ctx, validation.NormalizePromoCode(code))
	if err != nil {
		metrics.PromoRedemptionsTotal.WithLabelValues("failed").Inc()
		return 0, err
	}
	metrics.PromoRedemptionsTotal.WithLabelValues("redeemed").Inc()
	return p.CreditsAmount, nil
}

// Unredeem returns one use to the code after a failed downstream write.
func (r *Registry) Unredeem(ctx context.Context, code string) error {
	if err := r.store.Unredeem(ctx, validation.NormalizePromoCode(code)); err != nil {
		return err
	}
	metrics.PromoRedemptionsTotal.WithLabelValues("reverted").Inc()
	return nil
}

// Deactivate stops further redemptions of a code.
func (r *Registry) Deactivate(ctx context.Context, code string) error {
	return r.store.SetActive(ctx, validation.NormalizePromoCode(code), false)
}

// List returns all codes.
func (r *Registry) List(ctx context.Context) ([]*PromoCode, error) {
	return r.store.List(ctx)
}
