// Package ledger tracks tenant credit balances for the platform.
//
// The ledger is the source of truth for purchasable credit:
//  1. A checkout completes and the tenant's balance is credited
//  2. Features consume credits (debits)
//  3. Every balance change is an immutable transaction row
//  4. The balance column is a projection of the transaction history
//
// All mutations go through Ledger.Apply, which serializes writers per
// tenant and persists the transaction and the updated balance atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commercia/creditcore/internal/idgen"
	"github.com/commercia/creditcore/internal/metrics"
	"github.com/commercia/creditcore/internal/pagination"
	"github.com/commercia/creditcore/internal/traces"
)

var (
	ErrTenantFrozen        = errors.New("ledger: tenant writes halted pending reconciliation")
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrInvalidInput        = errors.New("ledger: invalid input")
)

// InsufficientCreditsError is returned when a debit would drive the balance
// below zero. The debit is rejected, never clamped.
type InsufficientCreditsError struct {
	TenantID  string
	Balance   int64
	Requested int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("ledger: insufficient credits for %s: balance %d, requested %d (short %d)",
		e.TenantID, e.Balance, e.Requested, e.Shortfall())
}

// Shortfall returns how many credits the tenant is missing.
func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Requested - e.Balance
}

// Type is the closed set of transaction kinds.
type Type string

const (
	TypePurchase   Type = "purchase"
	TypeUsage      Type = "usage"
	TypeFreeGrant  Type = "free_grant"
	TypeBonus      Type = "bonus"
	TypeAdjustment Type = "adjustment"
	TypeRefund     Type = "refund"
)

// ValidType reports whether t is a known transaction type.
func ValidType(t Type) bool {
	switch t {
	case TypePurchase, TypeUsage, TypeFreeGrant, TypeBonus, TypeAdjustment, TypeRefund:
		return true
	}
	return false
}

// Account is the per-tenant balance projection.
type Account struct {
	TenantID       string    `json:"tenantId"`
	Balance        int64     `json:"balance"`
	LifetimeEarned int64     `json:"lifetimeEarned"`
	LifetimeSpent  int64     `json:"lifetimeSpent"`
	Frozen         bool      `json:"frozen,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Transaction is one immutable ledger row. Created once, never mutated.
type Transaction struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenantId"`
	Amount         int64             `json:"amount"` // positive = credit, negative = debit
	BalanceAfter   int64             `json:"balanceAfter"`
	Type           Type              `json:"type"`
	ActionType     string            `json:"actionType,omitempty"`
	ReferenceID    string            `json:"referenceId,omitempty"`
	ReferenceType  string            `json:"referenceType,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// HistoryQuery selects transactions for a tenant, newest first.
type HistoryQuery struct {
	TenantID string
	Type     Type // empty = all types
	DateFrom time.Time
	DateTo   time.Time
	Cursor   *pagination.Cursor
	Limit    int // stores fetch Limit+1 rows so callers can detect hasMore
}

// Store persists ledger data. Apply is the single atomic mutation point:
// it computes BalanceAfter under a per-tenant lock, rejects overdrafts and
// frozen tenants, and treats an existing idempotency key as a replay.
type Store interface {
	GetAccount(ctx context.Context, tenantID string) (*Account, error)
	GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*Transaction, error)

	// Apply atomically appends txn and updates the balance projection.
	// When txn.IdempotencyKey matches an existing row for the tenant, the
	// stored transaction and current account are returned with replay=true
	// and no state changes.
	Apply(ctx context.Context, txn *Transaction) (*Transaction, *Account, bool, error)

	List(ctx context.Context, q HistoryQuery) ([]*Transaction, error)

	// ListAll returns every transaction for a tenant, oldest first.
	// Used by the audit replay.
	ListAll(ctx context.Context, tenantID string) ([]*Transaction, error)
	ListTenants(ctx context.Context) ([]string, error)
	SetFrozen(ctx context.Context, tenantID string, frozen bool) error
}

// ApplyInput describes one balance-affecting event.
type ApplyInput struct {
	TenantID       string
	Amount         int64
	Type           Type
	ActionType     string
	ReferenceID    string
	ReferenceType  string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// ApplyResult is the outcome of a ledger write.
type ApplyResult struct {
	Transaction *Transaction `json:"transaction"`
	Account     *Account     `json:"account"`
	Replayed    bool         `json:"replayed,omitempty"`
}

// Ledger is the single writer for credit accounts. No other code path may
// update balances or append transactions.
type Ledger struct {
	store Store
}

// New creates a new ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Apply validates and applies one transaction. Supplying an idempotency key
// that was already used degrades to a no-op returning the original
// transaction and the current balance.
func (l *Ledger) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.apply",
		traces.TenantID(in.TenantID),
		traces.Amount(in.Amount),
		traces.TransactionType(string(in.Type)),
	)
	defer span.End()

	if err := validateInput(in); err != nil {
		metrics.LedgerTransactionsTotal.WithLabelValues(string(in.Type), "rejected").Inc()
		return nil, err
	}

	txn := &Transaction{
		ID:             idgen.WithPrefix("txn_"),
		TenantID:       in.TenantID,
		Amount:         in.Amount,
		Type:           in.Type,
		ActionType:     in.ActionType,
		ReferenceID:    in.ReferenceID,
		ReferenceType:  in.ReferenceType,
		IdempotencyKey: in.IdempotencyKey,
		Description:    in.Description,
		Metadata:       in.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	stored, acct, replayed, err := l.store.Apply(ctx, txn)
	if err != nil {
		metrics.LedgerTransactionsTotal.WithLabelValues(string(in.Type), "rejected").Inc()
		return nil, err
	}

	outcome := "applied"
	if replayed {
		outcome = "replayed"
	}
	metrics.LedgerTransactionsTotal.WithLabelValues(string(in.Type), outcome).Inc()

	return &ApplyResult{Transaction: stored, Account: acct, Replayed: replayed}, nil
}

// Balance returns the tenant's balance projection. Tenants with no history
// get a zero account.
func (l *Ledger) Balance(ctx context.Context, tenantID string) (*Account, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantId is required", ErrInvalidInput)
	}
	return l.store.GetAccount(ctx, tenantID)
}

// History returns a page of transactions, newest first, plus the next
// cursor and a has-more flag.
func (l *Ledger) History(ctx context.Context, q HistoryQuery) ([]*Transaction, string, bool, error) {
	if q.TenantID == "" {
		return nil, "", false, fmt.Errorf("%w: tenantId is required", ErrInvalidInput)
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	if q.Type != "" && !ValidType(q.Type) {
		return nil, "", false, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, q.Type)
	}

	items, err := l.store.List(ctx, q)
	if err != nil {
		return nil, "", false, err
	}

	page, next, hasMore := pagination.ComputePage(items, q.Limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return page, next, hasMore, nil
}

// Lookup returns the transaction previously recorded under an idempotency
// key, or ErrTransactionNotFound.
func (l *Ledger) Lookup(ctx context.Context, tenantID, idempotencyKey string) (*Transaction, error) {
	return l.store.GetByIdempotencyKey(ctx, tenantID, idempotencyKey)
}

// Unfreeze re-enables writes for a tenant after manual reconciliation.
func (l *Ledger) Unfreeze(ctx context.Context, tenantID string) error {
	if err := l.store.SetFrozen(ctx, tenantID, false); err != nil {
		return err
	}
	metrics.LedgerFrozenTenants.Dec()
	return nil
}

func validateInput(in ApplyInput) error {
	if in.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", ErrInvalidInput)
	}
	if in.Amount == 0 {
		return fmt.Errorf("%w: amount must be non-zero", ErrInvalidInput)
	}
	if !ValidType(in.Type) {
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, in.Type)
	}
	if in.Type == TypePurchase && in.IdempotencyKey == "" {
		return fmt.Errorf("%w: purchase transactions require an idempotency key", ErrInvalidInput)
	}
	return nil
}
