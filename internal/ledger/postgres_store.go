package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `id, tenant_id, amount, balance_after, transaction_type,
	COALESCE(action_type, ''), COALESCE(reference_id, ''), COALESCE(reference_type, ''),
	COALESCE(idempotency_key, ''), COALESCE(description, ''), metadata, created_at`

func (p *PostgresStore) GetAccount(ctx context.Context, tenantID string) (*Account, error) {
	acct := &Account{TenantID: tenantID}
	err := p.db.QueryRowContext(ctx, `
		SELECT balance, lifetime_earned, lifetime_spent, frozen, updated_at
		FROM credit_accounts WHERE tenant_id = $1
	`, tenantID).Scan(&acct.Balance, &acct.LifetimeEarned, &acct.LifetimeSpent, &acct.Frozen, &acct.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Account{TenantID: tenantID, UpdatedAt: time.Now().UTC()}, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (p *PostgresStore) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+txnColumns+`
		FROM credit_transactions
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key)

	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return txn, err
}

// Apply appends a transaction and updates the balance projection in one
// database transaction. The account row is locked FOR UPDATE so concurrent
// writers for the same tenant serialize; the CHECK (balance >= 0) constraint
// backstops the overdraft check.
func (p *PostgresStore) Apply(ctx context.Context, txn *Transaction) (*Transaction, *Account, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, false, err
	}
	defer tx.Rollback()

	// Ensure the account row exists so FOR UPDATE has something to lock.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (tenant_id) VALUES ($1)
		ON CONFLICT (tenant_id) DO NOTHING
	`, txn.TenantID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to ensure account: %w", err)
	}

	acct := &Account{TenantID: txn.TenantID}
	err = tx.QueryRowContext(ctx, `
		SELECT balance, lifetime_earned, lifetime_spent, frozen, updated_at
		FROM credit_accounts WHERE tenant_id = $1
		FOR UPDATE
	`, txn.TenantID).Scan(&acct.Balance, &acct.LifetimeEarned, &acct.LifetimeSpent, &acct.Frozen, &acct.UpdatedAt)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to lock account: %w", err)
	}

	if acct.Frozen {
		return nil, nil, false, ErrTenantFrozen
	}

	if txn.IdempotencyKey != "" {
		row := tx.QueryRowContext(ctx, `
			SELECT `+txnColumns+`
			FROM credit_transactions
			WHERE tenant_id = $1 AND idempotency_key = $2
		`, txn.TenantID, txn.IdempotencyKey)
		existing, err := scanTransaction(row)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return nil, nil, false, err
			}
			return existing, acct, true, nil
		}
		if err != sql.ErrNoRows {
			return nil, nil, false, err
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

	earnedDelta, spentDelta := int64(0), int64(0)
	if txn.Amount > 0 {
		earnedDelta = txn.Amount
	} else {
		spentDelta = -txn.Amount
	}
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_accounts SET
			balance         = $2,
			lifetime_earned = lifetime_earned + $3,
			lifetime_spent  = lifetime_spent  + $4,
			updated_at      = NOW()
		WHERE tenant_id = $1
		RETURNING balance, lifetime_earned, lifetime_spent, frozen, updated_at
	`, txn.TenantID, after, earnedDelta, spentDelta).
		Scan(&acct.Balance, &acct.LifetimeEarned, &acct.LifetimeSpent, &acct.Frozen, &acct.UpdatedAt)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to update balance: %w", err)
	}

	stored := *txn
	stored.BalanceAfter = after

	var metadata []byte
	if len(stored.Metadata) > 0 {
		metadata, err = json.Marshal(stored.Metadata)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions
			(id, tenant_id, amount, balance_after, transaction_type, action_type,
			 reference_id, reference_type, idempotency_key, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
			NULLIF($9, ''), NULLIF($10, ''), $11, $12)
	`, stored.ID, stored.TenantID, stored.Amount, stored.BalanceAfter, stored.Type,
		stored.ActionType, stored.ReferenceID, stored.ReferenceType,
		stored.IdempotencyKey, stored.Description, metadata, stored.CreatedAt)
	if err != nil {
		// Another writer committed the same idempotency key between our
		// check and this insert. Surface their transaction as a replay.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" && txn.IdempotencyKey != "" {
			tx.Rollback()
			existing, lookupErr := p.GetByIdempotencyKey(ctx, txn.TenantID, txn.IdempotencyKey)
			if lookupErr != nil {
				return nil, nil, false, lookupErr
			}
			current, lookupErr := p.GetAccount(ctx, txn.TenantID)
			if lookupErr != nil {
				return nil, nil, false, lookupErr
			}
			return existing, current, true, nil
		}
		return nil, nil, false, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, false, err
	}
	return &stored, acct, false, nil
}

func (p *PostgresStore) List(ctx context.Context, q HistoryQuery) ([]*Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM credit_transactions WHERE tenant_id = $1`
	args := []any{q.TenantID}

	if q.Type != "" {
		args = append(args, q.Type)
		query += fmt.Sprintf(" AND transaction_type = $%d", len(args))
	}
	if !q.DateFrom.IsZero() {
		args = append(args, q.DateFrom)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !q.DateTo.IsZero() {
		args = append(args, q.DateTo)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	if q.Cursor != nil {
		args = append(args, q.Cursor.CreatedAt, q.Cursor.ID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, q.Limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (p *PostgresStore) ListAll(ctx context.Context, tenantID string) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txnColumns+`
		FROM credit_transactions
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (p *PostgresStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT tenant_id FROM credit_accounts ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresStore) SetFrozen(ctx context.Context, tenantID string, frozen bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO credit_accounts (tenant_id, frozen) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET frozen = $2, updated_at = NOW()
	`, tenantID, frozen)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	t := &Transaction{}
	var metadata []byte
	err := row.Scan(&t.ID, &t.TenantID, &t.Amount, &t.BalanceAfter, &t.Type,
		&t.ActionType, &t.ReferenceID, &t.ReferenceType,
		&t.IdempotencyKey, &t.Description, &metadata, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
