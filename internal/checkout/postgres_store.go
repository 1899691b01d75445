package checkout

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed checkout store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, tenant_id, package_id, price_cents, credits,
	COALESCE(promo_code, ''), status, provider_session_id, expires_at, created_at, completed_at`

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO checkout_sessions
			(id, tenant_id, package_id, price_cents, credits, promo_code,
			 status, provider_session_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)
	`, s.ID, s.TenantID, s.PackageID, s.PriceCents, s.Credits, s.PromoCode,
		s.Status, s.ProviderSessionID, s.ExpiresAt, s.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

func (p *PostgresStore) GetByProviderSessionID(ctx context.Context, providerID string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM checkout_sessions WHERE provider_session_id = $1
	`, providerID)
	return scanSession(row)
}

// UpdateStatus is a compare-and-swap on the status column. A zero-row
// update means the session moved already, which callers see as
// ErrStatusConflict (or ErrSessionNotFound if it never existed).
func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status) (*Session, error) {
	completed := sql.NullTime{}
	if to == StatusCompleted {
		completed = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE checkout_sessions
		SET status = $3, completed_at = COALESCE($4, completed_at)
		WHERE id = $1 AND status = $2
		RETURNING `+sessionColumns+`
	`, id, from, to, completed)

	s, err := scanSession(row)
	if err == ErrSessionNotFound {
		// Distinguish a missing row from a lost swap.
		if _, getErr := p.Get(ctx, id); getErr == nil {
			return nil, ErrStatusConflict
		}
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (p *PostgresStore) ListExpirable(ctx context.Context, now time.Time) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM checkout_sessions
		WHERE status = $1 AND expires_at < $2
	`, StatusAwaitingPayment, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var completedAt sql.NullTime
	err := row.Scan(&s.ID, &s.TenantID, &s.PackageID, &s.PriceCents, &s.Credits,
		&s.PromoCode, &s.Status, &s.ProviderSessionID, &s.ExpiresAt, &s.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return s, nil
}
