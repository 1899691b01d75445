package promo

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed promo store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const promoColumns = `code, credits_amount, max_uses, used_count, expires_at, active, created_at`

func (p *PostgresStore) Create(ctx context.Context, code *PromoCode) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO promo_codes (code, credits_amount, max_uses, used_count, expires_at, active, created_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6)
	`, code.Code, code.CreditsAmount, code.MaxUses, code.ExpiresAt, code.Active, code.CreatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrCodeExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, code string) (*PromoCode, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+promoColumns+` FROM promo_codes WHERE code = $1
	`, code)
	out, err := scanPromo(row)
	if err == sql.ErrNoRows {
		return nil, ErrCodeNotFound
	}
	return out, err
}

func (p *PostgresStore) List(ctx context.Context) ([]*PromoCode, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+promoColumns+` FROM promo_codes ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PromoCode
	for rows.Next() {
		code, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetActive(ctx context.Context, code string, active bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE promo_codes SET active = $2 WHERE code = $1
	`, code, active)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrCodeNotFound
	}
	return nil
}

// Redeem claims one use with a single guarded UPDATE. The WHERE clause is
// the whole concurrency story: the row only matches while a use remains,
// so N racing redeems of the last use produce exactly one affected row.
func (p *PostgresStore) Redeem(ctx context.Context, code string) (*PromoCode, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE promo_codes
		SET used_count = used_count + 1
		WHERE code = $1
		  AND active
		  AND used_count < max_uses
		  AND (expires_at IS NULL OR expires_at > NOW())
		RETURNING `+promoColumns+`
	`, code)
	out, err := scanPromo(row)
	if err == sql.ErrNoRows {
		return nil, ErrRedemptionFailed
	}
	return out, err
}

func (p *PostgresStore) Unredeem(ctx context.Context, code string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE promo_codes
		SET used_count = used_count - 1
		WHERE code = $1 AND used_count > 0
	`, code)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrCodeNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPromo(row rowScanner) (*PromoCode, error) {
	p := &PromoCode{}
	var expiresAt sql.NullTime
	err := row.Scan(&p.Code, &p.CreditsAmount, &p.MaxUses, &p.UsedCount, &expiresAt, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		p.ExpiresAt = &t
	}
	return p, nil
}
