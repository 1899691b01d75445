package reconcile

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresEventStore implements EventStore with PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (p *PostgresEventStore) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM processed_webhook_events WHERE event_id = $1
	`, eventID).Scan(&count)
	return count > 0, err
}

func (p *PostgresEventStore) MarkProcessed(ctx context.Context, eventID, eventType string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
	`, eventID, eventType, at)
	// A concurrent delivery marking the same event is not an error.
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return nil
	}
	return err
}

func (p *PostgresEventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM processed_webhook_events WHERE processed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
