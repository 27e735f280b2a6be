package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker is the cold-path dedup lookup against the
// event log's unique (event_type, idempotency_key) index.
type PostgresIdempotencyChecker struct {
	db      DBTX
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db DBTX) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if event exists in Postgres event log
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, eventType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
