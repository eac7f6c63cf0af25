package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps records in the auth_counters table. A placeholder row is inserted
// before SELECT ... FOR UPDATE so that the first writers of a new key also serialize.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var record Record
	var until, expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT count, until, expires_at
		FROM auth_counters
		WHERE key = $1
	`, key).Scan(&record.Count, &until, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("query counter: %w", err)
	}

	if expiresAt.Valid && !s.now().UTC().Before(expiresAt.Time) {
		return Record{}, false, nil
	}
	if until.Valid {
		record.Until = until.Time.UTC()
	}

	return record, true, nil
}

func (s *PostgresStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) (Record, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin counter tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO auth_counters (key, count, until, expires_at, updated_at)
		VALUES ($1, 0, NULL, $2, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, now); err != nil {
		return Record{}, fmt.Errorf("insert counter placeholder: %w", err)
	}

	var current Record
	var until, expiresAt sql.NullTime
	if err := tx.QueryRowContext(ctx, `
		SELECT count, until, expires_at
		FROM auth_counters
		WHERE key = $1
		FOR UPDATE
	`, key).Scan(&current.Count, &until, &expiresAt); err != nil {
		return Record{}, fmt.Errorf("lock counter row: %w", err)
	}

	found := !expiresAt.Valid || now.Before(expiresAt.Time)
	if found && until.Valid {
		current.Until = until.Time.UTC()
	}
	if !found {
		current = Record{}
	}

	next := fn(current, found)

	var nextUntil any
	if !next.Until.IsZero() {
		nextUntil = next.Until.UTC()
	}
	var nextExpires any
	if ttl > 0 {
		nextExpires = now.Add(ttl)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE auth_counters
		SET count = $2, until = $3, expires_at = $4, updated_at = $5
		WHERE key = $1
	`, key, next.Count, nextUntil, nextExpires, now); err != nil {
		return Record{}, fmt.Errorf("update counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit counter tx: %w", err)
	}

	return next, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_counters WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete counter: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT key
			FROM auth_counters
			WHERE expires_at IS NOT NULL AND expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM auth_counters t
		USING stale
		WHERE t.key = stale.key
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired counters: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired counters rows affected: %w", err)
	}

	return affected, nil
}
