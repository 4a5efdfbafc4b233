package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CounterRepository реализует атомарные счетчики с TTL
type CounterRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewCounterRepository создает новый репозиторий счетчиков
func NewCounterRepository(db *sql.DB, dialect Dialect, now func() time.Time) *CounterRepository {
	return &CounterRepository{db: db, dialect: dialect, now: now}
}

// Incr увеличивает счетчик одним запросом. Истекший счетчик начинается
// заново с 1 и получает новый TTL, у живого TTL не меняется.
func (r *CounterRepository) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	query := `
		INSERT INTO counters (key, value, expires_at)
		VALUES (?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN counters.expires_at > 0 AND counters.expires_at <= ? THEN 1
				ELSE counters.value + 1
			END,
			expires_at = CASE
				WHEN counters.expires_at > 0 AND counters.expires_at <= ? THEN EXCLUDED.expires_at
				ELSE counters.expires_at
			END
		RETURNING value
	`
	now := r.now().UnixNano()
	var value int64
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), key, expiresAt(now, int64(ttl)), now, now).Scan(&value)
	return value, err
}

// Get получает значение счетчика; ok=false если счетчика нет или он истек
func (r *CounterRepository) Get(ctx context.Context, key string) (value int64, ok bool, err error) {
	query := `SELECT value FROM counters WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`
	err = r.db.QueryRowContext(ctx, r.dialect.Rebind(query), key, r.now().UnixNano()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// Expire меняет срок жизни счетчика
func (r *CounterRepository) Expire(ctx context.Context, key string, ttl time.Duration) error {
	query := `UPDATE counters SET expires_at = ? WHERE key = ?`
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), expiresAt(r.now().UnixNano(), int64(ttl)), key)
	return err
}

// Purge удаляет истекшие счетчики
func (r *CounterRepository) Purge(ctx context.Context) (int64, error) {
	query := `DELETE FROM counters WHERE expires_at > 0 AND expires_at <= ?`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), r.now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
