package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// KVRepository реализует строковые ключи с TTL
type KVRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewKVRepository создает новый репозиторий ключей
func NewKVRepository(db *sql.DB, dialect Dialect, now func() time.Time) *KVRepository {
	return &KVRepository{db: db, dialect: dialect, now: now}
}

// Set устанавливает значение ключа
func (r *KVRepository) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at
	`
	now := r.now().UnixNano()
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), key, value, expiresAt(now, int64(ttl)))
	return err
}

// Get получает значение; ok=false если ключа нет или он истек
func (r *KVRepository) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	query := `SELECT value FROM kv_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`
	err = r.db.QueryRowContext(ctx, r.dialect.Rebind(query), key, r.now().UnixNano()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Expire меняет срок жизни ключа
func (r *KVRepository) Expire(ctx context.Context, key string, ttl time.Duration) error {
	query := `UPDATE kv_entries SET expires_at = ? WHERE key = ?`
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), expiresAt(r.now().UnixNano(), int64(ttl)), key)
	return err
}

// Purge удаляет истекшие ключи
func (r *KVRepository) Purge(ctx context.Context) (int64, error) {
	query := `DELETE FROM kv_entries WHERE expires_at > 0 AND expires_at <= ?`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), r.now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
