package repository

import (
	"context"
	"database/sql"
	"time"
)

// ListRepository реализует append-only списки (журнал аудита)
type ListRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewListRepository создает новый репозиторий списков
func NewListRepository(db *sql.DB, dialect Dialect, now func() time.Time) *ListRepository {
	return &ListRepository{db: db, dialect: dialect, now: now}
}

// Append добавляет элемент в конец списка
func (r *ListRepository) Append(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `INSERT INTO list_entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)`
	now := r.now().UnixNano()
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), key, value, now, expiresAt(now, int64(ttl)))
	return err
}

// List возвращает неистекшие элементы в порядке добавления
func (r *ListRepository) List(ctx context.Context, key string) ([]string, error) {
	query := `
		SELECT value FROM list_entries
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), key, r.now().UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Expire меняет срок жизни всех элементов списка
func (r *ListRepository) Expire(ctx context.Context, key string, ttl time.Duration) error {
	query := `UPDATE list_entries SET expires_at = ? WHERE key = ?`
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), expiresAt(r.now().UnixNano(), int64(ttl)), key)
	return err
}

// Purge удаляет истекшие элементы
func (r *ListRepository) Purge(ctx context.Context) (int64, error) {
	query := `DELETE FROM list_entries WHERE expires_at > 0 AND expires_at <= ?`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), r.now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
