package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/storage/repository"
)

// SQLStore является фасадом над репозиториями счетчиков, ключей и списков
type SQLStore struct {
	db       *sql.DB
	dialect  repository.Dialect
	now      func() time.Time
	kv       *repository.KVRepository
	counters *repository.CounterRepository
	lists    *repository.ListRepository
}

// OpenPostgres подключается к PostgreSQL и прогоняет миграции
func OpenPostgres(ctx context.Context, cfg config.StoreConfig) (*SQLStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", domain.ErrStoreUnavailable, err)
	}

	// Настройка connection pool из конфигурации
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return NewSQLStore(ctx, db, repository.DialectPostgres)
}

// OpenSQLite открывает файл SQLite (pure Go драйвер)
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", domain.ErrStoreUnavailable, err)
	}

	// Один писатель: upsert-инкремент сериализуется самим соединением
	db.SetMaxOpenConns(1)

	return NewSQLStore(ctx, db, repository.DialectSQLite)
}

// NewSQLStore создает фасад над готовым соединением и прогоняет миграции
func NewSQLStore(ctx context.Context, db *sql.DB, dialect repository.Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	clock := func() time.Time { return s.now() }
	s.kv = repository.NewKVRepository(db, dialect, clock)
	s.counters = repository.NewCounterRepository(db, dialect, clock)
	s.lists = repository.NewListRepository(db, dialect, clock)

	// Запускаем миграции
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// SetClock подменяет источник времени (для тестов)
func (s *SQLStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLStore) migrate(ctx context.Context) error {
	idColumn := "BIGSERIAL PRIMARY KEY"
	if s.dialect == repository.DialectSQLite {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0
		)`,
		// Счетчики rate limit
		`CREATE TABLE IF NOT EXISTS counters (
			key TEXT PRIMARY KEY,
			value BIGINT NOT NULL DEFAULT 0,
			expires_at BIGINT NOT NULL DEFAULT 0
		)`,
		// Журнал аудита, только добавление
		`CREATE TABLE IF NOT EXISTS list_entries (
			id ` + idColumn + `,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0
		)`,
		// Индексы
		`CREATE INDEX IF NOT EXISTS idx_list_entries_key ON list_entries(key)`,
		`CREATE INDEX IF NOT EXISTS idx_list_entries_expires_at ON list_entries(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_counters_expires_at ON counters(expires_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", domain.ErrStoreUnavailable, op, key, err)
}

// ==================== KEYS ====================

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	value, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", unavailable("get", key, err)
	}
	if ok {
		return value, nil
	}

	n, ok, err := s.counters.Get(ctx, key)
	if err != nil {
		return "", unavailable("get", key, err)
	}
	if !ok {
		return "", fmt.Errorf("key %s: %w", key, domain.ErrNotFound)
	}
	return strconv.FormatInt(n, 10), nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.kv.Set(ctx, key, value, ttl); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (s *SQLStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.kv.Expire(ctx, key, ttl); err != nil {
		return unavailable("expire", key, err)
	}
	if err := s.counters.Expire(ctx, key, ttl); err != nil {
		return unavailable("expire", key, err)
	}
	if err := s.lists.Expire(ctx, key, ttl); err != nil {
		return unavailable("expire", key, err)
	}
	return nil
}

// ==================== COUNTERS ====================

func (s *SQLStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.counters.Incr(ctx, key, ttl)
	if err != nil {
		return 0, unavailable("incr", key, err)
	}
	return n, nil
}

// ==================== LISTS ====================

func (s *SQLStore) Append(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.lists.Append(ctx, key, value, ttl); err != nil {
		return unavailable("append", key, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, key string) ([]string, error) {
	values, err := s.lists.List(ctx, key)
	if err != nil {
		return nil, unavailable("list", key, err)
	}
	return values, nil
}

// Purge удаляет истекшие записи всех таблиц
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	var total int64
	for _, purge := range []func(context.Context) (int64, error){s.kv.Purge, s.counters.Purge, s.lists.Purge} {
		n, err := purge(ctx)
		if err != nil {
			return total, unavailable("purge", "*", err)
		}
		total += n
	}
	return total, nil
}

// Close закрывает соединение с базой данных
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB возвращает *sql.DB (для диагностики)
func (s *SQLStore) DB() *sql.DB {
	return s.db
}
