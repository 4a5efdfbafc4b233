package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/ln-autopilot/internal/config"
)

// Store общее хранилище счетчиков лимитов и журнала аудита.
// Все операции безопасны для конкурентного использования.
type Store interface {
	// Get возвращает значение ключа или счетчика, domain.ErrNotFound если его нет
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr атомарно увеличивает счетчик. TTL задается только при создании
	// ключа (или после его истечения).
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Append добавляет элемент в конец списка, существующие элементы не меняются
	Append(ctx context.Context, key, value string, ttl time.Duration) error
	List(ctx context.Context, key string) ([]string, error)
	Close() error
}

// Open создает хранилище по конфигурации
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewMemoryStore(), nil
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Purger реализуется хранилищами, которые умеют удалять истекшие записи
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}
