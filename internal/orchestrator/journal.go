package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillm/ln-autopilot/internal/domain"
)

// BreakerKey ключ журнала переходов breaker'а
func BreakerKey(name string) string {
	return domain.BreakerKeyPrefix + name
}

// recordBreakerEvent дописывает переход в журнал хранилища.
// Ошибка записи только логируется.
func (o *Orchestrator) recordBreakerEvent(name string, from, to domain.CircuitState) {
	if o.deps.Store == nil {
		return
	}

	data, err := json.Marshal(domain.BreakerEvent{
		Name:       name,
		From:       from,
		To:         to,
		OccurredAt: time.Now().UTC(),
	})
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = o.deps.Store.Append(ctx, BreakerKey(name), string(data), domain.AuditRetention)
	}
	if err != nil {
		o.log.Warn().Err(err).Str("breaker", name).Msg("Failed to record breaker event")
	}
}

// BreakerEvents возвращает переходы breaker'а в порядке записи
func (o *Orchestrator) BreakerEvents(ctx context.Context, name string) ([]domain.BreakerEvent, error) {
	raw, err := o.deps.Store.List(ctx, BreakerKey(name))
	if err != nil {
		return nil, err
	}

	events := make([]domain.BreakerEvent, 0, len(raw))
	for _, r := range raw {
		var e domain.BreakerEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("corrupt breaker event for %s: %w", name, err)
		}
		events = append(events, e)
	}
	return events, nil
}
