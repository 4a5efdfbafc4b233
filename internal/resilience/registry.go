package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
)

// BreakerRegistry выдает breaker'ы по типу вызова или по паре
// (тип вызова, ресурс), в зависимости от scope.
type BreakerRegistry struct {
	mu        sync.Mutex
	scope     string
	threshold int
	coolDown  time.Duration
	breakers  map[string]*CircuitBreaker
	hooks     []StateChangeFunc
	now       func() time.Time
}

// NewBreakerRegistry создает реестр по секции политики
func NewBreakerRegistry(p config.BreakerPolicy) *BreakerRegistry {
	scope := p.Scope
	if scope == "" {
		scope = config.ScopeCallType
	}
	return &BreakerRegistry{
		scope:     scope,
		threshold: p.FailureThreshold,
		coolDown:  p.CoolDown,
		breakers:  make(map[string]*CircuitBreaker),
	}
}

// SetClock подменяет источник времени всех breaker'ов (для тестов)
func (r *BreakerRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	for _, b := range r.breakers {
		b.SetClock(now)
	}
}

// OnStateChange подписывает обработчик на все breaker'ы реестра
func (r *BreakerRegistry) OnStateChange(fn StateChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
	for _, b := range r.breakers {
		b.OnStateChange(fn)
	}
}

// Key имя breaker'а для вызова
func (r *BreakerRegistry) Key(callType, resourceID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keyLocked(callType, resourceID)
}

func (r *BreakerRegistry) keyLocked(callType, resourceID string) string {
	if r.scope == config.ScopeResource && resourceID != "" {
		return callType + "/" + resourceID
	}
	return callType
}

// Get возвращает breaker, создавая его при первом обращении
func (r *BreakerRegistry) Get(callType, resourceID string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.keyLocked(callType, resourceID)
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := NewCircuitBreaker(key, r.threshold, r.coolDown)
	if r.now != nil {
		b.SetClock(r.now)
	}
	for _, fn := range r.hooks {
		b.OnStateChange(fn)
	}
	r.breakers[key] = b
	return b
}

// Configure применяет новые порог и coolDown ко всем breaker'ам.
// Смена scope действует только на новые ключи.
func (r *BreakerRegistry) Configure(p config.BreakerPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = p.FailureThreshold
	r.coolDown = p.CoolDown
	if p.Scope != "" {
		r.scope = p.Scope
	}
	for _, b := range r.breakers {
		b.Configure(p.FailureThreshold, p.CoolDown)
	}
}

// States снимок состояний, отсортированный по имени
func (r *BreakerRegistry) States() []BreakerStatus {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]BreakerStatus, 0, len(list))
	for _, b := range list {
		out = append(out, BreakerStatus{
			Name:            b.Name(),
			State:           b.State(),
			FailureCount:    b.FailureCount(),
			LastStateChange: b.LastStateChange(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BreakerStatus состояние одного breaker'а
type BreakerStatus struct {
	Name            string
	State           domain.CircuitState
	FailureCount    int
	LastStateChange time.Time
}
