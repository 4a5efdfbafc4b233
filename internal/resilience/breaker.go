package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/ln-autopilot/internal/domain"
)

// ErrCircuitOpen возвращается без вызова, пока breaker открыт
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Default breaker settings
const (
	DefaultFailureThreshold = 4
	DefaultCoolDown         = 60 * time.Second
)

// StateChangeFunc вызывается после смены состояния, вне блокировки
type StateChangeFunc func(name string, from, to domain.CircuitState)

// CircuitBreaker закрыт -> (threshold подряд неудач) -> открыт ->
// (coolDown) -> полуоткрыт -> один пробный вызов -> закрыт или снова открыт.
type CircuitBreaker struct {
	name      string
	threshold int
	coolDown  time.Duration

	mu         sync.Mutex
	state      domain.CircuitState
	failures   int
	openedAt   time.Time
	lastChange time.Time
	trial      bool

	now      func() time.Time
	onChange []StateChangeFunc
}

// NewCircuitBreaker создает закрытый breaker
func NewCircuitBreaker(name string, threshold int, coolDown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if coolDown <= 0 {
		coolDown = DefaultCoolDown
	}
	return &CircuitBreaker{
		name:       name,
		threshold:  threshold,
		coolDown:   coolDown,
		state:      domain.CircuitClosed,
		now:        time.Now,
		lastChange: time.Now(),
	}
}

// SetClock подменяет источник времени (для тестов)
func (b *CircuitBreaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.lastChange = now()
}

// OnStateChange добавляет обработчик смены состояния
func (b *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// Configure меняет порог и время остывания (hot reload)
func (b *CircuitBreaker) Configure(threshold int, coolDown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if threshold > 0 {
		b.threshold = threshold
	}
	if coolDown > 0 {
		b.coolDown = coolDown
	}
}

func (b *CircuitBreaker) Name() string { return b.name }

// State текущее состояние. Открытый breaker с истекшим coolDown
// сообщает half-open, хотя переход произойдет при следующем вызове.
func (b *CircuitBreaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == domain.CircuitOpen && b.now().Sub(b.openedAt) >= b.coolDown {
		return domain.CircuitHalfOpen
	}
	return b.state
}

// FailureCount число неудач подряд в закрытом состоянии
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LastStateChange время последней смены состояния
func (b *CircuitBreaker) LastStateChange() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastChange
}

// Call выполняет fn, если breaker пропускает вызов, и учитывает результат
func (b *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.release(trial, err)
	return err
}

type transition struct {
	from, to domain.CircuitState
}

// setState вызывается под блокировкой
func (b *CircuitBreaker) setState(to domain.CircuitState, changes *[]transition) {
	if b.state == to {
		return
	}
	*changes = append(*changes, transition{from: b.state, to: to})
	b.state = to
	b.lastChange = b.now()
	if to == domain.CircuitOpen {
		b.openedAt = b.lastChange
	}
}

func (b *CircuitBreaker) notify(changes []transition) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	hooks := append([]StateChangeFunc(nil), b.onChange...)
	b.mu.Unlock()

	for _, c := range changes {
		for _, fn := range hooks {
			fn(b.name, c.from, c.to)
		}
	}
}

// acquire решает, пропустить ли вызов; trial=true для пробного вызова
func (b *CircuitBreaker) acquire() (trial bool, err error) {
	var changes []transition
	defer func() { b.notify(changes) }()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitOpen:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return false, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
		b.setState(domain.CircuitHalfOpen, &changes)
		b.trial = true
		return true, nil
	case domain.CircuitHalfOpen:
		if b.trial {
			return false, fmt.Errorf("%w: %s (trial in flight)", ErrCircuitOpen, b.name)
		}
		b.trial = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *CircuitBreaker) release(trial bool, err error) {
	var changes []transition
	defer func() { b.notify(changes) }()

	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trial = false
		switch {
		case err == nil:
			b.failures = 0
			b.setState(domain.CircuitClosed, &changes)
		case errors.Is(err, context.Canceled):
			// пробный вызов отменен вызывающим, ждем следующий
		default:
			b.setState(domain.CircuitOpen, &changes)
		}
		return
	}

	// результаты вызовов, начатых до открытия, не меняют состояние
	if b.state != domain.CircuitClosed {
		return
	}
	switch {
	case err == nil:
		b.failures = 0
	case errors.Is(err, context.Canceled):
	default:
		b.failures++
		if b.failures >= b.threshold {
			b.setState(domain.CircuitOpen, &changes)
		}
	}
}
