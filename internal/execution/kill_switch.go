package execution

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// KillSwitch аварийная остановка исполнения действий
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	activatedAt time.Time
	reason      string
	log         zerolog.Logger
	onChange    []func(active bool, reason string)
}

// NewKillSwitch создает новый kill switch
func NewKillSwitch(log zerolog.Logger) *KillSwitch {
	return &KillSwitch{
		active: false,
		log:    log.With().Str("component", "kill_switch").Logger(),
	}
}

// OnChange добавляет обработчик переключения (вызывается вне блокировки)
func (ks *KillSwitch) OnChange(fn func(active bool, reason string)) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.onChange = append(ks.onChange, fn)
}

// Activate активирует kill switch
func (ks *KillSwitch) Activate(reason string) {
	ks.mu.Lock()
	if ks.active {
		ks.mu.Unlock()
		return
	}
	ks.active = true
	ks.activatedAt = time.Now()
	ks.reason = reason
	hooks := append(([]func(bool, string))(nil), ks.onChange...)
	ks.mu.Unlock()

	// Логируем критическое событие
	ks.log.Error().Str("reason", reason).Msg("Kill switch activated")
	for _, fn := range hooks {
		fn(true, reason)
	}
}

// Deactivate деактивирует kill switch (требует ручного вмешательства)
func (ks *KillSwitch) Deactivate() {
	ks.mu.Lock()
	if !ks.active {
		ks.mu.Unlock()
		return
	}
	ks.active = false
	ks.reason = ""
	hooks := append(([]func(bool, string))(nil), ks.onChange...)
	ks.mu.Unlock()

	ks.log.Info().Msg("Kill switch deactivated")
	for _, fn := range hooks {
		fn(false, "")
	}
}

// Sync приводит состояние к флагу halt из политики
func (ks *KillSwitch) Sync(halt bool, reason string) {
	if halt {
		if reason == "" {
			reason = "policy halt"
		}
		ks.Activate(reason)
		return
	}
	ks.Deactivate()
}

// IsActive проверяет активен ли kill switch
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active
}

// GetStatus возвращает статус kill switch
func (ks *KillSwitch) GetStatus() (bool, string, time.Time) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active, ks.reason, ks.activatedAt
}
