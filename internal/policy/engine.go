package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/storage"
)

// Manager проверяет действия перед исполнением: параметры, лимиты частоты
// и журнал аудита. Счетчики и журнал живут в общем хранилище, поэтому
// несколько экземпляров автопилота видят одни и те же лимиты.
type Manager struct {
	mu      sync.RWMutex
	policy  *config.Policy
	store   storage.Store
	metrics *Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewManager создает менеджер безопасности
func NewManager(policy *config.Policy, store storage.Store, log zerolog.Logger, reg prometheus.Registerer) *Manager {
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	return &Manager{
		policy:  policy,
		store:   store,
		metrics: NewMetrics(reg),
		log:     log.With().Str("component", "policy").Logger(),
		now:     time.Now,
	}
}

// SetClock подменяет источник времени (для тестов)
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// UpdatePolicy атомарно заменяет политику (hot reload)
func (m *Manager) UpdatePolicy(p *config.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
	m.log.Info().Str("profile", p.ProfileName).Msg("Policy updated")
}

// GetPolicy возвращает текущую политику
func (m *Manager) GetPolicy() *config.Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// Metrics возвращает счетчики менеджера
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// ValidateAction проверяет действие. Порядок проверок: идентификаторы,
// тип, обязательные параметры, доменные ограничения, лимит частоты.
// Возвращает *domain.ValidationError или *domain.RateLimitError.
func (m *Manager) ValidateAction(ctx context.Context, action domain.Action) error {
	result := m.Inspect(action)
	if !result.Approved {
		v := result.Violations[0]
		m.metrics.Rejections.WithLabelValues(v.Constraint).Inc()
		m.log.Warn().
			Str("action_id", action.ActionID).
			Str("resource", action.ResourceID).
			Str("constraint", v.Constraint).
			Str("field", v.Field).
			Msg(v.Message)
		return v.Err()
	}

	limit, hasLimit := m.rateLimit(action.ActionType)
	if !hasLimit {
		return nil
	}

	var (
		count   int64
		allowed bool
	)
	if action.DryRun {
		// dry-run только смотрит на счетчик, не расходуя лимит
		count, allowed = m.peekRateLimit(ctx, action.ResourceID, action.ActionType, limit)
	} else {
		allowed, count, _ = m.CheckRateLimit(ctx, action.ResourceID, action.ActionType)
	}
	if !allowed {
		m.metrics.Rejections.WithLabelValues("rate_limit").Inc()
		return &domain.RateLimitError{
			ResourceID: action.ResourceID,
			ActionType: action.ActionType,
			Limit:      limit.Max,
			Count:      count,
		}
	}
	return nil
}

// Inspect проверяет параметры действия без обращения к хранилищу
func (m *Manager) Inspect(action domain.Action) *ValidationResult {
	policy := m.GetPolicy()
	result := &ValidationResult{Approved: true, CheckedAt: m.now()}

	reject := func(v Violation) *ValidationResult {
		result.Approved = false
		result.Violations = append(result.Violations, v)
		return result
	}

	if action.ActionID == "" {
		return reject(Violation{Constraint: domain.ConstraintRequired, Field: "action_id", Message: "action_id is empty"})
	}
	if action.ResourceID == "" {
		return reject(Violation{Constraint: domain.ConstraintRequired, Field: "resource_id", Message: "resource_id is empty"})
	}
	if !action.ActionType.Valid() {
		return reject(Violation{
			Constraint: domain.ConstraintUnknownType,
			Field:      "action_type",
			Message:    fmt.Sprintf("unknown action type %q", action.ActionType),
		})
	}

	for _, key := range requiredFor(action) {
		if v, ok := checkParam(action, key); !ok {
			return reject(v)
		}
	}

	// Доменные ограничения по типу действия
	switch action.ActionType {
	case domain.ActionFeeUpdate:
		fees, _ := action.ParamFees()
		ids := make([]string, 0, len(fees))
		for id := range fees {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fee := fees[id]
			if v, ok := checkRange(domain.ParamNewBaseFee, fee.BaseFeeMsat, 0, policy.Fees.MaxBaseFeeMsat); !ok {
				v.Message = id + ": " + v.Message
				return reject(v)
			}
			if v, ok := checkRange(domain.ParamNewFeeRate, fee.FeeRatePPM, 0, policy.Fees.MaxFeeRatePPM); !ok {
				v.Message = id + ": " + v.Message
				return reject(v)
			}
		}
	case domain.ActionRebalance:
		amount, _ := action.ParamFloat(domain.ParamAmount)
		if v, ok := checkFinite(domain.ParamAmount, amount); !ok {
			return reject(v)
		}
		// исполнитель отправляет целые сатоши
		if math.Trunc(amount) < 1 {
			return reject(Violation{
				Constraint:     domain.ConstraintRange,
				Field:          domain.ParamAmount,
				AttemptedValue: amount,
				Message:        fmt.Sprintf("rebalance amount must be at least 1 sat, got %g", amount),
			})
		}
		source, _ := action.ParamString(domain.ParamSourceChannel)
		dest, _ := action.ParamString(domain.ParamDestChannel)
		if source == dest {
			return reject(Violation{
				Constraint: domain.ConstraintSelfLoop,
				Field:      domain.ParamDestChannel,
				Message:    fmt.Sprintf("source and destination are the same channel %s", source),
			})
		}
	case domain.ActionChannelOpen:
		amount, _ := action.ParamFloat(domain.ParamAmount)
		if v, ok := checkRange(domain.ParamAmount, amount, policy.ChannelSize.MinSat, policy.ChannelSize.MaxSat); !ok {
			return reject(v)
		}
	case domain.ActionChannelClose:
	}

	return result
}

// requiredFor обязательные параметры действия. fee_update с картой fees
// требует только ее.
func requiredFor(action domain.Action) []string {
	if action.ActionType == domain.ActionFeeUpdate {
		if _, ok := action.Param(domain.ParamFees); ok {
			return []string{domain.ParamFees}
		}
	}
	return requiredParams[action.ActionType]
}

func checkParam(action domain.Action, key string) (Violation, bool) {
	raw, ok := action.Param(key)
	if !ok || raw == nil {
		return Violation{
			Constraint: domain.ConstraintRequired,
			Field:      key,
			Message:    fmt.Sprintf("parameter %s is required for %s", key, action.ActionType),
		}, false
	}

	if key == domain.ParamFees {
		if _, ok := action.ParamFees(); !ok {
			return Violation{
				Constraint: domain.ConstraintType,
				Field:      key,
				Message:    "parameter fees must map channel ids to new_base_fee and new_fee_rate",
			}, false
		}
		return Violation{}, true
	}

	if stringParams[key] {
		if s, ok := raw.(string); !ok || s == "" {
			return Violation{
				Constraint: domain.ConstraintType,
				Field:      key,
				Message:    fmt.Sprintf("parameter %s must be a non-empty string", key),
			}, false
		}
		return Violation{}, true
	}

	if _, ok := action.ParamFloat(key); !ok {
		return Violation{
			Constraint: domain.ConstraintType,
			Field:      key,
			Message:    fmt.Sprintf("parameter %s must be numeric, got %T", key, raw),
		}, false
	}
	return Violation{}, true
}

func checkFinite(field string, value float64) (Violation, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Violation{
			Constraint: domain.ConstraintRange,
			Field:      field,
			Message:    fmt.Sprintf("%s must be a finite number, got %v", field, value),
		}, false
	}
	return Violation{}, true
}

// checkRange проверяет value в [low, high]. NaN и бесконечности
// отклоняются до сравнения.
func checkRange(field string, value, low, high float64) (Violation, bool) {
	if v, ok := checkFinite(field, value); !ok {
		return v, false
	}
	if value < low || value > high {
		return rangeViolation(field, value, low, high), false
	}
	return Violation{}, true
}

func rangeViolation(field string, value, low, high float64) Violation {
	return Violation{
		Constraint:     domain.ConstraintRange,
		Field:          field,
		LimitValue:     high,
		AttemptedValue: value,
		Message:        fmt.Sprintf("%s %.0f outside [%.0f, %.0f]", field, value, low, high),
	}
}

// ==================== RATE LIMIT ====================

// RateLimitKey ключ счетчика для пары (ресурс, тип действия)
func RateLimitKey(resourceID string, actionType domain.ActionType) string {
	return domain.RateLimitKeyPrefix + resourceID + ":" + string(actionType)
}

func (m *Manager) rateLimit(actionType domain.ActionType) (config.RateLimit, bool) {
	limit, ok := m.GetPolicy().RateLimits[string(actionType)]
	return limit, ok
}

// CheckRateLimit увеличивает счетчик фиксированного окна и сообщает,
// укладывается ли действие в лимит. При недоступном хранилище действие
// разрешается, а ошибка хранилища возвращается для наблюдения.
func (m *Manager) CheckRateLimit(ctx context.Context, resourceID string, actionType domain.ActionType) (allowed bool, count int64, err error) {
	limit, ok := m.rateLimit(actionType)
	if !ok {
		return true, 0, nil
	}

	count, err = m.store.Incr(ctx, RateLimitKey(resourceID, actionType), limit.Window)
	if err != nil {
		m.metrics.FailOpen.Inc()
		m.log.Warn().Err(err).
			Str("resource", resourceID).
			Str("action_type", string(actionType)).
			Msg("Rate limit store unavailable, allowing action")
		return true, 0, err
	}

	return count <= limit.Max, count, nil
}

func (m *Manager) peekRateLimit(ctx context.Context, resourceID string, actionType domain.ActionType, limit config.RateLimit) (int64, bool) {
	raw, err := m.store.Get(ctx, RateLimitKey(resourceID, actionType))
	if errors.Is(err, domain.ErrNotFound) {
		return 1, 1 <= limit.Max
	}
	if err != nil {
		m.metrics.FailOpen.Inc()
		m.log.Warn().Err(err).Str("resource", resourceID).Msg("Rate limit store unavailable, allowing dry-run action")
		return 0, true
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, true
	}
	// следующее действие стало бы count+1
	return count + 1, count+1 <= limit.Max
}

// ==================== AUDIT ====================

// AuditKey ключ журнала аудита действия
func AuditKey(actionID string) string {
	return domain.AuditKeyPrefix + actionID
}

// AuditTrail дописывает запись в журнал. Ошибки записи логируются и не
// возвращаются: аудит не должен блокировать исполнение.
func (m *Manager) AuditTrail(ctx context.Context, action domain.Action, status domain.AuditStatus, cause error) {
	entry := domain.AuditEntry{
		ActionID:   action.ActionID,
		ResourceID: action.ResourceID,
		ActionType: action.ActionType,
		Parameters: action.CloneParameters(),
		Timestamp:  m.now().UTC(),
		Status:     status,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	data, err := json.Marshal(entry)
	if err == nil {
		err = m.store.Append(ctx, AuditKey(action.ActionID), string(data), domain.AuditRetention)
	}
	if err != nil {
		m.metrics.AuditDrops.Inc()
		m.log.Warn().Err(err).
			Str("action_id", action.ActionID).
			Str("status", string(status)).
			Msg("Failed to write audit entry")
		return
	}

	m.log.Debug().
		Str("action_id", action.ActionID).
		Str("status", string(status)).
		Msg("Audit entry written")
}

// AuditHistory возвращает записи журнала действия в порядке записи
func (m *Manager) AuditHistory(ctx context.Context, actionID string) ([]domain.AuditEntry, error) {
	raw, err := m.store.List(ctx, AuditKey(actionID))
	if err != nil {
		return nil, err
	}

	entries := make([]domain.AuditEntry, 0, len(raw))
	for _, r := range raw {
		var e domain.AuditEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("corrupt audit entry for %s: %w", actionID, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
