package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ActionType тип корректирующего действия
type ActionType string

// Valid проверяет, что тип входит в закрытый набор
func (t ActionType) Valid() bool {
	for _, known := range AllActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Action представляет предложенное действие над ресурсом.
// После создания параметры не меняются.
type Action struct {
	ActionID   string         `json:"action_id"`
	ResourceID string         `json:"resource_id"`
	ActionType ActionType     `json:"action_type"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  time.Time      `json:"timestamp"`
	Priority   int            `json:"priority"`
	DryRun     bool           `json:"dry_run"`
}

// Param возвращает параметр и признак его наличия
func (a Action) Param(key string) (any, bool) {
	v, ok := a.Parameters[key]
	return v, ok
}

// ParamString возвращает строковый параметр
func (a Action) ParamString(key string) (string, bool) {
	v, ok := a.Parameters[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ParamFloat возвращает числовой параметр. Поддерживает целые типы и
// float64 после JSON-декодирования.
func (a Action) ParamFloat(key string) (float64, bool) {
	v, ok := a.Parameters[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// ParamBool возвращает булев параметр
func (a Action) ParamBool(key string) bool {
	v, ok := a.Parameters[key].(bool)
	return ok && v
}

// ChannelFee новые комиссии одного канала в fee_update
type ChannelFee struct {
	BaseFeeMsat float64 `json:"new_base_fee"`
	FeeRatePPM  float64 `json:"new_fee_rate"`
}

// ParamFees возвращает комиссии fee_update по каналам. Действие несет
// либо карту fees (все каналы ресурса), либо channel_id с new_base_fee и
// new_fee_rate для одного канала. ok=false, если форма нарушена.
func (a Action) ParamFees() (map[string]ChannelFee, bool) {
	raw, ok := a.Parameters[ParamFees]
	if !ok {
		id, ok := a.ParamString(ParamChannelID)
		if !ok || id == "" {
			return nil, false
		}
		base, okBase := a.ParamFloat(ParamNewBaseFee)
		rate, okRate := a.ParamFloat(ParamNewFeeRate)
		if !okBase || !okRate {
			return nil, false
		}
		return map[string]ChannelFee{id: {BaseFeeMsat: base, FeeRatePPM: rate}}, true
	}

	switch fees := raw.(type) {
	case map[string]ChannelFee:
		if _, empty := fees[""]; empty {
			return nil, false
		}
		return fees, len(fees) > 0
	case map[string]any:
		// форма после JSON-декодирования
		out := make(map[string]ChannelFee, len(fees))
		for id, v := range fees {
			entry, ok := v.(map[string]any)
			if !ok || id == "" {
				return nil, false
			}
			base, okBase := toFloat(entry[ParamNewBaseFee])
			rate, okRate := toFloat(entry[ParamNewFeeRate])
			if !okBase || !okRate {
				return nil, false
			}
			out[id] = ChannelFee{BaseFeeMsat: base, FeeRatePPM: rate}
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

// CloneParameters возвращает копию параметров
func (a Action) CloneParameters() map[string]any {
	out := make(map[string]any, len(a.Parameters))
	for k, v := range a.Parameters {
		out[k] = v
	}
	return out
}

func (a Action) String() string {
	return fmt.Sprintf("%s[%s] %s", a.ActionType, a.ActionID, a.ResourceID)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Channel платежный канал ресурса
type Channel struct {
	ChannelID        string `json:"channel_id"`
	PeerID           string `json:"peer_id"`
	CapacitySat      int64  `json:"capacity_sat"`
	LocalBalanceSat  int64  `json:"local_balance_sat"`
	RemoteBalanceSat int64  `json:"remote_balance_sat"`
	BaseFeeMsat      int64  `json:"base_fee_msat"`
	FeeRatePPM       int64  `json:"fee_rate_ppm"`
	Active           bool   `json:"active"`
}

// LocalRatio доля локального баланса (0.5 для пустого канала)
func (c Channel) LocalRatio() float64 {
	total := c.LocalBalanceSat + c.RemoteBalanceSat
	if total <= 0 {
		return BalancedRatio
	}
	return float64(c.LocalBalanceSat) / float64(total)
}

// ResourceSnapshot наблюдение за узлом на момент цикла
type ResourceSnapshot struct {
	ResourceID       string    `json:"resource_id"`
	Channels         []Channel `json:"channels"`
	SuccessRate      *float64  `json:"success_rate,omitempty"`
	ForwardVolumeSat *float64  `json:"forward_volume_sat,omitempty"`
	ForwardCount     *float64  `json:"forward_count,omitempty"`
	UptimeRatio      *float64  `json:"uptime_ratio,omitempty"`
	ObservedAt       time.Time `json:"observed_at"`
}

// LiquidityRatio суммарная доля локального баланса по всем каналам
func (s ResourceSnapshot) LiquidityRatio() float64 {
	var local, remote int64
	for _, ch := range s.Channels {
		local += ch.LocalBalanceSat
		remote += ch.RemoteBalanceSat
	}
	if local+remote <= 0 {
		return BalancedRatio
	}
	return float64(local) / float64(local+remote)
}

// AvgFeeRatePPM средняя ставка комиссии по каналам (NaN если каналов нет)
func (s ResourceSnapshot) AvgFeeRatePPM() float64 {
	if len(s.Channels) == 0 {
		return math.NaN()
	}
	var sum int64
	for _, ch := range s.Channels {
		sum += ch.FeeRatePPM
	}
	return float64(sum) / float64(len(s.Channels))
}

// Profile категориальная оценка здоровья ресурса
type Profile string

// ConditionTag сработавшее условие оценки
type ConditionTag string

// ConditionSet набор сработавших условий
type ConditionSet map[ConditionTag]struct{}

// NewConditionSet создает набор из перечисленных условий
func NewConditionSet(tags ...ConditionTag) ConditionSet {
	set := make(ConditionSet, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

// Has проверяет наличие условия
func (s ConditionSet) Has(tag ConditionTag) bool {
	_, ok := s[tag]
	return ok
}

// Sorted возвращает условия в детерминированном порядке
func (s ConditionSet) Sorted() []ConditionTag {
	out := make([]ConditionTag, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s ConditionSet) String() string {
	tags := s.Sorted()
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// EvaluationResult результат оценки ресурса за один цикл
type EvaluationResult struct {
	ResourceID     string             `json:"resource_id"`
	Profile        Profile            `json:"profile"`
	CompositeScore float64            `json:"composite_score"`
	MaxScore       float64            `json:"max_score"`
	Conditions     ConditionSet       `json:"-"`
	Recommendation string             `json:"recommendation"`
	LiquidityRatio float64            `json:"liquidity_ratio"`
	Scores         map[string]float64 `json:"scores"`
	EvaluatedAt    time.Time          `json:"evaluated_at"`
}

// AuditStatus статус записи аудита
type AuditStatus string

// AuditEntry неизменяемая запись журнала аудита
type AuditEntry struct {
	ActionID   string         `json:"action_id"`
	ResourceID string         `json:"resource_id"`
	ActionType ActionType     `json:"action_type"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     AuditStatus    `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// CircuitState состояние circuit breaker
type CircuitState string

// BreakerEvent запись журнала переходов circuit breaker
type BreakerEvent struct {
	Name       string       `json:"name"`
	From       CircuitState `json:"from"`
	To         CircuitState `json:"to"`
	OccurredAt time.Time    `json:"occurred_at"`
}
