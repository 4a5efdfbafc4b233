package decision

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
)

// Action priorities (меньше значит срочнее)
const (
	PriorityEmergencyRebalance = 1
	PriorityRebalance          = 2
	PriorityFeeDecrease        = 3
	PriorityFeeIncrease        = 4
)

// Engine превращает результат оценки в упорядоченный список действий.
// Правила фиксированы: ликвидность обрабатывается раньше комиссий.
type Engine struct {
	mu          sync.RWMutex
	policy      config.DecisionPolicy
	forceDryRun bool

	history *History
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewEngine создает движок решений
func NewEngine(policy config.DecisionPolicy, log zerolog.Logger) *Engine {
	return &Engine{
		policy:  policy,
		history: NewHistory(policy.HistorySize),
		log:     log.With().Str("component", "decision").Logger(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// SetClock подменяет источник времени (для тестов)
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// ForceDryRun помечает все будущие действия как dry-run (shadow mode)
func (e *Engine) ForceDryRun(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceDryRun = on
}

// UpdatePolicy применяет новые пороги. История сохраняется.
func (e *Engine) UpdatePolicy(policy config.DecisionPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
}

// GetActionHistory возвращает выданные действия, новые первыми.
// Пустой resourceID означает все ресурсы.
func (e *Engine) GetActionHistory(resourceID string, limit int) []domain.Action {
	return e.history.Recent(resourceID, limit)
}

// ApplyRecommendations строит действия по результату оценки
func (e *Engine) ApplyRecommendations(eval domain.EvaluationResult, snap domain.ResourceSnapshot) []domain.Action {
	e.mu.RLock()
	policy := e.policy
	dryRun := policy.DryRun || e.forceDryRun
	e.mu.RUnlock()

	b := &builder{
		engine:   e,
		policy:   policy,
		eval:     eval,
		snap:     snap,
		dryRun:   dryRun,
		issuedAt: e.now(),
	}

	imbalance := math.Abs(eval.LiquidityRatio - domain.BalancedRatio)
	liquidityRule := imbalance > policy.ImbalanceThreshold
	if liquidityRule {
		emergency := imbalance > policy.EmergencyImbalance
		b.rebalance(emergency, fmt.Sprintf("liquidity ratio %.2f", eval.LiquidityRatio))
	}

	imbalanced := false
	for _, tag := range eval.Conditions.Sorted() {
		switch tag {
		case domain.ConditionCritical:
			// только когда правило ликвидности не сработало
			if !liquidityRule && !b.rebalanced {
				b.rebalance(true, "critical score")
			}
		case domain.ConditionLowSuccessRate:
			b.fees(domain.DirectionDecrease, policy.FeeDecreaseFactor, PriorityFeeDecrease)
		case domain.ConditionHighVolumeLowFees:
			b.fees(domain.DirectionIncrease, policy.FeeIncreaseFactor, PriorityFeeIncrease)
		case domain.ConditionLiquidityImbalance:
			imbalanced = true
		default:
			e.log.Warn().Str("condition", string(tag)).Msg("Unknown condition ignored")
		}
	}
	if imbalanced && !b.rebalanced {
		b.rebalance(false, "liquidity imbalance")
	}

	sort.SliceStable(b.actions, func(i, j int) bool {
		return b.actions[i].Priority < b.actions[j].Priority
	})

	if !dryRun && len(b.actions) > 0 {
		e.history.Add(eval.EvaluatedAt, b.actions...)
	}

	e.log.Debug().
		Str("resource", eval.ResourceID).
		Str("profile", string(eval.Profile)).
		Int("actions", len(b.actions)).
		Bool("dry_run", dryRun).
		Msg("Recommendations applied")

	return b.actions
}

// builder накапливает действия одного вызова ApplyRecommendations
type builder struct {
	engine   *Engine
	policy   config.DecisionPolicy
	eval     domain.EvaluationResult
	snap     domain.ResourceSnapshot
	dryRun   bool
	issuedAt time.Time

	actions    []domain.Action
	rebalanced bool
}

func (b *builder) emit(actionType domain.ActionType, priority int, params map[string]any) {
	b.actions = append(b.actions, domain.Action{
		ActionID:   b.engine.newID(),
		ResourceID: b.eval.ResourceID,
		ActionType: actionType,
		Parameters: params,
		Timestamp:  b.issuedAt,
		Priority:   priority,
		DryRun:     b.dryRun,
	})
}

// rebalance добавляет перемещение ликвидности между самым "локальным"
// и самым "удаленным" каналом
func (b *builder) rebalance(emergency bool, reason string) {
	threshold := b.policy.CandidateRatio
	if emergency {
		threshold = b.policy.EmergencyCandidateRatio
	}

	source, dest, ok := SelectRebalancePair(b.snap.Channels, threshold)
	if !ok {
		b.engine.log.Info().
			Str("resource", b.eval.ResourceID).
			Bool("emergency", emergency).
			Float64("candidate_ratio", threshold).
			Msg("No rebalance pair found, skipping")
		return
	}

	priority := PriorityRebalance
	if emergency {
		priority = PriorityEmergencyRebalance
	}

	b.emit(domain.ActionRebalance, priority, map[string]any{
		domain.ParamSourceChannel: source.ChannelID,
		domain.ParamDestChannel:   dest.ChannelID,
		domain.ParamAmount:        RebalanceAmount(source, dest),
		domain.ParamEmergency:     emergency,
		domain.ParamReason:        reason,
	})
	b.rebalanced = true
}

// fees добавляет один fee_update на ресурс: единый множитель ко всем
// каналам. Для единственного канала действие несет channel_id.
func (b *builder) fees(direction string, factor float64, priority int) {
	if len(b.snap.Channels) == 0 {
		return
	}

	params := map[string]any{
		domain.ParamDirection: direction,
		domain.ParamFactor:    factor,
	}
	if len(b.snap.Channels) == 1 {
		ch := b.snap.Channels[0]
		params[domain.ParamChannelID] = ch.ChannelID
		params[domain.ParamNewBaseFee] = math.Round(float64(ch.BaseFeeMsat) * factor)
		params[domain.ParamNewFeeRate] = math.Round(float64(ch.FeeRatePPM) * factor)
	} else {
		fees := make(map[string]domain.ChannelFee, len(b.snap.Channels))
		for _, ch := range b.snap.Channels {
			fees[ch.ChannelID] = domain.ChannelFee{
				BaseFeeMsat: math.Round(float64(ch.BaseFeeMsat) * factor),
				FeeRatePPM:  math.Round(float64(ch.FeeRatePPM) * factor),
			}
		}
		params[domain.ParamFees] = fees
	}
	b.emit(domain.ActionFeeUpdate, priority, params)
}

// SelectRebalancePair выбирает источник (доля локального баланса > threshold)
// и получатель (доля удаленного баланса > threshold). Источник самый
// перегруженный локально, получатель самый перегруженный удаленно.
func SelectRebalancePair(channels []domain.Channel, threshold float64) (source, dest domain.Channel, ok bool) {
	var haveSource, haveDest bool
	for _, ch := range channels {
		if ch.LocalBalanceSat+ch.RemoteBalanceSat <= 0 {
			continue
		}
		ratio := ch.LocalRatio()
		if ratio > threshold && (!haveSource || ratio > source.LocalRatio()) {
			source, haveSource = ch, true
		}
		if 1-ratio > threshold && (!haveDest || ratio < dest.LocalRatio()) {
			dest, haveDest = ch, true
		}
	}
	if !haveSource || !haveDest || source.ChannelID == dest.ChannelID {
		return domain.Channel{}, domain.Channel{}, false
	}
	return source, dest, true
}

// RebalanceAmount объем, приближающий оба канала к балансу без перелета
func RebalanceAmount(source, dest domain.Channel) int64 {
	surplus := source.LocalBalanceSat - (source.LocalBalanceSat+source.RemoteBalanceSat)/2
	deficit := (dest.LocalBalanceSat+dest.RemoteBalanceSat)/2 - dest.LocalBalanceSat
	if deficit < surplus {
		return deficit
	}
	return surplus
}
