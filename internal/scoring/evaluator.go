package scoring

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
)

// Metric names
const (
	MetricSuccessRate      = "success_rate"
	MetricForwardVolume    = "forward_volume"
	MetricForwardCount     = "forward_count"
	MetricUptime           = "uptime"
	MetricLiquidityBalance = "liquidity_balance"
	MetricAvgFeeRate       = "avg_fee_rate"
)

// Evaluator держит по одной эвристике на метрику и оценивает ресурсы.
// Диапазоны общие для всех ресурсов, поэтому доступ защищен мьютексом.
type Evaluator struct {
	mu         sync.Mutex
	heuristics map[string]*Heuristic
	order      []string
	thresholds config.ScoringPolicy
	now        func() time.Time
}

// NewEvaluator создает оценщик по политике скоринга
func NewEvaluator(policy config.ScoringPolicy) *Evaluator {
	w := func(metric string) float64 { return policy.Weights[metric] }

	e := &Evaluator{
		heuristics: map[string]*Heuristic{
			MetricSuccessRate:      NewSeededHeuristic(MetricSuccessRate, w(MetricSuccessRate), false, 0, 1),
			MetricForwardVolume:    NewHeuristic(MetricForwardVolume, w(MetricForwardVolume), false),
			MetricForwardCount:     NewHeuristic(MetricForwardCount, w(MetricForwardCount), false),
			MetricUptime:           NewSeededHeuristic(MetricUptime, w(MetricUptime), false, 0, 1),
			MetricLiquidityBalance: NewSeededHeuristic(MetricLiquidityBalance, w(MetricLiquidityBalance), true, 0, domain.BalancedRatio),
			MetricAvgFeeRate:       NewHeuristic(MetricAvgFeeRate, w(MetricAvgFeeRate), false),
		},
		order: []string{
			MetricSuccessRate,
			MetricForwardVolume,
			MetricForwardCount,
			MetricUptime,
			MetricLiquidityBalance,
			MetricAvgFeeRate,
		},
		thresholds: policy,
		now:        time.Now,
	}
	return e
}

// SetClock подменяет источник времени (для тестов)
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Heuristic возвращает копию эвристики метрики на текущий момент
func (e *Evaluator) Heuristic(metric string) (Heuristic, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.heuristics[metric]
	if !ok {
		return Heuristic{}, false
	}
	return *h, true
}

// MaxScore сумма весов всех метрик
func (e *Evaluator) MaxScore() float64 {
	total := 0.0
	for _, h := range e.heuristics {
		total += h.Weight
	}
	return total
}

// Evaluate обновляет диапазоны значениями снапшота и вычисляет оценку
func (e *Evaluator) Evaluate(snap domain.ResourceSnapshot) domain.EvaluationResult {
	ratio := snap.LiquidityRatio()
	imbalance := math.Abs(ratio - domain.BalancedRatio)

	values := map[string]*float64{
		MetricSuccessRate:   snap.SuccessRate,
		MetricForwardVolume: snap.ForwardVolumeSat,
		MetricForwardCount:  snap.ForwardCount,
		MetricUptime:        snap.UptimeRatio,
	}
	if len(snap.Channels) > 0 {
		avgFee := snap.AvgFeeRatePPM()
		values[MetricLiquidityBalance] = &imbalance
		values[MetricAvgFeeRate] = &avgFee
	}

	e.mu.Lock()
	scores := make(map[string]float64, len(e.order))
	composite := 0.0
	for _, metric := range e.order {
		h := e.heuristics[metric]
		h.UpdateOptional(values[metric])
	}
	for _, metric := range e.order {
		s := e.heuristics[metric].ScoreOptional(values[metric])
		scores[metric] = s
		composite += s
	}
	volumeNorm := 0.0
	if v := snap.ForwardVolumeSat; v != nil {
		volumeNorm = e.heuristics[MetricForwardVolume].Normalized(*v)
	}
	maxScore := e.MaxScore()
	e.mu.Unlock()

	conditions := e.conditions(snap, composite, maxScore, imbalance, volumeNorm)

	return domain.EvaluationResult{
		ResourceID:     snap.ResourceID,
		Profile:        profileFor(conditions, composite, maxScore, e.thresholds.StarScoreRatio),
		CompositeScore: composite,
		MaxScore:       maxScore,
		Conditions:     conditions,
		Recommendation: recommendation(conditions, snap, composite, maxScore, ratio),
		LiquidityRatio: ratio,
		Scores:         scores,
		EvaluatedAt:    e.now(),
	}
}

// conditions определяет сработавшие условия
func (e *Evaluator) conditions(snap domain.ResourceSnapshot, composite, maxScore, imbalance, volumeNorm float64) domain.ConditionSet {
	set := domain.NewConditionSet()

	if maxScore > 0 && composite < e.thresholds.CriticalScoreRatio*maxScore {
		set[domain.ConditionCritical] = struct{}{}
	}
	if snap.SuccessRate != nil && *snap.SuccessRate < e.thresholds.LowSuccessRate {
		set[domain.ConditionLowSuccessRate] = struct{}{}
	}
	if len(snap.Channels) > 0 && imbalance > e.thresholds.ImbalanceThreshold {
		set[domain.ConditionLiquidityImbalance] = struct{}{}
	}
	if len(snap.Channels) > 0 &&
		volumeNorm >= e.thresholds.HighVolumeRatio &&
		snap.AvgFeeRatePPM() < e.thresholds.LowFeeRatePPM {
		set[domain.ConditionHighVolumeLowFees] = struct{}{}
	}

	return set
}

// profileFor выбирает профиль по приоритету: critical > unbalanced > saturated > star > normal
func profileFor(set domain.ConditionSet, composite, maxScore, starRatio float64) domain.Profile {
	switch {
	case set.Has(domain.ConditionCritical):
		return domain.ProfileCritical
	case set.Has(domain.ConditionLiquidityImbalance):
		return domain.ProfileUnbalanced
	case set.Has(domain.ConditionHighVolumeLowFees):
		return domain.ProfileSaturated
	case len(set) == 0 && maxScore > 0 && composite >= starRatio*maxScore:
		return domain.ProfileStar
	default:
		return domain.ProfileNormal
	}
}

// recommendation собирает текст рекомендации из набора условий
func recommendation(set domain.ConditionSet, snap domain.ResourceSnapshot, composite, maxScore, ratio float64) string {
	if len(set) == 0 {
		return fmt.Sprintf("healthy (score %.1f/%.1f): no action required", composite, maxScore)
	}

	var parts []string
	for _, tag := range set.Sorted() {
		switch tag {
		case domain.ConditionCritical:
			parts = append(parts, fmt.Sprintf("critical score %.1f/%.1f", composite, maxScore))
		case domain.ConditionLowSuccessRate:
			parts = append(parts, fmt.Sprintf("low success rate %.0f%%", *snap.SuccessRate*100))
		case domain.ConditionLiquidityImbalance:
			parts = append(parts, fmt.Sprintf("liquidity imbalance (local ratio %.2f)", ratio))
		case domain.ConditionHighVolumeLowFees:
			parts = append(parts, fmt.Sprintf("high volume with low fees (avg %.0f ppm)", snap.AvgFeeRatePPM()))
		}
	}
	return strings.Join(parts, "; ")
}
