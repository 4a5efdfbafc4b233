package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultProfile профиль политики по умолчанию
const DefaultProfile = "moderate"

// Breaker scopes
const (
	ScopeCallType = "call_type"
	ScopeResource = "resource"
)

// Policy профиль безопасности и настройки автопилота
type Policy struct {
	ProfileName string               `yaml:"profile_name"`
	Halt        bool                 `yaml:"halt"`
	HaltReason  string               `yaml:"halt_reason"`
	RateLimits  map[string]RateLimit `yaml:"rate_limits"`
	Fees        FeeBounds            `yaml:"fees"`
	ChannelSize ChannelSizeBounds    `yaml:"channel_size"`
	Scoring     ScoringPolicy        `yaml:"scoring"`
	Decision    DecisionPolicy       `yaml:"decision"`
	Retry       RetryPolicy          `yaml:"retry"`
	Breaker     BreakerPolicy        `yaml:"breaker"`
}

// RateLimit фиксированное окно для пары (ресурс, тип действия)
type RateLimit struct {
	Max    int64         `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// FeeBounds допустимые значения комиссий
type FeeBounds struct {
	MaxBaseFeeMsat float64 `yaml:"max_base_fee_msat"`
	MaxFeeRatePPM  float64 `yaml:"max_fee_rate_ppm"`
}

// ChannelSizeBounds допустимый размер нового канала
type ChannelSizeBounds struct {
	MinSat float64 `yaml:"min_sat"`
	MaxSat float64 `yaml:"max_sat"`
}

// ScoringPolicy веса метрик и пороги условий
type ScoringPolicy struct {
	Weights            map[string]float64 `yaml:"weights"`
	CriticalScoreRatio float64            `yaml:"critical_score_ratio"`
	StarScoreRatio     float64            `yaml:"star_score_ratio"`
	LowSuccessRate     float64            `yaml:"low_success_rate"`
	ImbalanceThreshold float64            `yaml:"imbalance_threshold"`
	HighVolumeRatio    float64            `yaml:"high_volume_ratio"`
	LowFeeRatePPM      float64            `yaml:"low_fee_rate_ppm"`
}

// DecisionPolicy пороги движка решений
type DecisionPolicy struct {
	ImbalanceThreshold      float64 `yaml:"imbalance_threshold"`
	EmergencyImbalance      float64 `yaml:"emergency_imbalance"`
	CandidateRatio          float64 `yaml:"candidate_ratio"`
	EmergencyCandidateRatio float64 `yaml:"emergency_candidate_ratio"`
	FeeDecreaseFactor       float64 `yaml:"fee_decrease_factor"`
	FeeIncreaseFactor       float64 `yaml:"fee_increase_factor"`
	HistorySize             int     `yaml:"history_size"`
	DryRun                  bool    `yaml:"dry_run"`
}

// RetryPolicy параметры повторов исходящих вызовов
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	Jitter         bool          `yaml:"jitter"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// BreakerPolicy параметры circuit breaker
type BreakerPolicy struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
	Scope            string        `yaml:"scope"`
}

// DefaultPolicy возвращает эталонную политику
func DefaultPolicy() *Policy {
	return &Policy{
		ProfileName: DefaultProfile,
		RateLimits: map[string]RateLimit{
			"fee_update":    {Max: 10, Window: time.Hour},
			"rebalance":     {Max: 5, Window: time.Hour},
			"channel_open":  {Max: 3, Window: time.Hour},
			"channel_close": {Max: 2, Window: time.Hour},
		},
		Fees: FeeBounds{
			MaxBaseFeeMsat: 10000,
			MaxFeeRatePPM:  100000,
		},
		ChannelSize: ChannelSizeBounds{
			MinSat: 20000,
			MaxSat: 16777215,
		},
		Scoring: ScoringPolicy{
			Weights: map[string]float64{
				"success_rate":      30,
				"forward_volume":    25,
				"forward_count":     10,
				"uptime":            15,
				"liquidity_balance": 15,
				"avg_fee_rate":      5,
			},
			CriticalScoreRatio: 0.3,
			StarScoreRatio:     0.8,
			LowSuccessRate:     0.7,
			ImbalanceThreshold: 0.25,
			HighVolumeRatio:    0.8,
			LowFeeRatePPM:      100,
		},
		Decision: DecisionPolicy{
			ImbalanceThreshold:      0.25,
			EmergencyImbalance:      0.35,
			CandidateRatio:          0.7,
			EmergencyCandidateRatio: 0.6,
			FeeDecreaseFactor:       0.85,
			FeeIncreaseFactor:       1.15,
			HistorySize:             500,
		},
		Retry: RetryPolicy{
			MaxRetries:     3,
			BaseDelay:      time.Second,
			MaxDelay:       30 * time.Second,
			BackoffFactor:  2,
			Jitter:         true,
			AttemptTimeout: 30 * time.Second,
		},
		Breaker: BreakerPolicy{
			FailureThreshold: 4,
			CoolDown:         60 * time.Second,
			Scope:            ScopeCallType,
		},
	}
}

// LoadPolicy загружает профиль политики из YAML поверх значений по умолчанию.
// Отсутствующий файл не является ошибкой.
func LoadPolicy(path, profileName string) (*Policy, error) {
	policy := DefaultPolicy()
	if profileName == "" {
		profileName = DefaultProfile
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		policy.ProfileName = profileName
		return policy, nil
	}
	if err != nil {
		return nil, err
	}

	return ParsePolicy(data, profileName)
}

// ParsePolicy разбирает YAML с набором профилей и выбирает нужный
func ParsePolicy(data []byte, profileName string) (*Policy, error) {
	var doc struct {
		Profiles map[string]yaml.Node `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	policy := DefaultPolicy()
	node, ok := doc.Profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("policy profile %s not found", profileName)
	}
	if err := node.Decode(policy); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", profileName, err)
	}
	policy.ProfileName = profileName

	defaults := DefaultPolicy()
	for name, limit := range policy.RateLimits {
		if limit.Window <= 0 {
			limit.Window = time.Hour
			policy.RateLimits[name] = limit
		}
	}
	if policy.Breaker.Scope == "" {
		policy.Breaker.Scope = defaults.Breaker.Scope
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// Validate проверяет согласованность политики
func (p *Policy) Validate() error {
	for name, limit := range p.RateLimits {
		if limit.Max < 0 {
			return fmt.Errorf("rate_limits.%s.max must be >= 0", name)
		}
	}
	if p.Fees.MaxBaseFeeMsat < 0 || p.Fees.MaxFeeRatePPM < 0 {
		return fmt.Errorf("fee bounds must be >= 0")
	}
	if p.ChannelSize.MinSat > p.ChannelSize.MaxSat {
		return fmt.Errorf("channel_size.min_sat exceeds max_sat")
	}
	for metric, w := range p.Scoring.Weights {
		if w < 0 {
			return fmt.Errorf("scoring.weights.%s must be >= 0", metric)
		}
	}
	if p.Decision.EmergencyImbalance < p.Decision.ImbalanceThreshold {
		return fmt.Errorf("decision.emergency_imbalance must be >= imbalance_threshold")
	}
	if p.Decision.HistorySize <= 0 {
		return fmt.Errorf("decision.history_size must be positive")
	}
	if p.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if p.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be >= 1")
	}
	if p.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if p.Breaker.Scope != ScopeCallType && p.Breaker.Scope != ScopeResource {
		return fmt.Errorf("breaker.scope must be %q or %q", ScopeCallType, ScopeResource)
	}
	return nil
}
