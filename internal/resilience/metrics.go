package resilience

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillm/ln-autopilot/internal/domain"
)

// Metrics счетчики повторов и состояния breaker'ов
type Metrics struct {
	Attempts           *prometheus.CounterVec
	RetrySuccess       *prometheus.CounterVec
	Exhausted          *prometheus.CounterVec
	FallbackUsed       *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
}

// NewMetrics создает метрики и регистрирует их в reg (nil - без регистрации)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Attempts made by retriers, including the first call.",
		}, []string{"name"}),
		RetrySuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "retry",
			Name:      "success_after_retry_total",
			Help:      "Calls that succeeded after at least one retry.",
		}, []string{"name"}),
		Exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Calls that failed after using every attempt.",
		}, []string{"name"}),
		FallbackUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "retry",
			Name:      "fallback_used_total",
			Help:      "Calls answered by a fallback.",
		}, []string{"name"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "autopilot",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit state transitions by target state.",
		}, []string{"name", "to"}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.RetrySuccess, m.Exhausted, m.FallbackUsed, m.BreakerState, m.BreakerTransitions)
	}
	return m
}

func stateValue(s domain.CircuitState) float64 {
	switch s {
	case domain.CircuitHalfOpen:
		return 1
	case domain.CircuitOpen:
		return 2
	default:
		return 0
	}
}

// ObserveTransition обновляет метрики при смене состояния breaker'а
func (m *Metrics) ObserveTransition(name string, _, to domain.CircuitState) {
	m.BreakerState.WithLabelValues(name).Set(stateValue(to))
	m.BreakerTransitions.WithLabelValues(name, string(to)).Inc()
}
