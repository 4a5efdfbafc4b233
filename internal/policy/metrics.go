package policy

import "github.com/prometheus/client_golang/prometheus"

// Metrics счетчики проверок политики
type Metrics struct {
	Rejections *prometheus.CounterVec
	FailOpen   prometheus.Counter
	AuditDrops prometheus.Counter
}

// NewMetrics создает счетчики и регистрирует их в reg (nil - без регистрации)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "policy",
			Name:      "rejections_total",
			Help:      "Actions rejected by validation or rate limiting.",
		}, []string{"constraint"}),
		FailOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "policy",
			Name:      "rate_limit_fail_open_total",
			Help:      "Rate limit checks allowed because the store was unavailable.",
		}),
		AuditDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "policy",
			Name:      "audit_write_failures_total",
			Help:      "Audit entries that could not be persisted.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Rejections, m.FailOpen, m.AuditDrops)
	}
	return m
}
