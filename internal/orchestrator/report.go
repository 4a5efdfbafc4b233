package orchestrator

import (
	"time"

	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/execution"
)

// ResourceReport итог обработки одного ресурса за цикл
type ResourceReport struct {
	ResourceID     string
	Profile        domain.Profile
	Score          float64
	Recommendation string
	Results        []*execution.Result
	Err            error
}

// CycleReport итог одного цикла
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Resources []ResourceReport

	Actions   int
	Executed  int
	Validated int
	Rejected  int
	Failed    int
	Errors    int // ресурсы, которые не удалось обработать
}

func newCycleReport(started time.Time, duration time.Duration, resources []ResourceReport) *CycleReport {
	r := &CycleReport{StartedAt: started, Duration: duration, Resources: resources}
	for _, res := range resources {
		if res.Err != nil {
			r.Errors++
		}
		for _, result := range res.Results {
			r.Actions++
			switch result.Status {
			case domain.AuditExecuted:
				r.Executed++
			case domain.AuditValidated:
				r.Validated++
			case domain.AuditRejected:
				r.Rejected++
			case domain.AuditFailed:
				r.Failed++
			}
		}
	}
	return r
}

// Resource отчет по ресурсу
func (r *CycleReport) Resource(id string) (ResourceReport, bool) {
	for _, res := range r.Resources {
		if res.ResourceID == id {
			return res, true
		}
	}
	return ResourceReport{}, false
}
