package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/lnd"
	"github.com/kirillm/ln-autopilot/internal/resilience"
)

var ErrKillSwitchActive = errors.New("kill switch is active")

// SecurityManager проверка и аудит действий
type SecurityManager interface {
	ValidateAction(ctx context.Context, action domain.Action) error
	AuditTrail(ctx context.Context, action domain.Action, status domain.AuditStatus, cause error)
}

// Result результат исполнения одного действия
type Result struct {
	Action     domain.Action
	Status     domain.AuditStatus
	Response   *lnd.Result
	Err        error
	ExecutedAt time.Time
	Duration   time.Duration
}

// Success действие исполнено или успешно проверено в dry-run
func (r *Result) Success() bool {
	return r.Err == nil
}

// Executor исполнитель действий над узлами
type Executor struct {
	controlPlane lnd.ControlPlane
	security     SecurityManager
	killSwitch   *KillSwitch
	breakers     *resilience.BreakerRegistry
	metrics      *resilience.Metrics
	log          zerolog.Logger

	mu         sync.RWMutex
	retryCfg   resilience.RetryConfig
	retriers   map[string]*resilience.Retrier
	configured func(r *resilience.Retrier)

	actions *prometheus.CounterVec
}

// NewExecutor создает новый executor
func NewExecutor(
	controlPlane lnd.ControlPlane,
	security SecurityManager,
	killSwitch *KillSwitch,
	breakers *resilience.BreakerRegistry,
	retryCfg resilience.RetryConfig,
	metrics *resilience.Metrics,
	reg prometheus.Registerer,
	log zerolog.Logger,
) *Executor {
	if metrics == nil {
		metrics = resilience.NewMetrics(nil)
	}
	e := &Executor{
		controlPlane: controlPlane,
		security:     security,
		killSwitch:   killSwitch,
		breakers:     breakers,
		metrics:      metrics,
		log:          log.With().Str("component", "executor").Logger(),
		retryCfg:     retryCfg,
		retriers:     make(map[string]*resilience.Retrier),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "executor",
			Name:      "actions_total",
			Help:      "Actions processed by type and final audit status.",
		}, []string{"type", "status"}),
	}
	if reg != nil {
		reg.MustRegister(e.actions)
	}
	return e
}

// ActionsCounter счетчик действий по типу и статусу
func (e *Executor) ActionsCounter() *prometheus.CounterVec {
	return e.actions
}

// ConfigureRetriers задает хук настройки новых retrier'ов (для тестов)
func (e *Executor) ConfigureRetriers(fn func(r *resilience.Retrier)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configured = fn
	for _, r := range e.retriers {
		fn(r)
	}
}

// UpdateRetryConfig применяет новую политику повторов
func (e *Executor) UpdateRetryConfig(cfg resilience.RetryConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryCfg = cfg
	e.retriers = make(map[string]*resilience.Retrier)
}

func (e *Executor) retrier(callType, resourceID string) *resilience.Retrier {
	e.mu.Lock()
	r, ok := e.retriers[callType]
	if !ok {
		r = resilience.NewRetrier(callType, e.retryCfg, e.metrics, e.log)
		if e.configured != nil {
			e.configured(r)
		}
		e.retriers[callType] = r
	}
	e.mu.Unlock()

	if e.breakers == nil {
		return r
	}
	return r.WithBreaker(e.breakers.Get(callType, resourceID))
}

// Execute проверяет действие и исполняет его через control plane.
// Проверка, исполнение и запись в аудит идут строго последовательно.
func (e *Executor) Execute(ctx context.Context, action domain.Action) (*Result, error) {
	start := time.Now()
	result := &Result{Action: action, ExecutedAt: start}
	finish := func(status domain.AuditStatus, err error) (*Result, error) {
		result.Status = status
		result.Err = err
		result.Duration = time.Since(start)
		e.security.AuditTrail(ctx, action, status, err)
		e.actions.WithLabelValues(string(action.ActionType), string(status)).Inc()
		return result, err
	}

	// 1. Проверка kill switch
	if e.killSwitch != nil && e.killSwitch.IsActive() {
		_, reason, _ := e.killSwitch.GetStatus()
		return finish(domain.AuditRejected, fmt.Errorf("%w: %s", ErrKillSwitchActive, reason))
	}

	// 2. Валидация и лимиты
	if err := e.security.ValidateAction(ctx, action); err != nil {
		return finish(domain.AuditRejected, err)
	}

	// 3. Dry-run останавливается после проверки
	if action.DryRun {
		e.log.Info().
			Str("action_id", action.ActionID).
			Str("resource", action.ResourceID).
			Str("type", string(action.ActionType)).
			Msg("Dry-run action validated")
		return finish(domain.AuditValidated, nil)
	}

	// 4. Исполнение с повторами и breaker'ом
	resp, err := e.dispatch(ctx, action)
	if err != nil {
		e.log.Error().Err(err).
			Str("action_id", action.ActionID).
			Str("resource", action.ResourceID).
			Str("type", string(action.ActionType)).
			Msg("Action failed")
		return finish(domain.AuditFailed, err)
	}

	result.Response = resp
	e.log.Info().
		Str("action_id", action.ActionID).
		Str("resource", action.ResourceID).
		Str("type", string(action.ActionType)).
		Str("reference", resp.Reference).
		Msg("Action executed")
	return finish(domain.AuditExecuted, nil)
}

// ExecuteAll исполняет действия в порядке приоритета. Ошибка одного
// действия не останавливает остальные, отмена контекста останавливает.
func (e *Executor) ExecuteAll(ctx context.Context, actions []domain.Action) []*Result {
	ordered := append([]domain.Action(nil), actions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	results := make([]*Result, 0, len(ordered))
	for _, a := range ordered {
		if ctx.Err() != nil {
			e.log.Warn().Int("skipped", len(ordered)-len(results)).Msg("Context canceled, remaining actions skipped")
			break
		}
		res, _ := e.Execute(ctx, a)
		results = append(results, res)
	}
	return results
}

// dispatch переводит действие в вызов control plane
func (e *Executor) dispatch(ctx context.Context, action domain.Action) (*lnd.Result, error) {
	resource := action.ResourceID

	switch action.ActionType {
	case domain.ActionFeeUpdate:
		params, ok := action.ParamFees()
		if !ok {
			return nil, fmt.Errorf("fee_update %s: malformed fee parameters", action.ActionID)
		}
		fees := make(map[string]lnd.FeePolicy, len(params))
		for channelID, fee := range params {
			fees[channelID] = lnd.FeePolicy{
				BaseFeeMsat: int64(math.Round(fee.BaseFeeMsat)),
				FeeRatePPM:  int64(math.Round(fee.FeeRatePPM)),
			}
		}
		return resilience.Do(ctx, e.retrier(lnd.CallUpdateFees, resource), func(ctx context.Context) (*lnd.Result, error) {
			return e.controlPlane.UpdateChannelFees(ctx, resource, fees)
		})

	case domain.ActionRebalance:
		source, _ := action.ParamString(domain.ParamSourceChannel)
		dest, _ := action.ParamString(domain.ParamDestChannel)
		amount, _ := action.ParamFloat(domain.ParamAmount)
		legs := []lnd.RebalanceLeg{{SourceChannel: source, DestChannel: dest, AmountSat: int64(amount)}}
		return resilience.Do(ctx, e.retrier(lnd.CallRebalance, resource), func(ctx context.Context) (*lnd.Result, error) {
			return e.controlPlane.RebalanceChannels(ctx, resource, legs)
		})

	case domain.ActionChannelOpen:
		peer, _ := action.ParamString(domain.ParamPeer)
		amount, _ := action.ParamFloat(domain.ParamAmount)
		return resilience.Do(ctx, e.retrier(lnd.CallOpenChannel, resource), func(ctx context.Context) (*lnd.Result, error) {
			return e.controlPlane.OpenChannel(ctx, resource, peer, int64(amount))
		})

	case domain.ActionChannelClose:
		channelID, _ := action.ParamString(domain.ParamChannelID)
		return resilience.Do(ctx, e.retrier(lnd.CallCloseChannel, resource), func(ctx context.Context) (*lnd.Result, error) {
			return e.controlPlane.CloseChannel(ctx, resource, channelID)
		})

	default:
		return nil, fmt.Errorf("unknown action type: %s", action.ActionType)
	}
}
