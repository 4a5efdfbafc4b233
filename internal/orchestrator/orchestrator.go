package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/decision"
	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/execution"
	"github.com/kirillm/ln-autopilot/internal/lnd"
	"github.com/kirillm/ln-autopilot/internal/policy"
	"github.com/kirillm/ln-autopilot/internal/resilience"
	"github.com/kirillm/ln-autopilot/internal/scoring"
	"github.com/kirillm/ln-autopilot/internal/storage"
)

// Mode режим работы orchestrator
type Mode string

const (
	ModeShadow Mode = config.ModeShadow // решения проверяются, но не исполняются
	ModeLive   Mode = config.ModeLive
)

// PurgeSchedule расписание очистки истекших записей хранилища
const PurgeSchedule = "@hourly"

var ErrAlreadyRunning = errors.New("orchestrator already running")

// Notifier получатель оповещений оператору
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Deps компоненты, которые orchestrator связывает в цикл
type Deps struct {
	Source     lnd.Source
	Evaluator  *scoring.Evaluator
	Engine     *decision.Engine
	Executor   *execution.Executor
	Security   *policy.Manager
	Breakers   *resilience.BreakerRegistry
	KillSwitch *execution.KillSwitch
	Store      storage.Store
	Notifier   Notifier
}

// Config конфигурация orchestrator
type Config struct {
	Mode        Mode
	Interval    time.Duration // Интервал цикла (15m по умолчанию)
	Concurrency int           // Сколько ресурсов обрабатывается параллельно
}

// Orchestrator координатор цикла наблюдение → оценка → решение → исполнение
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	alerts  sync.WaitGroup

	reportMu sync.RWMutex
	last     *CycleReport
}

// New создает orchestrator. В shadow режиме все действия помечаются dry-run.
func New(cfg Config, deps Deps, log zerolog.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeShadow
	}

	o := &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("component", "orchestrator").Logger(),
	}

	if cfg.Mode == ModeShadow {
		deps.Engine.ForceDryRun(true)
	}
	if deps.Breakers != nil {
		deps.Breakers.OnStateChange(o.onBreakerChange)
	}
	if deps.KillSwitch != nil {
		deps.KillSwitch.OnChange(o.onKillSwitchChange)
	}

	return o
}

// Mode текущий режим
func (o *Orchestrator) Mode() Mode {
	return o.cfg.Mode
}

// IsRunning проверяет запущен ли планировщик
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// LastReport отчет последнего завершенного цикла (nil до первого)
func (o *Orchestrator) LastReport() *CycleReport {
	o.reportMu.RLock()
	defer o.reportMu.RUnlock()
	return o.last
}

// Start запускает циклы по расписанию и сразу выполняет первый
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := cronLogger{log: o.log}
	c := cron.New(cron.WithChain(cron.Recover(logger)), cron.WithLogger(logger))

	schedule := fmt.Sprintf("@every %s", o.cfg.Interval)
	if _, err := c.AddFunc(schedule, func() { o.scheduledCycle(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid cycle interval %s: %w", o.cfg.Interval, err)
	}
	if purger, ok := o.deps.Store.(storage.Purger); ok {
		if _, err := c.AddFunc(PurgeSchedule, func() { o.purge(ctx, purger) }); err != nil {
			cancel()
			return err
		}
	}

	o.cron = c
	o.cancel = cancel
	o.running = true
	c.Start()

	o.log.Info().
		Str("mode", string(o.cfg.Mode)).
		Dur("interval", o.cfg.Interval).
		Int("concurrency", o.cfg.Concurrency).
		Msg("Orchestrator started")

	// Первый цикл сразу после старта
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.scheduledCycle(ctx)
	}()

	return nil
}

// Stop останавливает планировщик и ждет текущий цикл
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	c, cancel := o.cron, o.cancel
	o.mu.Unlock()

	o.log.Info().Msg("Stopping orchestrator...")
	cancel()
	<-c.Stop().Done()
	o.wg.Wait()
	o.alerts.Wait()
	o.log.Info().Msg("Orchestrator stopped")
}

// scheduledCycle пропускает тик, если предыдущий цикл еще идет
func (o *Orchestrator) scheduledCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !o.cycleMu.TryLock() {
		o.log.Warn().Msg("Previous cycle still running, tick skipped")
		return
	}
	defer o.cycleMu.Unlock()

	if _, err := o.runCycle(ctx, nil); err != nil {
		o.log.Error().Err(err).Msg("Cycle failed")
	}
}

// RunCycle выполняет один цикл по всем ресурсам
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	return o.runCycle(ctx, nil)
}

// RunCycleFor выполняет цикл только по указанным ресурсам
func (o *Orchestrator) RunCycleFor(ctx context.Context, resources []string) (*CycleReport, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	return o.runCycle(ctx, resources)
}

func (o *Orchestrator) runCycle(ctx context.Context, resources []string) (*CycleReport, error) {
	started := time.Now()

	if len(resources) == 0 {
		var err error
		resources, err = o.deps.Source.Resources(ctx)
		if err != nil {
			return nil, fmt.Errorf("list resources: %w", err)
		}
	}

	o.log.Debug().Int("resources", len(resources)).Str("mode", string(o.cfg.Mode)).Msg("Starting cycle")

	reports := make([]ResourceReport, len(resources))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, id := range resources {
		i, id := i, id
		g.Go(func() error {
			reports[i] = o.processResource(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	report := newCycleReport(started, time.Since(started), reports)
	o.reportMu.Lock()
	o.last = report
	o.reportMu.Unlock()

	o.log.Info().
		Int("resources", len(report.Resources)).
		Int("actions", report.Actions).
		Int("executed", report.Executed).
		Int("validated", report.Validated).
		Int("rejected", report.Rejected).
		Int("failed", report.Failed).
		Int("errors", report.Errors).
		Dur("duration", report.Duration).
		Msg("Cycle complete")

	return report, ctx.Err()
}

// processResource наблюдение → оценка → решение → исполнение для одного ресурса
func (o *Orchestrator) processResource(ctx context.Context, resourceID string) ResourceReport {
	report := ResourceReport{ResourceID: resourceID}
	log := o.log.With().Str("resource", resourceID).Logger()

	snap, err := o.deps.Source.Snapshot(ctx, resourceID)
	if err != nil {
		log.Error().Err(err).Msg("Snapshot failed, resource skipped")
		report.Err = err
		return report
	}

	eval := o.deps.Evaluator.Evaluate(*snap)
	report.Profile = eval.Profile
	report.Score = eval.CompositeScore
	report.Recommendation = eval.Recommendation

	actions := o.deps.Engine.ApplyRecommendations(eval, *snap)
	if len(actions) == 0 {
		log.Debug().Str("profile", string(eval.Profile)).Msg("No actions")
		return report
	}

	report.Results = o.deps.Executor.ExecuteAll(ctx, actions)
	return report
}

// ApplyPolicy применяет перечитанную политику ко всем компонентам
func (o *Orchestrator) ApplyPolicy(p *config.Policy) {
	o.deps.Security.UpdatePolicy(p)
	o.deps.Engine.UpdatePolicy(p.Decision)
	o.deps.Breakers.Configure(p.Breaker)
	o.deps.Executor.UpdateRetryConfig(resilience.RetryConfigFromPolicy(p.Retry))
	o.deps.KillSwitch.Sync(p.Halt, p.HaltReason)

	o.log.Info().Str("profile", p.ProfileName).Bool("halt", p.Halt).Msg("Policy applied")
}

func (o *Orchestrator) purge(ctx context.Context, purger storage.Purger) {
	n, err := purger.Purge(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("Store purge failed")
		return
	}
	o.log.Debug().Int64("removed", n).Msg("Expired store entries purged")
}

func (o *Orchestrator) onBreakerChange(name string, from, to domain.CircuitState) {
	o.recordBreakerEvent(name, from, to)
	if to != domain.CircuitOpen {
		return
	}
	o.alert(fmt.Sprintf("🔴 Circuit %s opened (was %s), calls fail fast until cool-down", name, from))
}

func (o *Orchestrator) onKillSwitchChange(active bool, reason string) {
	if active {
		o.alert(fmt.Sprintf("🛑 Kill switch activated: %s", reason))
		return
	}
	o.alert("✅ Kill switch deactivated, execution resumed")
}

// alert отправляет оповещение в фоне, не блокируя исполнение
func (o *Orchestrator) alert(text string) {
	if o.deps.Notifier == nil {
		return
	}
	o.alerts.Add(1)
	go func() {
		defer o.alerts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.deps.Notifier.Notify(ctx, text); err != nil {
			o.log.Warn().Err(err).Msg("Alert delivery failed")
		}
	}()
}

// WaitAlerts ждет доставки отправленных оповещений
func (o *Orchestrator) WaitAlerts() {
	o.alerts.Wait()
}

// cronLogger адаптер zerolog для cron.Logger
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
