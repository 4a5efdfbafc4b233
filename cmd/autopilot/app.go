package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/decision"
	"github.com/kirillm/ln-autopilot/internal/execution"
	"github.com/kirillm/ln-autopilot/internal/lnd"
	"github.com/kirillm/ln-autopilot/internal/orchestrator"
	"github.com/kirillm/ln-autopilot/internal/policy"
	"github.com/kirillm/ln-autopilot/internal/resilience"
	"github.com/kirillm/ln-autopilot/internal/scoring"
	"github.com/kirillm/ln-autopilot/internal/storage"
	"github.com/kirillm/ln-autopilot/internal/telegram"
)

// app собранные компоненты автопилота
type app struct {
	cfg      *config.Config
	policy   *config.Policy
	log      zerolog.Logger
	registry *prometheus.Registry

	store    storage.Store
	security *policy.Manager
	breakers *resilience.BreakerRegistry
	kill     *execution.KillSwitch
	orch     *orchestrator.Orchestrator
	bot      *telegram.Bot
}

// newApp связывает компоненты. mode переопределяет режим из конфигурации.
func newApp(ctx context.Context, cfg *config.Config, mode orchestrator.Mode, log zerolog.Logger) (*app, error) {
	pol, err := config.LoadPolicy(cfg.PolicyPath, cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := resilience.NewMetrics(registry)

	security := policy.NewManager(pol, store, log, registry)
	breakers := resilience.NewBreakerRegistry(pol.Breaker)
	breakers.OnStateChange(metrics.ObserveTransition)
	kill := execution.NewKillSwitch(log)

	retryCfg := resilience.RetryConfigFromPolicy(pol.Retry)
	client := lnd.NewClient(cfg.LND)
	snapshots := resilience.NewRetrier(lnd.CallSnapshot, retryCfg, metrics, log).
		WithBreaker(breakers.Get(lnd.CallSnapshot, ""))
	source := lnd.NewFailoverSource(client, snapshots, log)

	executor := execution.NewExecutor(client, security, kill, breakers, retryCfg, metrics, registry, log)

	a := &app{
		cfg:      cfg,
		policy:   pol,
		log:      log,
		registry: registry,
		store:    store,
		security: security,
		breakers: breakers,
		kill:     kill,
	}

	var notifier orchestrator.Notifier = telegram.NopNotifier{}
	controller := &botController{app: a}
	if cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewBot(cfg.Telegram, controller, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.bot = bot
		notifier = bot
	}

	a.orch = orchestrator.New(orchestrator.Config{
		Mode:        mode,
		Interval:    cfg.Interval,
		Concurrency: cfg.Concurrency,
	}, orchestrator.Deps{
		Source:     source,
		Evaluator:  scoring.NewEvaluator(pol.Scoring),
		Engine:     decision.NewEngine(pol.Decision, log),
		Executor:   executor,
		Security:   security,
		Breakers:   breakers,
		KillSwitch: kill,
		Store:      store,
		Notifier:   notifier,
	}, log)

	// halt из файла политики действует с первого цикла
	kill.Sync(pol.Halt, pol.HaltReason)

	return a, nil
}

// Close освобождает хранилище
func (a *app) Close() {
	a.orch.WaitAlerts()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close store")
	}
}

// botController отдает состояние автопилота в Telegram
type botController struct {
	app *app
}

func (c *botController) Status() telegram.Status {
	active, reason, _ := c.app.kill.GetStatus()
	s := telegram.Status{
		Mode:       string(c.app.orch.Mode()),
		Halted:     active,
		HaltReason: reason,
	}
	if r := c.app.orch.LastReport(); r != nil {
		s.LastCycle = r.StartedAt
		s.Resources = len(r.Resources)
		s.Actions = r.Actions
		s.Executed = r.Executed
		s.Rejected = r.Rejected
		s.Failed = r.Failed
	}
	return s
}

func (c *botController) Breakers() []resilience.BreakerStatus {
	return c.app.breakers.States()
}

func (c *botController) Halt(reason string) {
	c.app.kill.Activate(reason)
}

func (c *botController) Resume() {
	c.app.kill.Deactivate()
}
