package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/orchestrator"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the reconciliation loop until interrupted",
		Long: `Run starts the scheduler: one cycle immediately, then one per
CYCLE_INTERVAL. The policy file is watched and reloaded on change.
AUTOPILOT_MODE=shadow validates and audits actions without calling the node.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, orchestrator.Mode(cfg.Mode), log)
			if err != nil {
				return err
			}
			defer a.Close()

			go func() {
				if err := config.WatchPolicy(ctx, cfg.PolicyPath, cfg.Profile, log, a.orch.ApplyPolicy); err != nil {
					log.Warn().Err(err).Str("path", cfg.PolicyPath).Msg("Policy hot reload disabled")
				}
			}()

			if a.bot != nil {
				go a.bot.Start(ctx)
			}

			if err := a.orch.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			log.Info().Msg("Shutdown signal received")
			a.orch.Stop()
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
