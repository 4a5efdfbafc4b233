package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/pkg/utils"
)

var version = "dev"

// globalOptions флаги, общие для всех команд
type globalOptions struct {
	debug bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Lightning payment-channel autopilot",
		Long: `autopilot evaluates the health of Lightning nodes, derives fee and
liquidity actions and executes them behind rate limits, validation,
retries and circuit breakers. Every decision is written to an audit trail.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newEvaluateCommand(opts))
	cmd.AddCommand(newAuditCommand(opts))

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

// loadConfig загружает конфигурацию и создает логгер
func loadConfig(opts *globalOptions) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if opts.debug {
		cfg.LogLevel = "debug"
	}

	log := utils.NewLogger(cfg.LogLevel, cfg.LogPretty)
	utils.SetGlobalLogger(log)
	return cfg, log, nil
}
