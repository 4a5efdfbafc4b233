package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/policy"
	"github.com/kirillm/ln-autopilot/internal/storage"
)

func newAuditCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "audit <action-id>",
		Short: "Print the audit trail of an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			store, err := storage.Open(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer store.Close()

			pol, err := config.LoadPolicy(cfg.PolicyPath, cfg.Profile)
			if err != nil {
				return err
			}

			entries, err := policy.NewManager(pol, store, log, nil).AuditHistory(ctx, args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no audit entries for action %s", args[0])
			}

			return printAudit(cmd.OutOrStdout(), entries, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON entries")
	return cmd
}

func printAudit(w io.Writer, entries []domain.AuditEntry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	first := entries[0]
	fmt.Fprintf(w, "Action %s (%s on %s)\n", first.ActionID, first.ActionType, first.ResourceID)
	for _, e := range entries {
		line := fmt.Sprintf("  %s  %-9s", e.Timestamp.UTC().Format("2006-01-02 15:04:05"), e.Status)
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
