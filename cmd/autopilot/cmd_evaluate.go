package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/kirillm/ln-autopilot/internal/orchestrator"
)

type evaluateOptions struct {
	dryRun      bool
	resources   []string
	showMetrics bool
}

func newEvaluateCommand(opts *globalOptions) *cobra.Command {
	eo := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run a single reconciliation cycle and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}

			mode := orchestrator.Mode(cfg.Mode)
			if eo.dryRun {
				mode = orchestrator.ModeShadow
			}

			ctx := commandContext(cmd)
			a, err := newApp(ctx, cfg, mode, log)
			if err != nil {
				return err
			}
			defer a.Close()

			var report *orchestrator.CycleReport
			if len(eo.resources) > 0 {
				report, err = a.orch.RunCycleFor(ctx, eo.resources)
			} else {
				report, err = a.orch.RunCycle(ctx)
			}
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), mode, report)
			if eo.showMetrics {
				return printMetrics(cmd.OutOrStdout(), a.registry)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&eo.dryRun, "dry-run", false, "Validate and audit actions without calling the node")
	cmd.Flags().StringSliceVar(&eo.resources, "resource", nil, "Evaluate only these resources (repeatable)")
	cmd.Flags().BoolVar(&eo.showMetrics, "show-metrics", false, "Print collected counters after the cycle")

	return cmd
}

func printReport(w io.Writer, mode orchestrator.Mode, r *orchestrator.CycleReport) {
	fmt.Fprintf(w, "Cycle %s (%s mode, %s)\n\n", r.StartedAt.UTC().Format("2006-01-02 15:04:05"), mode, r.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tPROFILE\tSCORE\tACTION\tPRIORITY\tSTATUS\tDETAIL")
	for _, res := range r.Resources {
		if res.Err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\terror\t%v\n", res.ResourceID, res.Err)
			continue
		}
		if len(res.Results) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t%.1f\t-\t-\t-\t%s\n", res.ResourceID, res.Profile, res.Score, res.Recommendation)
			continue
		}
		for _, result := range res.Results {
			detail := result.Action.ActionID
			if result.Err != nil {
				detail = result.Err.Error()
			}
			fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\t%d\t%s\t%s\n",
				res.ResourceID, res.Profile, res.Score,
				result.Action.ActionType, result.Action.Priority, result.Status, detail)
		}
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nactions=%d executed=%d validated=%d rejected=%d failed=%d errors=%d\n",
		r.Actions, r.Executed, r.Validated, r.Rejected, r.Failed, r.Errors)
}

// printMetrics выводит ненулевые серии реестра в текстовом формате Prometheus
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "\nMetrics:")
	for _, mf := range families {
		kept := make([]*dto.Metric, 0, len(mf.GetMetric()))
		for _, m := range mf.GetMetric() {
			if isZeroSample(mf.GetType(), m) {
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			continue
		}

		filtered := &dto.MetricFamily{Name: mf.Name, Help: mf.Help, Type: mf.Type, Metric: kept}
		if _, err := expfmt.MetricFamilyToText(w, filtered); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func isZeroSample(t dto.MetricType, m *dto.Metric) bool {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue() == 0
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue() == 0
	case dto.MetricType_HISTOGRAM:
		return m.GetHistogram().GetSampleCount() == 0
	case dto.MetricType_SUMMARY:
		return m.GetSummary().GetSampleCount() == 0
	default:
		return false
	}
}
