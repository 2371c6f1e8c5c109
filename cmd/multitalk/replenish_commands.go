package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"multitalk/internal/config"
	"multitalk/internal/daemon"
	"multitalk/internal/store"
)

func newReplenishCommand(ctx *commandContext) *cobra.Command {
	replenishCmd := &cobra.Command{
		Use:   "replenish",
		Short: "Inspect and run credit replenish rules",
	}
	replenishCmd.AddCommand(newReplenishRulesCommand(ctx))
	replenishCmd.AddCommand(newReplenishRunCommand(ctx))
	return replenishCmd
}

type ruleView struct {
	Plan          store.Plan `json:"plan"`
	Cadence       string     `json:"cadence"`
	TargetBalance int64      `json:"targetBalance"`
	Next          time.Time  `json:"next"`
}

func newReplenishRulesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List replenish rules and their next firing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(cfg *config.Config, comps daemon.Components) error {
				location, err := cfg.Location()
				if err != nil {
					return err
				}
				now := time.Now().In(location)
				rules := comps.Scheduler.Rules()
				views := make([]ruleView, 0, len(rules))
				for _, rule := range rules {
					views = append(views, ruleView{Plan: rule.Plan, Cadence: rule.Cadence, TargetBalance: rule.TargetBalance, Next: rule.Next(now)})
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(views))
				for _, view := range views {
					rows = append(rows, []string{planTitle(view.Plan), view.Cadence, formatBalance(view.TargetBalance), view.Next.Format("2006-01-02 15:04 MST")})
				}
				fmt.Fprintln(out, renderTable([]string{"Plan", "Cadence", "Target", "Next"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight}))
				if !cfg.Replenish.Enabled {
					fmt.Fprintln(out, "Scheduled replenish is disabled; rules only run via `multitalk replenish run`.")
				}
				return nil
			})
		},
	}
}

func newReplenishRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <plan>",
		Short: "Run one plan's replenish rule now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := store.ParsePlan(args[0])
			if err != nil {
				return err
			}
			return ctx.withComponents(func(_ *config.Config, comps daemon.Components) error {
				report, err := comps.Scheduler.RunNow(cmd.Context(), plan)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: replenished %d of %d accounts to %s (%d skipped, %d failed) in %s\n",
					planTitle(report.Plan), report.Replenished, report.Matched, formatBalance(report.TargetBalance),
					report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))
				if report.Failed > 0 {
					return fmt.Errorf("%d accounts were not replenished", report.Failed)
				}
				return nil
			})
		},
	}
}
