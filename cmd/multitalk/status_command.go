package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"multitalk/internal/daemon"
	"multitalk/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := daemon.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, health)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Join(renderHealth(health, shouldColorize(out), time.Now()), "\n"))
			return nil
		},
	}
}

func renderHealth(health daemon.Health, colorize bool, now time.Time) []string {
	lines := renderSectionHeader("Daemon", colorize)
	if health.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, "running "+health.Version, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}

	db := health.Database
	if db.Reachable {
		lines = append(lines, renderStatusLine("Database", statusOK, fmt.Sprintf("%s schema %s", db.Dialect, orDash(db.SchemaVersion)), colorize))
	} else {
		lines = append(lines, renderStatusLine("Database", statusError, orDash(db.Error), colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Replenish", colorize)...)
	if len(health.NextReplenish) == 0 {
		lines = append(lines, renderStatusLine("Scheduler", statusInfo, "disabled", colorize))
	}
	for _, firing := range health.NextReplenish {
		message := fmt.Sprintf("next %s (in %s)", formatTime(firing.Next), firing.Next.Sub(now).Round(time.Minute))
		kind := statusInfo
		if report, ok := health.LastReplenish[firing.Plan]; ok {
			message += fmt.Sprintf("; last %d/%d", report.Replenished, report.Matched)
			kind = statusOK
			if report.Failed > 0 {
				kind = statusWarn
			}
		}
		lines = append(lines, renderStatusLine(planTitle(firing.Plan), kind, message, colorize))
	}

	if len(health.Jobs) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Jobs", colorize)...)
		for _, status := range []store.JobStatus{store.JobStatusProcessing, store.JobStatusCompleted, store.JobStatusFailed} {
			lines = append(lines, renderStatusLine(string(status), statusInfo, strconv.Itoa(health.Jobs[status]), colorize))
		}
	}
	return lines
}
