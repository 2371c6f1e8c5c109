package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"multitalk/internal/config"
	"multitalk/internal/daemon"
	"multitalk/internal/store"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect generation jobs",
	}
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	return jobCmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps daemon.Components) error {
				job, err := comps.Jobs.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job:         %s\n", job.ID)
				fmt.Fprintf(out, "Account:     %s\n", job.AccountID)
				fmt.Fprintf(out, "Status:      %s\n", job.Status)
				fmt.Fprintf(out, "Prompt:      %s\n", job.Request.Prompt)
				fmt.Fprintf(out, "Resolution:  %s\n", job.Request.Resolution)
				fmt.Fprintf(out, "Frames:      %d\n", job.Request.FrameCount)
				fmt.Fprintf(out, "Audio:       %s\n", orDash(job.Request.AudioRef))
				fmt.Fprintf(out, "Image:       %s\n", orDash(job.Request.ImageRef))
				fmt.Fprintf(out, "Artifact:    %s\n", orDash(job.ArtifactRef))
				if job.ErrorDetail != "" {
					fmt.Fprintf(out, "Error:       %s\n", job.ErrorDetail)
				}
				fmt.Fprintf(out, "Created:     %s\n", formatTime(job.CreatedAt))
				fmt.Fprintf(out, "Completed:   %s\n", formatOptionalTime(job.CompletedAt))
				return nil
			})
		},
	}
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	cmd := &cobra.Command{
		Use:   "list <account-id>",
		Short: "List an account's jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]store.JobStatus, 0, len(statusFlags))
			for _, value := range statusFlags {
				statuses = append(statuses, store.JobStatus(value))
			}
			return ctx.withComponents(func(_ *config.Config, comps daemon.Components) error {
				list, err := comps.Jobs.List(cmd.Context(), args[0], statuses...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if list == nil {
						list = []*store.Job{}
					}
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, job := range list {
					rows = append(rows, []string{job.ID, string(job.Status), job.Request.Resolution, fmt.Sprintf("%d", job.Request.FrameCount), formatTime(job.CreatedAt), orDash(job.ArtifactRef)})
				}
				fmt.Fprintln(out, renderTable([]string{"Job", "Status", "Resolution", "Frames", "Created", "Artifact"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statusFlags, "status", nil, "Filter by status (repeatable)")
	return cmd
}
