package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/pkg/client"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/spf13/cobra"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect a single publish job",
	}
	jobCmd.AddCommand(newJobGetCommand(ctx))
	jobCmd.AddCommand(newJobEventsCommand(ctx))
	jobCmd.AddCommand(newJobWaitCommand(ctx))
	return jobCmd
}

func newJobGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *client.Client) error {
				job, err := c.GetJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				renderJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
}

func newJobEventsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "events <job-id>",
		Short: "Show every signal a job has received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *client.Client) error {
				events, err := c.Events(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, events)
				}
				rows := make([][]string, 0, len(events))
				for _, e := range events {
					errCol := ""
					if e.ErrorCode != nil {
						errCol = string(*e.ErrorCode)
					}
					rows = append(rows, []string{
						strconv.FormatInt(e.Seq, 10),
						strconv.Itoa(e.Attempt),
						e.CreatedAt.Format(time.RFC3339),
						string(e.Status),
						strconv.Itoa(e.Progress) + "%",
						errCol,
						deref(e.Message),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Seq", "Attempt", "At", "Status", "Progress", "Error", "Message"}, rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newJobWaitCommand(ctx *commandContext) *cobra.Command {
	var interval, timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Poll a job until it is live, failed or cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *client.Client) error {
				return waitAndReport(cmd, ctx, c, id, interval, timeout)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}

// waitAndReport prints one line per observed change and fails the command
// unless the job ends live.
func waitAndReport(cmd *cobra.Command, ctx *commandContext, c *client.Client, id uuid.UUID, interval, timeout time.Duration) error {
	wctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, timeout)
		defer cancel()
	}
	var onChange func(*models.PublishJob)
	if !ctx.jsonOutput() {
		onChange = func(j *models.PublishJob) { fmt.Fprintln(cmd.OutOrStdout(), progressLine(j)) }
	}
	job, err := c.WaitForJob(wctx, id, interval, onChange)
	if err != nil {
		return fmt.Errorf("waiting for job %s: %w", id, err)
	}
	if ctx.jsonOutput() {
		if err := writeJSON(cmd, job); err != nil {
			return err
		}
	}
	if job.Status != models.JobStatusLive {
		return fmt.Errorf("job %s ended %s", id, job.Status)
	}
	return nil
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var platformFlag, clientFlag string
	var page, limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List publish jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := parseOptionalID("client", clientFlag)
			if err != nil {
				return err
			}
			opts := client.ListOptions{
				ClientID: clientID,
				Platform: models.Platform(strings.TrimSpace(platformFlag)),
				Page:     page,
				Limit:    limit,
			}
			for _, s := range statuses {
				for _, part := range strings.Split(s, ",") {
					if part = strings.TrimSpace(part); part != "" {
						opts.Statuses = append(opts.Statuses, models.JobStatus(part))
					}
				}
			}
			return ctx.withClient(func(c *client.Client) error {
				jobs, meta, err := c.ListJobs(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"data": jobs, "meta": meta})
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(jobHeaders, jobRows(jobs), jobAligns))
				fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d of %d\n", meta.Page, len(jobs), meta.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable or comma-separated)")
	cmd.Flags().StringVar(&platformFlag, "platform", "", "Filter by platform")
	cmd.Flags().StringVar(&clientFlag, "client", "", "Client id (admin keys only)")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size (max 100)")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var idemKey string
	var wait bool
	cmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Retry a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *client.Client) error {
				job, err := c.Retry(cmd.Context(), id, idemKey)
				if err != nil {
					return err
				}
				return reportSubmitted(cmd, ctx, c, job, wait)
			})
		},
	}
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "Replay-safe request key")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job to finish")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or uploading job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *client.Client) error {
				job, err := c.Cancel(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", job.ID, job.Status)
				return nil
			})
		},
	}
}

func reportSubmitted(cmd *cobra.Command, ctx *commandContext, c *client.Client, job *models.PublishJob, wait bool) error {
	if !wait || job.Status.Terminal() {
		if ctx.jsonOutput() {
			return writeJSON(cmd, job)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s (attempt %d)\n", job.ID, job.Status, job.AttemptCount)
		if job.ErrorCode != nil {
			return fmt.Errorf("job %s failed: %s: %s", job.ID, *job.ErrorCode, deref(job.ErrorMessage))
		}
		return nil
	}
	return waitAndReport(cmd, ctx, c, job.ID, 2*time.Second, 0)
}
