package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"agent-queue/internal/config"
	"agent-queue/internal/entity"
	"agent-queue/internal/repository"
	"agent-queue/internal/service"
)

// app holds what every subcommand shares. svc is opened on first use.
type app struct {
	svc     *service.QueueService
	out     io.Writer
	closeFn func()
}

func (a *app) open(cmd *cobra.Command) error {
	if a.svc != nil {
		return nil
	}
	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}
	store, closeStore, err := repository.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	a.closeFn = closeStore
	a.svc = service.NewQueueService(store, service.Options{
		Policy:       cfg.Lease,
		Retry:        cfg.RetryPolicy(),
		Router:       cfg.Router(),
		StoreTimeout: cfg.Store.Timeout,
	})
	return nil
}

func (a *app) close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Operate the agent job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}

	root.AddCommand(submitCmd(a))
	root.AddCommand(getCmd(a))
	root.AddCommand(listCmd(a))
	root.AddCommand(eventsCmd(a))
	root.AddCommand(cancelCmd(a))
	root.AddCommand(sweepCmd(a))
	return root
}

func submitCmd(a *app) *cobra.Command {
	var (
		jobType     string
		priority    int
		maxAttempts int
		file        string
	)
	cmd := &cobra.Command{
		Use:   "submit [payload-json]",
		Short: "Submit a job; the payload is read from the argument, --file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			switch {
			case len(args) == 1:
				raw = []byte(args[0])
			case file != "":
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				raw = b
			default:
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				raw = b
			}

			job, err := a.svc.Submit(cmd.Context(), service.SubmitRequest{
				Type:        jobType,
				Priority:    priority,
				MaxAttempts: maxAttempts,
				Payload:     raw,
			})
			if err != nil {
				return err
			}
			return a.printJSON(job)
		},
	}
	cmd.Flags().StringVarP(&jobType, "type", "t", service.JobTypeTask, "job type")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "higher runs first")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt budget (default from lease policy)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from a file")
	return cmd
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			job, err := a.svc.GetJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printJSON(job)
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var f service.ListFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = entity.JobStatus(status)
			jobs, err := a.svc.ListJobs(cmd.Context(), f)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tQUEUE\tSTATUS\tPRIORITY\tATTEMPTS\tCLAIMED BY\tCREATED")
			for _, j := range jobs {
				claimedBy := "-"
				if j.ClaimedBy != nil {
					claimedBy = *j.ClaimedBy
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
					j.ID, j.Type, j.QueueName, j.Status, j.Priority, j.AttemptCount, j.MaxAttempts,
					claimedBy, j.CreatedAt.Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status")
	cmd.Flags().StringVar(&f.Type, "type", "", "filter by job type")
	cmd.Flags().StringVarP(&f.Queue, "queue", "q", "", "filter by queue")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", service.DefaultListLimit, "max rows")
	return cmd
}

func eventsCmd(a *app) *cobra.Command {
	var (
		after string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "events <job-id>",
		Short: "Show a job's lifecycle events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			var since time.Time
			if after != "" {
				if since, err = time.Parse(time.RFC3339Nano, after); err != nil {
					return fmt.Errorf("invalid --after: %w", err)
				}
			}

			events, err := a.svc.ListEvents(cmd.Context(), id, since, limit)
			if err != nil {
				return err
			}
			for _, ev := range events {
				line := fmt.Sprintf("%s %-5s %s", ev.CreatedAt.Format(time.RFC3339Nano), ev.Level, ev.Message)
				if len(ev.Payload) > 0 {
					line += " " + strings.TrimSpace(string(ev.Payload))
				}
				fmt.Fprintln(a.out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "only events after this RFC3339 time")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max events (default 200)")
	return cmd
}

func cancelCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or retrying job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			job, err := a.svc.Cancel(cmd.Context(), id, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Job %s cancelled.\n", job.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "cancelled by operator", "recorded on the job")
	return cmd
}

func sweepCmd(a *app) *cobra.Command {
	var queue string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim jobs whose lease has expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.svc.SweepExpired(cmd.Context(), queue)
			if err != nil {
				return err
			}
			requeued, failed := 0, 0
			for _, j := range jobs {
				if j.Status == entity.StatusFailed {
					failed++
				} else {
					requeued++
				}
			}
			fmt.Fprintf(a.out, "requeued=%d failed=%d\n", requeued, failed)
			return nil
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "only this queue (default: all)")
	return cmd
}
