package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
)

func newEnqueueCmd(dbPath *string) *cobra.Command {
	var (
		queueName   string
		payload     string
		uniqueKey   string
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <job-name>",
		Short: "Add a job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			now := time.Now().UTC()
			j := &job.Job{
				Entity:         conveyor.NewEntity(),
				ID:             id.NewJobID(),
				Name:           args[0],
				Queue:          queueName,
				UniqueKey:      uniqueKey,
				State:          job.StateScheduled,
				CurrentAttempt: 1,
				MaxAttempts:    maxAttempts,
				Payload:        []byte(payload),
				ScheduledAt:    now,
				AttemptRunAt:   now,
			}
			if err := st.EnqueueJob(cmd.Context(), j); err != nil {
				return err
			}
			fmt.Println("enqueued:", j.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&queueName, "queue", "default", "queue name")
	cmd.Flags().StringVar(&payload, "payload", "{}", "job payload (JSON)")
	cmd.Flags().StringVar(&uniqueKey, "unique-key", "", "dedup key; enqueue fails while a job with this key is active")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 3, "attempt budget before the job is marked dead")
	return cmd
}

func newListCmd(dbPath *string) *cobra.Command {
	var (
		state     string
		queueName string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.ListJobsByState(cmd.Context(), job.State(state), job.ListOpts{
				Queue: queueName,
				Limit: limit,
			})
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs found")
				return nil
			}

			for _, j := range jobs {
				line := fmt.Sprintf("%s  %-12s  %-20s  queue=%s  attempt=%d/%d  created %s",
					j.ID, j.State, j.Name, j.Queue,
					j.CurrentAttempt, j.MaxAttempts,
					humanize.Time(j.CreatedAt),
				)
				if j.LastError != "" {
					line += fmt.Sprintf("  error=%q", j.LastError)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", string(job.StateScheduled), "job state to list")
	cmd.Flags().StringVar(&queueName, "queue", "", "filter by queue")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to show")
	return cmd
}

func newCountCmd(dbPath *string) *cobra.Command {
	var (
		state     string
		queueName string
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.CountJobs(cmd.Context(), job.CountOpts{
				Queue: queueName,
				State: job.State(state),
			})
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	cmd.Flags().StringVar(&queueName, "queue", "", "filter by queue")
	return cmd
}

func newCancelCmd(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel an active job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}

			st, err := openStore(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.CancelJob(cmd.Context(), jobID); err != nil {
				return err
			}
			fmt.Println("cancelled:", jobID)
			return nil
		},
	}
	return cmd
}
