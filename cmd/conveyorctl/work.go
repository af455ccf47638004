package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaymill/conveyor"
	audithook "github.com/relaymill/conveyor/audit_hook"
	"github.com/relaymill/conveyor/engine"
	"github.com/relaymill/conveyor/job"
	"github.com/relaymill/conveyor/queue"
)

// shellPayload is the payload of the built-in shell-command job type.
type shellPayload struct {
	Command string `json:"command"`
}

func newWorkCmd(dbPath *string) *cobra.Command {
	var (
		queueName string
		workers   int
		timeout   time.Duration
		auditPath string
	)

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run a worker pool until interrupted",
		Long: `Runs workers against the queue, executing "shell-command" jobs whose
payload is {"command": "..."}. Stops gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			cfg := conveyor.DefaultConfig()
			cfg.JobTimeout = timeout

			engOpts := []engine.Option{
				engine.WithLogger(logger),
				engine.WithConfig(cfg),
				engine.WithQueue(queue.Config{Name: queueName, WorkerCount: workers}),
			}
			if auditPath != "" {
				f, openErr := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if openErr != nil {
					return fmt.Errorf("open audit log: %w", openErr)
				}
				defer f.Close()
				engOpts = append(engOpts, engine.WithHook(audithook.New(audithook.NewWriterRecorder(f))))
			}

			eng, err := engine.New(st, engOpts...)
			if err != nil {
				return err
			}

			shell := job.NewDefinition("shell-command",
				func(ctx context.Context, p shellPayload) error {
					if p.Command == "" {
						return fmt.Errorf("empty command")
					}
					c := exec.CommandContext(ctx, "sh", "-c", p.Command)
					out, runErr := c.CombinedOutput()
					if len(out) > 0 {
						fmt.Print(string(out))
					}
					return runErr
				},
				job.WithQueue(queueName),
			)
			engine.Register(eng, shell)

			fmt.Printf("running %d workers on queue %q (pid %d)\n", workers, queueName, os.Getpid())

			ctx, stop := conveyor.ShutdownContext(cmd.Context())
			defer stop()
			return eng.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&queueName, "queue", "default", "queue to work")
	cmd.Flags().IntVar(&workers, "workers", 2, "number of worker goroutines")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-job execution window")
	cmd.Flags().StringVar(&auditPath, "audit-log", "", "append a JSON-lines audit trail to this file")
	return cmd
}
