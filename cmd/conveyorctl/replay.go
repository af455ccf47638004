package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaymill/conveyor/dlq"
	"github.com/relaymill/conveyor/id"
)

func newReplayCmd(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <job-id>",
		Short: "Enqueue a fresh copy of a dead or panicked job",
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

			replayID, err := dlq.NewService(st).Replay(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			fmt.Println("replayed as:", replayID)
			return nil
		},
	}
	return cmd
}
