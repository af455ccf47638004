package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaymill/conveyor/store/sqlite"
)

func newRootCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:           "conveyorctl",
		Short:         "Durable background job queue over a SQLite file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "conveyor.db", "path to the queue database")

	cmd.AddCommand(
		newEnqueueCmd(&dbPath),
		newListCmd(&dbPath),
		newCountCmd(&dbPath),
		newCancelCmd(&dbPath),
		newReplayCmd(&dbPath),
		newWorkCmd(&dbPath),
	)
	return cmd
}

// openStore opens the SQLite store and runs migrations so every command
// works against a fresh file.
func openStore(cmd *cobra.Command, path string) (*sqlite.Store, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := sqlite.Open(path, sqlite.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
