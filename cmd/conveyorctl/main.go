// conveyorctl is a command-line front end for a conveyor queue stored in
// a local SQLite file: enqueue jobs, inspect and cancel them, and run a
// worker pool that executes shell-command jobs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
