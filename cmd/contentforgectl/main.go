// Command contentforgectl is the operator CLI for the content pipeline:
// trigger, advance, run-stage-1, run-full, run-from-stage, cancel,
// status, job-cancel, job-retry, each calling the same command.Service
// the HTTP surface calls into so the two surfaces never drift in
// behavior.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "contentforgectl",
		Short: "Operate the content production pipeline",
	}
	root.PersistentFlags().String("config", "", "path to the configuration file")

	root.AddCommand(
		newTriggerCommand(),
		newAdvanceCommand(),
		newRunStage1Command(),
		newRunFullCommand(),
		newRunFromStageCommand(),
		newCancelCommand(),
		newStatusCommand(),
		newJobCancelCommand(),
		newJobRetryCommand(),
	)
	return root
}
