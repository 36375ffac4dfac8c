package main

import (
	"github.com/spf13/cobra"

	"github.com/ataxco/contentforge/internal/command"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
)

func newJobCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "job-cancel <job-id>",
		Short: "Cancel a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := jobIDArg(args)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *command.Service, dc dbctx.Context) error {
				return svc.JobCancel(dc, jobID)
			})
		},
	}
}

func newJobRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "job-retry <job-id>",
		Short: "Reset a failed job back to queued, ignoring its retry backoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := jobIDArg(args)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *command.Service, dc dbctx.Context) error {
				return svc.JobRetry(dc, jobID)
			})
		},
	}
}
