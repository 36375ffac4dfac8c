package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ataxco/contentforge/internal/command"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
)

func newRunStage1Command() *cobra.Command {
	return &cobra.Command{
		Use:   "run-stage-1 <episode-id>",
		Short: "Run planning, scripting, metadata, stopping at script_review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := episodeIDArg(args)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *command.Service, dc dbctx.Context) error {
				job, err := svc.RunStage1(dc, episodeID)
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}
}

func newRunFullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run-full <episode-id>",
		Short: "Run every canonical stage end to end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := episodeIDArg(args)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *command.Service, dc dbctx.Context) error {
				job, err := svc.RunFull(dc, episodeID)
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}
}

func newRunFromStageCommand() *cobra.Command {
	var start string
	var skip []string
	cmd := &cobra.Command{
		Use:   "run-from-stage <episode-id>",
		Short: "Run the canonical chain starting at a given stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := episodeIDArg(args)
			if err != nil {
				return err
			}
			skipStages := make([]domain.StageName, len(skip))
			for i, s := range skip {
				skipStages[i] = domain.StageName(strings.TrimSpace(s))
			}
			return withService(cmd, func(svc *command.Service, dc dbctx.Context) error {
				job, err := svc.RunFromStage(dc, episodeID, domain.StageName(start), skipStages)
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "stage to start from")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "stages to skip within the remaining chain")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <episode-id>",
		Short: "Show episode status, pipeline_state, and active jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := episodeIDArg(args)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *command.Service, dc dbctx.Context) error {
				status, err := svc.PipelineStatus(dc, episodeID)
				if err != nil {
					return err
				}
				return printJSON(status)
			})
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <episode-id>",
		Short: "Cancel an episode and every active job belonging to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := episodeIDArg(args)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *command.Service, dc dbctx.Context) error {
				count, err := svc.Cancel(dc, episodeID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"status": "cancelled", "cancelled_job_count": count})
			})
		},
	}
}
