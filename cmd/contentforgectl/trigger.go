package main

import (
	"github.com/spf13/cobra"

	"github.com/ataxco/contentforge/internal/command"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
)

func newTriggerCommand() *cobra.Command {
	var stage string
	var force bool
	cmd := &cobra.Command{
		Use:   "trigger <episode-id>",
		Short: "Dispatch a single stage as a standalone job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := episodeIDArg(args)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *command.Service, dc dbctx.Context) error {
				job, err := svc.Trigger(dc, episodeID, domain.StageName(stage), force)
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage to run (planning, scripting, metadata, audio, avatar, broll)")
	cmd.Flags().BoolVar(&force, "force", false, "re-run a stage the episode has already completed")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func newAdvanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <episode-id>",
		Short: "Dispatch whatever stage is next for the episode's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := episodeIDArg(args)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *command.Service, dc dbctx.Context) error {
				job, err := svc.Advance(dc, episodeID)
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}
}
