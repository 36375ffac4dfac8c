package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ataxco/contentforge/internal/app"
	"github.com/ataxco/contentforge/internal/command"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
)

// withService opens a command-only app handle, runs fn, then closes the
// database connection it opened.
func withService(cmd *cobra.Command, fn func(*command.Service, dbctx.Context) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	svc, gdb, err := app.NewCommandOnly(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, closeErr := gdb.DB(); closeErr == nil {
			_ = sqlDB.Close()
		}
	}()
	return fn(svc, dbctx.New(context.Background()))
}

func episodeIDArg(args []string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.UUID{}, fmt.Errorf("expected exactly one episode id argument")
	}
	return uuid.Parse(args[0])
}

func jobIDArg(args []string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.UUID{}, fmt.Errorf("expected exactly one job id argument")
	}
	return uuid.Parse(args[0])
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
