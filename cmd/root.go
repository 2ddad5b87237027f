// Package cmd defines and implements the CLI commands for the collsync executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/app"
	"github.com/JakeFAU/collection-sync/internal/config"
	"github.com/JakeFAU/collection-sync/internal/logging"
)

// errRunFailed marks a sync that completed with Success=false; the run has already been logged.
var errRunFailed = errors.New("sync run failed")

// newApp is the application factory. It's a variable so tests can inject filesystem and runner
// fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collsync",
		Short: "Mirror an Archive-It collection and package it as a WACZ container.",
		Long: `collsync keeps a local copy of an Archive-It collection in step with the platform.
It lists the collection's WARC files, removes local files the platform no longer lists,
downloads missing or corrupted files, resolves page titles and assembles a WACZ container
with a page index.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (YAML); environment variables use the COLLSYNC_ prefix")
	cmd.PersistentFlags().Bool("debug", false, "development logging with debug detail")

	cmd.AddCommand(newSyncCmd(), newHistoryCmd())
	return cmd
}

func configPath(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return ""
	}
	return path
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.NewWithOptions(logging.Options{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context, which stops the
// sync from starting new work.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	if !errors.Is(err, errRunFailed) {
		fmt.Fprintf(os.Stderr, "collsync: %v\n", err)
	}
	os.Exit(1)
}
