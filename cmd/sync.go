package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/config"
	"github.com/JakeFAU/collection-sync/internal/pipeline"
)

const closeTimeout = 15 * time.Second

// newSyncCmd creates the 'sync' subcommand, which runs the pipeline once for one collection.
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize a collection and assemble its container",
		Long: `Runs the full pipeline for one collection: access check, listing, crawl and title
enrichment, local reconciliation, downloads, page index and container assembly.
With --dry-run it stops after the first checksum pass and only reports what would change.`,
		Args: cobra.NoArgs,
		RunE: runSyncCommand,
	}
	f := cmd.Flags()
	f.String("collection", "", "Archive-It collection id")
	f.String("username", "", "Archive-It account name")
	f.String("password", "", "Archive-It password")
	f.StringP("output", "o", "", "directory holding the working directory and the container")
	f.Int("concurrency", 0, "maximum in-flight platform requests per batch")
	f.Bool("dry-run", false, "report deletions and downloads without performing them")
	f.String("signing-url", "", "signing service handed to the container tool")
	f.String("ledger", "", "SQLite run ledger path")
	return cmd
}

func runSyncCommand(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := config.Load(configPath(cmd), cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	appInstance, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := appInstance.Close(closeCtx); cerr != nil {
			logger.Warn("Error shutting down application services", zap.Error(cerr))
		}
	}()

	res, err := appInstance.Sync(ctx)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), res)
	if !res.Success {
		return errRunFailed
	}
	return nil
}

func printSummary(w io.Writer, res pipeline.Result) {
	status := "ok"
	switch {
	case !res.Success:
		status = "FAILED at " + string(res.FailedStage)
	case res.DryRun:
		status = "dry run"
	}
	fmt.Fprintf(w, "collection %s: %s\n", res.CollectionID, status)
	fmt.Fprintf(w, "  run        %s\n", res.RunID)
	fmt.Fprintf(w, "  files      %d listed, %d valid, %d missing, %d corrupted\n",
		res.FilesListed, res.FilesValid, res.FilesMissing, res.FilesCorrupted)
	if res.DryRun {
		fmt.Fprintf(w, "  would del  %d\n", res.FilesDeleted)
		fmt.Fprintf(w, "  would get  %d\n", res.FilesMissing)
	} else {
		fmt.Fprintf(w, "  deleted    %d\n", res.FilesDeleted)
		fmt.Fprintf(w, "  downloaded %d (%s), %d failed\n",
			res.FilesDownloaded, humanize.Bytes(uint64(max(res.BytesDownloaded, 0))), res.FilesFailed)
	}
	if res.PagesIndexed > 0 {
		fmt.Fprintf(w, "  pages      %d\n", res.PagesIndexed)
	}
	if res.ContainerPath != "" {
		fmt.Fprintf(w, "  container  %s\n", res.ContainerPath)
	}
	if len(res.Degraded) > 0 {
		names := make([]string, 0, len(res.Degraded))
		for _, s := range res.Degraded {
			names = append(names, string(s))
		}
		fmt.Fprintf(w, "  degraded   %s\n", strings.Join(names, ", "))
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  error      %v\n", res.Err)
	}
	fmt.Fprintf(w, "  elapsed    %s\n", res.Finished.Sub(res.Started).Round(time.Millisecond))
}
