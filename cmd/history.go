package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/collection-sync/internal/config"
	"github.com/JakeFAU/collection-sync/internal/ledger"
)

// newHistoryCmd creates the 'history' subcommand, which lists recorded runs from the ledger.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs recorded in the ledger",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCommand,
	}
	f := cmd.Flags()
	f.String("collection", "", "only runs of this collection")
	f.String("ledger", "", "SQLite run ledger path")
	f.IntP("limit", "n", 20, "number of runs to show")
	f.String("run", "", "show the stage transitions of one run")
	return cmd
}

func runHistoryCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadHistory(configPath(cmd), cmd.Flags())
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if runID, _ := cmd.Flags().GetString("run"); runID != "" {
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		stages, err := store.ListStages(ctx, runID)
		if err != nil {
			return err
		}
		return printStages(out, run, stages)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.ListRuns(ctx, cfg.Platform.CollectionID, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}
	return printRuns(out, runs)
}

func printRuns(w io.Writer, runs []ledger.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCOLLECTION\tSTARTED\tSTATUS\tFILES\tDOWNLOADED\tPAGES\tDURATION")
	for _, r := range runs {
		status := string(r.Status)
		if r.FailedStage != "" {
			status += " (" + r.FailedStage + ")"
		}
		if r.DryRun {
			status += " dry-run"
		}
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d (%s)\t%d\t%s\n",
			r.ID, r.CollectionID, r.StartedAt.Local().Format(time.DateTime), status,
			r.FilesListed, r.FilesDownloaded, humanize.Bytes(uint64(max(r.BytesDownloaded, 0))),
			r.PagesIndexed, duration)
	}
	return tw.Flush()
}

func printStages(w io.Writer, run ledger.Run, stages []ledger.StageEvent) error {
	fmt.Fprintf(w, "run %s  collection %s  status %s\n", run.ID, run.CollectionID, run.Status)
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "error: %s\n", run.ErrorMessage)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tSTAGE\tEVENT\tDURATION\tNOTE")
	for _, s := range stages {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.At.Local().Format(time.TimeOnly), s.Stage, s.Kind,
			(time.Duration(s.DurationMS) * time.Millisecond).String(), s.Note)
	}
	return tw.Flush()
}
