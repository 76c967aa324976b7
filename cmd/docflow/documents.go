package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/docflow/internal/persistence"
	"github.com/aristath/docflow/internal/quality"
)

func (a *app) documentsCmd() *cobra.Command {
	var (
		show  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "documents [run-id]",
		Short: "List stored runs, or the documents of one run",
		Long: `Without arguments, list the most recent runs. With a run ID, list the
documents it produced with their quality scores; --show prints one of them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store, err := persistence.NewSQLiteStore(cmd.Context(), cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			switch {
			case len(args) == 0:
				return listRuns(cmd.Context(), out, store, limit)
			case show != "":
				doc, err := store.GetDocument(cmd.Context(), args[0], show)
				if err != nil {
					return fmt.Errorf("document %s of run %s: %w", show, args[0], err)
				}
				fmt.Fprintln(out, doc.Content)
				return nil
			default:
				return listDocuments(cmd.Context(), out, store, args[0])
			}
		},
	}

	cmd.Flags().StringVar(&show, "show", "", "print the content of this document")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	return cmd
}

func listRuns(ctx context.Context, out io.Writer, store persistence.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATE\tSTARTED\tIDEA")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.State, r.CreatedAt.Local().Format(time.DateTime), truncate(r.Idea, 50))
	}
	return tw.Flush()
}

func listDocuments(ctx context.Context, out io.Writer, store persistence.Store, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	docs, err := store.ListDocuments(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %s (%s): %s\n", run.ID, run.State, run.Idea)
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tPHASE\tSTATUS\tATTEMPTS\tSCORE\tWORDS")
	for _, d := range docs {
		score := "-"
		if n := len(d.Assessments); n > 0 {
			last := d.Assessments[n-1]
			score = fmt.Sprintf("%.1f/%.0f", last.Score, last.Threshold)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\n", d.TaskID, d.Phase, d.Status, d.Attempts, score, quality.CountWords(d.Content))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
