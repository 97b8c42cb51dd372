package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"contentmill/internal/batch"
	"contentmill/internal/report"
	"contentmill/internal/scoring"
)

var batchFlags struct {
	batchID     string
	target      int
	strategy    string
	concurrency int
	mode        string
	dryRun      bool
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Score candidates, run the top ones concurrently, and rank the results",
	Long: `Scores the candidate pool, selects the top --target candidates under
--strategy, and runs the pipeline for each with at most --concurrency runs in
flight. Individual failures do not stop the batch; the outcome is completed,
partial or failed. Finished runs are ranked.

With --dry-run only the selection is printed.`,
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVar(&batchFlags.batchID, "batch-id", "", "Batch ID (default: generated)")
	f.IntVar(&batchFlags.target, "target", 0, "Number of candidates to run (default from config)")
	f.StringVar(&batchFlags.strategy, "strategy", "", "Selection strategy: balanced, prefer-untapped, prefer-trending")
	f.IntVar(&batchFlags.concurrency, "concurrency", 0, "Maximum concurrent runs (default from config)")
	f.StringVar(&batchFlags.mode, "mode", "", "Scheduling mode: chunked or saturating")
	f.BoolVar(&batchFlags.dryRun, "dry-run", false, "Print the selection without running it")
}

func runBatch(cmd *cobra.Command, _ []string) error {
	if batchFlags.concurrency > 0 {
		cfg.Batch.Concurrency = batchFlags.concurrency
	}
	if batchFlags.mode != "" {
		cfg.Batch.Mode = batchFlags.mode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	target := batchFlags.target
	if target <= 0 {
		target = cfg.Batch.TargetCount
	}
	strategy := scoring.Strategy(batchFlags.strategy)
	if strategy == "" {
		strategy = scoring.Strategy(cfg.Scoring.Strategy)
	}

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	out := cmd.OutOrStdout()
	mode := outputMode()

	if batchFlags.dryRun {
		selected, err := app.Service.Select(cmd.Context(), strategy, target)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, report.Candidates(mode, selected))
		return nil
	}

	rep, runErr := app.Service.Run(cmd.Context(), batch.Request{
		BatchID:     batchFlags.batchID,
		TargetCount: target,
		Strategy:    strategy,
	})
	if rep != nil {
		fmt.Fprintln(out, report.Candidates(mode, rep.Selected))
		fmt.Fprintln(out, report.Batch(mode, rep.Batch))
		if len(rep.Ranking.Items) > 0 {
			fmt.Fprintln(out, report.Ranking(mode, rep.Ranking))
		}
		fmt.Fprintln(out, report.Usage(mode, app.Usage.Summary()))
	}
	if runErr != nil {
		return runErr
	}
	if rep.Batch.Status == batch.StatusFailed {
		return fmt.Errorf("batch %s failed: %s", rep.Batch.ID, rep.Batch.Err)
	}
	return nil
}
