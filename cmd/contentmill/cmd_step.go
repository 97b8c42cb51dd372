package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"contentmill/internal/report"
)

var stepFlags struct {
	runID  string
	stepID int
	seed   []string
}

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Re-run one step of a stored run",
	Long: `Loads a recorded run from the store and executes a single step against
its state. Extra --seed values are merged first, so a later step can be
re-entered with inputs the original run did not have.`,
	RunE: runStep,
}

func init() {
	f := stepCmd.Flags()
	f.StringVar(&stepFlags.runID, "run-id", "", "Stored run ID (required)")
	f.IntVar(&stepFlags.stepID, "step", 0, "Step ID to execute (required)")
	f.StringArrayVar(&stepFlags.seed, "seed", nil, "Extra seed value as key=value (repeatable)")

	_ = stepCmd.MarkFlagRequired("run-id")
	_ = stepCmd.MarkFlagRequired("step")
}

func runStep(cmd *cobra.Command, _ []string) error {
	seed, err := parseSeed(stepFlags.seed)
	if err != nil {
		return err
	}
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	run, _, err := app.Orchestrator.Resume(cmd.Context(), stepFlags.runID, stepFlags.stepID, seed, printProgress(cmd))
	if err != nil {
		return fmt.Errorf("step %d of %s: %w", stepFlags.stepID, stepFlags.runID, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.Run(outputMode(), run))
	return nil
}
