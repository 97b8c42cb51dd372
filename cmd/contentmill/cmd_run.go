package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"contentmill/internal/report"
)

var runFlags struct {
	topic string
	seed  []string
	usage bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every pipeline phase for one seed",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.topic, "topic", "", "Topic to seed the run with")
	f.StringArrayVar(&runFlags.seed, "seed", nil, "Extra seed value as key=value (repeatable)")
	f.BoolVar(&runFlags.usage, "usage", false, "Print generation usage after the run")
}

func runRun(cmd *cobra.Command, _ []string) error {
	seed, err := parseSeed(runFlags.seed)
	if err != nil {
		return err
	}
	if runFlags.topic != "" {
		seed["topic"] = runFlags.topic
	}

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	run, _, runErr := app.Orchestrator.RunAll(cmd.Context(), seed, printProgress(cmd))
	out := cmd.OutOrStdout()
	if run != nil {
		fmt.Fprintln(out, report.Run(outputMode(), run))
	}
	if runFlags.usage {
		fmt.Fprintln(out, report.Usage(outputMode(), app.Usage.Summary()))
	}
	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}
