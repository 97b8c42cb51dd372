package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"contentmill/internal/report"
)

var rankFlags struct {
	batchID string
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank the completed runs of a stored batch",
	RunE:  runRank,
}

func init() {
	rankCmd.Flags().StringVar(&rankFlags.batchID, "batch-id", "", "Stored batch ID (required)")
	_ = rankCmd.MarkFlagRequired("batch-id")
}

func runRank(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Service.RankStored(cmd.Context(), rankFlags.batchID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.Ranking(outputMode(), res))
	return nil
}
