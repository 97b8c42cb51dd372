package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"contentmill/internal/catalog"
	"contentmill/internal/report"
)

var catalogFlags struct {
	path string
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print and validate the step catalog",
	RunE:  runCatalog,
}

func init() {
	catalogCmd.Flags().StringVar(&catalogFlags.path, "path", "", "Catalog YAML (default: config catalog.path, then the built-in catalog)")
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	path := catalogFlags.path
	if path == "" {
		path = cfg.Catalog.Path
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return err
	}
	if err := cat.Validate(); err != nil {
		return fmt.Errorf("catalog %q invalid: %w", cat.Name, err)
	}

	t := report.NewTable(outputMode()).Title(fmt.Sprintf("Catalog %s (seed: %s)", cat.Name, joinKeys(cat.Seed)))
	t.Header("ID", "Phase", "Step", "Requires", "Produces")
	t.Columns(report.Column{Number: 1, Align: report.AlignRight}, report.Column{Number: 2, Align: report.AlignRight})
	for _, s := range cat.Steps {
		t.Row(s.ID, s.Phase, s.Name, joinKeys(s.Requires), joinKeys(s.Produces))
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.String())
	return nil
}

func joinKeys[K ~string](keys []K) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
