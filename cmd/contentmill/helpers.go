package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"contentmill/internal/pipeline"
	"contentmill/internal/report"
	"contentmill/internal/wiring"
)

// openApp wires the application from the loaded config. Callers must
// Close it.
func openApp(cmd *cobra.Command, opts ...wiring.Option) (*wiring.App, error) {
	app, err := wiring.Build(cmd.Context(), cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("wire app: %w", err)
	}
	return app, nil
}

func outputMode() report.Mode {
	return report.ParseMode(rootFlags.output)
}

// parseSeed turns key=value pairs into a seed. Values stay strings.
func parseSeed(pairs []string) (pipeline.Seed, error) {
	seed := make(pipeline.Seed, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("seed %q: want key=value", p)
		}
		seed[pipeline.Key(strings.TrimSpace(k))] = v
	}
	return seed, nil
}

// printProgress reports each finished step on stderr.
func printProgress(cmd *cobra.Command) pipeline.ProgressFunc {
	return func(p pipeline.Progress) error {
		mark := report.BoolMark(p.Result.Parsed)
		fmt.Fprintf(cmd.ErrOrStderr(), "  [phase %d] %-10s %s %s\n", p.Phase, p.Name, mark, report.FmtDuration(p.Result.Elapsed))
		return nil
	}
}
