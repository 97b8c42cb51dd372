package main

import (
	"github.com/spf13/cobra"

	"contentmill/internal/config"
	"contentmill/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	output      string
	storeDriver string
	storeDSN    string
	provider    string
	candidates  string
}

// cfg is loaded once per invocation before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "contentmill",
	Short: "Phased content pipeline with batch scheduling and ranking",
	Long: "contentmill scores topic candidates, runs each selected topic through a\n" +
		"phased generation pipeline under a bounded-concurrency scheduler, and\n" +
		"ranks the finished results.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Config file (default ./contentmill.yaml)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVarP(&rootFlags.output, "output", "o", "table", "Output format: table or markdown")
	pf.StringVar(&rootFlags.storeDriver, "store", "", "Store driver: memory, sqlite or postgres")
	pf.StringVar(&rootFlags.storeDSN, "dsn", "", "Store DSN (sqlite path or postgres URL)")
	pf.StringVar(&rootFlags.provider, "provider", "", "Generation backend: stub or gemini")
	pf.StringVar(&rootFlags.candidates, "candidates", "", "Candidate pool YAML file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

// loadConfig reads the config file and environment, then applies any flag
// that was set explicitly.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(rootFlags.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = rootFlags.logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = rootFlags.logFormat
	}
	if flags.Changed("store") {
		c.Store.Driver = rootFlags.storeDriver
	}
	if flags.Changed("dsn") {
		c.Store.DSN = rootFlags.storeDSN
	}
	if flags.Changed("provider") {
		c.Generation.Provider = rootFlags.provider
	}
	if flags.Changed("candidates") {
		c.Batch.Candidates = rootFlags.candidates
	}
	if err := c.Validate(); err != nil {
		return err
	}

	level, _ := logging.ParseLevel(c.Log.Level)
	logging.Init(level, c.Log.Format, cmd.ErrOrStderr())
	cfg = c
	return nil
}
