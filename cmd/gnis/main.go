package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/gnis/am"
	"github.com/teranos/gnis/cmd/gnis/commands"
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gnis",
	Short: "gnis - Governed geographic data ingestion",
	Long: `gnis - Governed ingestion of geographic place records.

Records are fetched from a connector, validated against the canonical schema,
scored for quality and reviewed by the Truth Governor before they are accepted.

Available commands:
  ingest   - Run an ingestion
  validate - Validate a record file
  review   - Review a record file against the governance policy
  runs     - Inspect past runs
  am       - Manage gnis configuration ("I am")
  version  - Show build information

Examples:
  gnis ingest --dataset dec/pl     # Ingest census places
  gnis validate places.json        # Check a file without ingesting it
  gnis runs ls                     # Recent runs
  gnis am show                     # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		level := logger.VerbosityToLevel(verbosity)
		if verbosity == 0 {
			level = logger.LevelFromEnv(level)
		}

		// A broken config must still let 'am validate' report on it.
		jsonLogs := false
		if cfg, err := am.Load(); err == nil {
			jsonLogs = cfg.Log.JSON
		}
		if err := logger.InitializeWithLevel(jsonLogs, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.ValidateCmd)
	rootCmd.AddCommand(commands.ReviewCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
