package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gnis/am"
	"github.com/teranos/gnis/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage gnis configuration",
	Long: `am: Manage gnis configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (GNIS_* prefix)
2. Project config (gnis.toml, searched upwards from the working directory)
3. User config (~/.gnis/gnis.toml)
4. System config (/etc/gnis/gnis.toml)
5. Default values

Examples:
  gnis am show                    # Show current configuration
  gnis am show --format yaml
  gnis am show --sources          # Show where each value came from
  gnis am get pipeline.batch_size
  gnis am validate
  gnis am init                    # Write ./gnis.toml with the defaults`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., census.api_url, pipeline.batch_size)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var (
	configFormat string
	showSources  bool
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, yaml")
	amShowCmd.Flags().BoolVar(&showSources, "sources", false, "Show the source of every setting")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Replace an existing file (previous versions are kept as .back1-3)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if showSources {
		data := pterm.TableData{{"Key", "Value", "Source", "From"}}
		for _, s := range am.Introspect() {
			data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
		}
		out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		if err != nil {
			return errors.Wrap(err, "render settings")
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}

	data, err := am.Marshal(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# gnis configuration\n%s", data)
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	for _, s := range am.Introspect() {
		if s.Key == args[0] {
			fmt.Fprintln(cmd.OutOrStdout(), s.Value)
			return nil
		}
	}
	return errors.WithHint(errors.NewNotFoundError("config key %s", args[0]), "list keys with 'gnis am show --sources'")
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := "gnis.toml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return errors.WithHint(errors.Newf("%s already exists", path), "pass --force to replace it")
	}
	if err := am.WriteFile(path, am.Defaults()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
