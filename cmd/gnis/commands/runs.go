package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gnis/audit"
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/logger"
	"github.com/teranos/gnis/runs"
)

// RunsCmd inspects the run history
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past ingestion runs",
	Long: `List and inspect ingestion runs saved by 'gnis ingest'.

Examples:
  gnis runs ls                    # Most recent runs
  gnis runs ls --limit 5
  gnis runs show <run-id>         # Counters and errors of one run
  gnis runs show <run-id> --events  # Audit events (audit.sink = sqlite)`,
}

var runsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent runs",
	RunE:  runRunsLs,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsLimit      int
	runsJSON       bool
	runsShowEvents bool
)

func init() {
	runsLsCmd.Flags().IntVar(&runsLimit, "limit", runs.DefaultListLimit, "Number of runs to show")
	RunsCmd.PersistentFlags().BoolVarP(&runsJSON, "json", "j", false, "Output as JSON")
	runsShowCmd.Flags().BoolVar(&runsShowEvents, "events", false, "Include audit events recorded in the database")

	RunsCmd.AddCommand(runsLsCmd)
	RunsCmd.AddCommand(runsShowCmd)
}

func runRunsLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	list, err := runs.NewStore(database, logger.ComponentLogger("runs")).List(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}

	if runsJSON {
		return writeJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
		return nil
	}

	data := pterm.TableData{{"Run", "Started", "Source", "Success", "Processed", "Accepted", "Rejected", "Quality"}}
	for _, r := range list {
		data = append(data, []string{
			r.RunID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Source,
			strconv.FormatBool(r.Success),
			strconv.Itoa(r.RecordsProcessed),
			strconv.Itoa(r.RecordsAccepted),
			strconv.Itoa(r.RecordsRejected),
			fmt.Sprintf("%.3f", r.AverageQuality),
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render runs")
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	res, err := runs.NewStore(database, logger.ComponentLogger("runs")).Get(cmd.Context(), args[0])
	if err != nil {
		return errors.WithHint(err, "list run ids with 'gnis runs ls'")
	}

	var events []audit.Entry
	if runsShowEvents {
		events, err = audit.NewSQLSink(database, logger.ComponentLogger("audit")).ListByRun(cmd.Context(), res.RunID)
		if err != nil {
			return err
		}
	}

	if runsJSON {
		return writeJSON(cmd.OutOrStdout(), struct {
			Run    any           `json:"run"`
			Events []audit.Entry `json:"events,omitempty"`
		}{res, events})
	}

	if err := printResult(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if runsShowEvents {
		return printEvents(cmd.OutOrStdout(), events)
	}
	return nil
}

func printEvents(w io.Writer, events []audit.Entry) error {
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit events recorded for this run")
		return nil
	}
	data := pterm.TableData{{"Time", "Event"}}
	for _, e := range events {
		data = append(data, []string{e.Time.Local().Format(time.DateTime), e.Event})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render audit events")
	}
	fmt.Fprintln(w, out)
	return nil
}
