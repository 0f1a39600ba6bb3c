package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gnis/am"
	"github.com/teranos/gnis/connector"
	"github.com/teranos/gnis/connector/census"
	"github.com/teranos/gnis/connector/file"
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/logger"
	"github.com/teranos/gnis/pipeline"
	"github.com/teranos/gnis/runs"
)

// Connector kinds accepted by --source
const (
	SourceCensus = "census"
	SourceFile   = "file"
)

// IngestCmd runs one governed ingestion
var IngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch, validate and govern a batch of geographic records",
	Long: `Fetch records from a connector and run them through schema validation,
quality scoring and the Truth Governor. Accepted records are stamped as
approved; every run is saved to the run history.

Examples:
  gnis ingest --dataset dec/pl --geography 'place:*' --variables NAME,POP
  gnis ingest --source file --file places.ndjson
  gnis ingest --source file --file places.json --json`,
	RunE: runIngest,
}

var (
	ingestSource    string
	ingestFile      string
	ingestDataset   string
	ingestGeography string
	ingestVariables []string
	ingestYear      int
	ingestJSON      bool
	ingestNoSave    bool
)

func init() {
	IngestCmd.Flags().StringVar(&ingestSource, "source", SourceCensus, "Connector to fetch from: census, file")
	IngestCmd.Flags().StringVar(&ingestFile, "file", "", "Record file for --source file (JSON array, {\"data\": [...]} or NDJSON)")
	IngestCmd.Flags().StringVar(&ingestDataset, "dataset", "", "Census dataset, e.g. dec/pl")
	IngestCmd.Flags().StringVar(&ingestGeography, "geography", "place:*", "Census geography clause")
	IngestCmd.Flags().StringSliceVar(&ingestVariables, "variables", []string{"NAME", "POP", "INTPTLAT", "INTPTLON", "GEOID", "STATE"}, "Census variables to request")
	IngestCmd.Flags().IntVar(&ingestYear, "year", census.DefaultYear, "Census vintage")
	IngestCmd.Flags().BoolVarP(&ingestJSON, "json", "j", false, "Print the run result as JSON")
	IngestCmd.Flags().BoolVar(&ingestNoSave, "no-save", false, "Do not record the run in the run history")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, err := newConnector(cfg, ingestSource, ingestFile)
	if err != nil {
		return err
	}

	def, pol, err := loadDefinitions(cfg)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	sink, closeSink, err := auditSink(cfg, database)
	if err != nil {
		return err
	}
	defer closeSink()

	p, err := pipeline.New(pipeline.Config{
		Source:           cfg.Pipeline.Source,
		BatchSize:        cfg.Pipeline.BatchSize,
		Concurrency:      cfg.Pipeline.Concurrency,
		QualityThreshold: cfg.Pipeline.QualityThreshold,
	}, newValidator(def), newGovernor(pol, sink), sink)
	if err != nil {
		return err
	}

	// Ctrl-C stops the run at the next batch boundary.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res := p.Execute(ctx, conn, connector.Params{
		Dataset:   ingestDataset,
		Geography: ingestGeography,
		Variables: ingestVariables,
		Year:      ingestYear,
	})

	if !ingestNoSave {
		// A run already happened; failing to record it is not fatal.
		saveCtx := context.WithoutCancel(ctx)
		if err := runs.NewStore(database, logger.ComponentLogger("runs")).Save(saveCtx, res); err != nil {
			logger.Logger.Warnw("Failed to save run", logger.FieldRunID, res.RunID, logger.FieldError, err)
		}
	}

	if ingestJSON {
		err = writeJSON(cmd.OutOrStdout(), res)
	} else {
		err = printResult(cmd.OutOrStdout(), res)
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.Newf("run %s did not succeed", res.RunID)
	}
	return nil
}

// newConnector builds the connector selected by source.
func newConnector(cfg *am.Config, source, path string) (connector.Connector, error) {
	switch source {
	case SourceCensus:
		c, err := census.New(census.Config{
			APIURL:            cfg.Census.APIURL,
			APIKey:            cfg.Census.APIKey,
			Timeout:           cfg.Census.Timeout(),
			MaxRetries:        cfg.Census.MaxRetries,
			RequestsPerSecond: cfg.Census.RequestsPerSecond,
			AllowPrivateHosts: cfg.Census.AllowPrivateHosts,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case SourceFile:
		if path == "" {
			return nil, errors.WithHint(errors.NewInvalidRequestError("--source file needs a path"), "pass --file <records.json>")
		}
		return file.New(path, logger.ComponentLogger("connector.file")), nil
	default:
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("unknown source %q", source),
			"use --source census or --source file",
		)
	}
}

// printResult renders a run summary followed by its errors.
func printResult(w io.Writer, res *pipeline.Result) error {
	summary := pterm.TableData{
		{"Run", res.RunID},
		{"Source", res.Source},
		{"Success", strconv.FormatBool(res.Success)},
		{"Processed", strconv.Itoa(res.RecordsProcessed)},
		{"Accepted", strconv.Itoa(res.RecordsAccepted)},
		{"Rejected", strconv.Itoa(res.RecordsRejected)},
		{"Average quality", fmt.Sprintf("%.3f", res.AverageQuality)},
		{"Duration", fmt.Sprintf("%dms", res.DurationMS)},
	}
	out, err := pterm.DefaultTable.WithData(summary).Srender()
	if err != nil {
		return errors.Wrap(err, "render run summary")
	}
	fmt.Fprintln(w, out)

	if len(res.Errors) == 0 {
		return nil
	}
	return printRunErrors(w, res.Errors)
}

func printRunErrors(w io.Writer, errs []pipeline.Error) error {
	data := pterm.TableData{{"Record", "Stage", "Code", "Error"}}
	for _, e := range errs {
		data = append(data, []string{e.RecordID, e.Stage, e.Code, e.Message})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render run errors")
	}
	fmt.Fprintln(w, out)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
