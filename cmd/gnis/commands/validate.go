package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gnis/audit"
	"github.com/teranos/gnis/connector/file"
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/governor"
	"github.com/teranos/gnis/policy"
	"github.com/teranos/gnis/record"
	"github.com/teranos/gnis/validation"
)

// ValidateCmd checks a record file against the schema without ingesting it
var ValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate records against the schema and score their quality",
	Long: `Run schema validation and quality scoring over a record file.
Nothing is approved or saved.

Examples:
  gnis validate places.json
  gnis validate places.ndjson --json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

// ReviewCmd runs the Truth Governor over a record file without ingesting it
var ReviewCmd = &cobra.Command{
	Use:   "review <file>",
	Short: "Review records against the governance policy",
	Long: `Run the Truth Governor over a record file and show each decision.
Nothing is approved, saved or audited.

Examples:
  gnis review places.json
  gnis review places.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

var (
	validateJSON bool
	reviewJSON   bool
)

func init() {
	ValidateCmd.Flags().BoolVarP(&validateJSON, "json", "j", false, "Print results as JSON")
	ReviewCmd.Flags().BoolVarP(&reviewJSON, "json", "j", false, "Print decisions as JSON")
}

// recordValidation pairs a record id with its validation result.
type recordValidation struct {
	RecordID string            `json:"recordId"`
	Result   validation.Result `json:"result"`
}

// recordReview pairs a record id with the governor's review.
type recordReview struct {
	RecordID        string                   `json:"recordId"`
	Review          governor.Review          `json:"review"`
	EscalationLevel governor.EscalationLevel `json:"escalationLevel"`
}

func readRecords(path string) ([]*record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("record file %s", path)
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	recs, err := file.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return recs, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	def, _, err := loadDefinitions(cfg)
	if err != nil {
		return err
	}
	recs, err := readRecords(args[0])
	if err != nil {
		return err
	}

	v := newValidator(def)
	results := make([]recordValidation, 0, len(recs))
	invalid := 0
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		res := v.Validate(rec)
		if !res.Valid {
			invalid++
		}
		results = append(results, recordValidation{RecordID: rec.ID, Result: res})
	}

	if validateJSON {
		err = writeJSON(cmd.OutOrStdout(), results)
	} else {
		err = printValidations(cmd.OutOrStdout(), results)
	}
	if err != nil {
		return err
	}
	if invalid > 0 {
		return errors.Newf("%d of %d records failed validation", invalid, len(results))
	}
	return nil
}

func printValidations(w io.Writer, results []recordValidation) error {
	data := pterm.TableData{{"Record", "Valid", "Quality", "Errors", "Warnings", "First error"}}
	for _, r := range results {
		first, _ := r.Result.FirstError()
		data = append(data, []string{
			r.RecordID,
			strconv.FormatBool(r.Result.Valid),
			fmt.Sprintf("%.3f", r.Result.Quality.Overall),
			strconv.Itoa(len(r.Result.Errors)),
			strconv.Itoa(len(r.Result.Warnings)),
			first,
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render validation results")
	}
	fmt.Fprintln(w, out)
	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, pol, err := loadDefinitions(cfg)
	if err != nil {
		return err
	}
	recs, err := readRecords(args[0])
	if err != nil {
		return err
	}

	g := newGovernor(pol, audit.Nop{})
	reviews := make([]recordReview, 0, len(recs))
	rejected := 0
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		review := g.Review(rec)
		if !review.Approved {
			rejected++
		}
		reviews = append(reviews, recordReview{
			RecordID:        rec.ID,
			Review:          review,
			EscalationLevel: g.EscalationLevel(review.Violations),
		})
	}

	if reviewJSON {
		err = writeJSON(cmd.OutOrStdout(), reviews)
	} else {
		err = printReviews(cmd.OutOrStdout(), reviews, pol)
	}
	if err != nil {
		return err
	}
	if rejected > 0 {
		return errors.Newf("%d of %d records rejected", rejected, len(reviews))
	}
	return nil
}

func printReviews(w io.Writer, reviews []recordReview, pol *policy.Policy) error {
	data := pterm.TableData{{"Record", "Decision", "Escalation", "Violations", "Warnings", "Reason"}}
	for _, r := range reviews {
		decision := governor.DecisionApproved
		if !r.Review.Approved {
			decision = governor.DecisionRejected
		}
		data = append(data, []string{
			r.RecordID,
			decision,
			string(r.EscalationLevel),
			strconv.Itoa(len(r.Review.Violations)),
			strconv.Itoa(len(r.Review.Warnings)),
			r.Review.Reason,
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render review decisions")
	}
	fmt.Fprintln(w, out)
	if th, ok := pol.Thresholds(policy.RuleQualityThreshold); ok {
		fmt.Fprintf(w, "Quality thresholds (%s): completeness >= %g, accuracy >= %g, consistency >= %g\n",
			policy.RuleQualityThreshold, th.Completeness, th.Accuracy, th.Consistency)
	}
	return nil
}
