// Package validation implements the schema validator and quality scorer.
//
// Validation runs three stages on every record: a structural check against
// the canonical schema, the business rules, and quality scoring. Stages never
// short-circuit; a record with schema problems still gets its business rules
// evaluated and a quality score.
package validation

import (
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gnis/logger"
	"github.com/teranos/gnis/record"
	"github.com/teranos/gnis/rules"
	"github.com/teranos/gnis/schema"
)

// MinOverallQuality is the overall score a record needs to be valid.
const MinOverallQuality = 0.90

// RuleSchema tags errors from the structural check.
const RuleSchema = "SCHEMA"

// rootField labels structural errors at the document root.
const rootField = "root"

// Error is a blocking validation finding.
type Error struct {
	Field    string         `json:"field"`
	Message  string         `json:"message"`
	Severity rules.Severity `json:"severity"`
	Rule     string         `json:"rule"`
}

// Warning is a non-blocking validation finding.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Rule    string `json:"rule"`
}

// Result is the outcome of validating one record.
type Result struct {
	Valid    bool      `json:"valid"`
	Errors   []Error   `json:"errors"`
	Warnings []Warning `json:"warnings"`
	Quality  Metrics   `json:"qualityMetrics"`
}

// Validator checks records against a schema definition. It never mutates the
// records it validates and is safe for concurrent use.
type Validator struct {
	def    *schema.Definition
	scorer Scorer
	now    func() time.Time
	logger *zap.SugaredLogger
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock sets the clock used by rules that compare against the current time.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the validator's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(v *Validator) { v.logger = l }
}

// New creates a Validator. A nil definition means the built-in schema.
func New(def *schema.Definition, opts ...Option) *Validator {
	if def == nil {
		def = schema.Default()
	}
	v := &Validator{def: def, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = logger.OrNop(v.logger)
	return v
}

// Validate runs all three stages on rec.
func (v *Validator) Validate(rec *record.Record) Result {
	var (
		errs     []Error
		warnings []Warning
	)

	for _, issue := range v.def.Schema.Check(rec.Document()) {
		field := issue.Path
		if field == "" {
			field = rootField
		}
		errs = append(errs, Error{
			Field:    field,
			Message:  issue.Message,
			Severity: rules.SeverityCritical,
			Rule:     RuleSchema,
		})
	}

	for _, f := range v.def.Rules.Evaluate(rec, rules.Env{Now: v.now()}) {
		if f.Severity.Blocking() {
			errs = append(errs, Error{Field: f.Field, Message: f.Message, Severity: f.Severity, Rule: f.RuleID})
		} else {
			warnings = append(warnings, Warning{Field: f.Field, Message: f.Message, Rule: f.RuleID})
		}
	}

	quality := v.scorer.Score(rec, errs, warnings)
	result := Result{
		Valid:    len(errs) == 0 && quality.Overall >= MinOverallQuality,
		Errors:   errs,
		Warnings: warnings,
		Quality:  quality,
	}

	v.logger.Debugw("Record validated",
		logger.FieldRecordID, rec.ID,
		"valid", result.Valid,
		"errors", len(errs),
		"warnings", len(warnings),
		"overall", quality.Overall,
	)
	return result
}

// FirstError returns the message of the first error, if any.
func (r Result) FirstError() (string, bool) {
	if len(r.Errors) == 0 {
		return "", false
	}
	return r.Errors[0].Message, true
}
