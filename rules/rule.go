// Package rules models validation and governance rules as tagged variants.
//
// A Rule is plain data: a Kind from a closed set plus the parameters that kind
// reads. Rule documents are decoded into []Rule, compiled once into an
// immutable Set and evaluated against records. Business rules of the schema
// validator and the policy rules of the governor share this representation.
package rules

import "github.com/teranos/gnis/errors"

// Kind selects the check a rule performs.
type Kind string

const (
	// KindRange flags a numeric field outside [Min, Max]. Either bound may be omitted.
	KindRange Kind = "range"
	// KindOrder flags Fields[0] being later than Fields[1]. Both timestamps must parse.
	KindOrder Kind = "order"
	// KindNotFuture flags any of Fields holding a timestamp after the evaluation time.
	KindNotFuture Kind = "not_future"
	// KindNotExceeding flags Fields[0] greater than Fields[1] when both are non-zero.
	KindNotExceeding Kind = "not_exceeding"
	// KindFlagRequired flags a boolean field that is absent or false.
	KindFlagRequired Kind = "flag_required"
	// KindFlagForbidden flags a boolean field that is true.
	KindFlagForbidden Kind = "flag_forbidden"
	// KindEquals flags a text field equal to Value.
	KindEquals Kind = "equals"
	// KindKeywords flags the serialized record containing any of Keywords,
	// case-insensitively, unless the Exempt flag is set.
	KindKeywords Kind = "keywords"
	// KindPatterns flags the lowercased serialized record matching any of Patterns.
	KindPatterns Kind = "patterns"
	// KindRequired flags any of Fields being empty.
	KindRequired Kind = "required"
	// KindQualityThreshold flags quality metrics below Thresholds when the
	// record carries a quality block.
	KindQualityThreshold Kind = "quality_threshold"
	// KindCoordinateBounds flags coordinates outside the valid lat/lon ranges.
	KindCoordinateBounds Kind = "coordinate_bounds"
	// KindRegion flags a text field whose value is one of Values, unless the
	// Exempt flag is set.
	KindRegion Kind = "region"
)

var kinds = map[Kind]struct{}{
	KindRange: {}, KindOrder: {}, KindNotFuture: {}, KindNotExceeding: {},
	KindFlagRequired: {}, KindFlagForbidden: {}, KindEquals: {}, KindKeywords: {},
	KindPatterns: {}, KindRequired: {}, KindQualityThreshold: {},
	KindCoordinateBounds: {}, KindRegion: {},
}

// Severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
)

// ParseSeverity validates a severity name.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeverityCritical, SeverityHigh, SeverityError, SeverityWarning:
		return sev, nil
	}
	return "", errors.Newf("unknown severity %q", s)
}

// Blocking reports whether a finding of this severity counts as an error
// rather than a warning.
func (s Severity) Blocking() bool {
	return s != SeverityWarning
}

// Thresholds are the minimum quality metrics a record may declare.
type Thresholds struct {
	Completeness float64 `json:"completeness" yaml:"completeness" toml:"completeness"`
	Accuracy     float64 `json:"accuracy" yaml:"accuracy" toml:"accuracy"`
	Consistency  float64 `json:"consistency" yaml:"consistency" toml:"consistency"`
}

// Rule is one rule definition as it appears in a schema or policy document.
type Rule struct {
	ID       string   `json:"id" yaml:"id" toml:"id"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Kind     Kind     `json:"kind" yaml:"kind" toml:"kind"`
	Severity Severity `json:"severity" yaml:"severity" toml:"severity"`
	Message  string   `json:"message" yaml:"message" toml:"message"`

	// Field overrides the field label reported in findings.
	Field  string   `json:"field,omitempty" yaml:"field,omitempty" toml:"field,omitempty"`
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty" toml:"fields,omitempty"`
	Exempt string   `json:"exempt,omitempty" yaml:"exempt,omitempty" toml:"exempt,omitempty"`

	Min        *float64    `json:"min,omitempty" yaml:"min,omitempty" toml:"min,omitempty"`
	Max        *float64    `json:"max,omitempty" yaml:"max,omitempty" toml:"max,omitempty"`
	Value      string      `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
	Values     []string    `json:"values,omitempty" yaml:"values,omitempty" toml:"values,omitempty"`
	Keywords   []string    `json:"keywords,omitempty" yaml:"keywords,omitempty" toml:"keywords,omitempty"`
	Patterns   []string    `json:"patterns,omitempty" yaml:"patterns,omitempty" toml:"patterns,omitempty"`
	Thresholds *Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty" toml:"thresholds,omitempty"`
}

// Finding is the outcome of one rule firing on one record.
type Finding struct {
	RuleID   string   `json:"ruleId"`
	Name     string   `json:"rule,omitempty"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}
